package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PLAY_PAUSE_MODE values.
const (
	PlayPausePause  = "pause"
	PlayPauseNext   = "next"
	PlayPauseIgnore = "ignore"
)

type Config struct {
	SlotCount       int
	PlayPauseMode   string
	StopTimeout     time.Duration
	MaxStartRetries int
	TriggerBuffer   int
	ActiveHours     Hours
	AutoBindInput   bool

	HIDEnabled  bool
	MIDIEnabled bool
	// InputPollInterval paces HID and MIDI hot-plug rescans.
	InputPollInterval time.Duration

	FramesPerBuffer int

	APIAddr     string
	JournalPath string

	YandexAPIKey string
	FolderID     string
	TTSVoice     string
	TTSCacheDir  string

	// Preset bindings keyed by slot id, from SLOT_<n>_OUTPUT and SLOT_<n>_INPUT.
	Outputs map[int]string
	Inputs  map[int]string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		SlotCount:         3,
		PlayPauseMode:     PlayPausePause,
		StopTimeout:       2 * time.Second,
		MaxStartRetries:   3,
		TriggerBuffer:     16,
		AutoBindInput:     true,
		HIDEnabled:        true,
		InputPollInterval: 2 * time.Second,
		FramesPerBuffer:   1024,
		TTSVoice:          "marina",
		TTSCacheDir:       "tts-cache",
		Outputs:           make(map[int]string),
		Inputs:            make(map[int]string),
	}
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	cfg.SlotCount = p.int("SLOT_COUNT", cfg.SlotCount)
	cfg.PlayPauseMode = strings.ToLower(p.string("PLAY_PAUSE_MODE", cfg.PlayPauseMode))
	cfg.StopTimeout = p.duration("STOP_TIMEOUT", cfg.StopTimeout)
	cfg.MaxStartRetries = p.int("MAX_START_RETRIES", cfg.MaxStartRetries)
	cfg.TriggerBuffer = p.int("TRIGGER_BUFFER", cfg.TriggerBuffer)
	cfg.AutoBindInput = p.bool("AUTO_BIND_INPUT", cfg.AutoBindInput)
	cfg.HIDEnabled = p.bool("HID_ENABLED", cfg.HIDEnabled)
	cfg.InputPollInterval = p.duration("INPUT_POLL_INTERVAL", cfg.InputPollInterval)
	cfg.MIDIEnabled = p.bool("MIDI_ENABLED", cfg.MIDIEnabled)
	cfg.FramesPerBuffer = p.int("FRAMES_PER_BUFFER", cfg.FramesPerBuffer)
	cfg.APIAddr = p.string("API_ADDR", cfg.APIAddr)
	cfg.JournalPath = p.string("JOURNAL_PATH", cfg.JournalPath)
	cfg.YandexAPIKey = p.string("YANDEX_API_KEY", cfg.YandexAPIKey)
	cfg.FolderID = p.string("FOLDER_ID", cfg.FolderID)
	cfg.TTSVoice = p.string("TTS_VOICE", cfg.TTSVoice)
	cfg.TTSCacheDir = p.string("TTS_CACHE_DIR", cfg.TTSCacheDir)

	if v, ok := lookup("ACTIVE_HOURS"); ok && strings.TrimSpace(v) != "" {
		hours, err := ParseHours(v)
		if err != nil {
			p.errs = append(p.errs, err)
		}
		cfg.ActiveHours = hours
	}

	for slot := 1; slot <= cfg.SlotCount; slot++ {
		if v := p.string(fmt.Sprintf("SLOT_%d_OUTPUT", slot), ""); v != "" {
			cfg.Outputs[slot] = v
		}
		if v := p.string(fmt.Sprintf("SLOT_%d_INPUT", slot), ""); v != "" {
			cfg.Inputs[slot] = v
		}
	}

	switch cfg.PlayPauseMode {
	case PlayPausePause, PlayPauseNext, PlayPauseIgnore:
	default:
		p.errs = append(p.errs, fmt.Errorf("PLAY_PAUSE_MODE must be pause, next or ignore, got %q", cfg.PlayPauseMode))
	}
	for _, v := range []struct {
		key   string
		value int
	}{
		{"SLOT_COUNT", cfg.SlotCount},
		{"TRIGGER_BUFFER", cfg.TriggerBuffer},
		{"MAX_START_RETRIES", cfg.MaxStartRetries},
		{"FRAMES_PER_BUFFER", cfg.FramesPerBuffer},
	} {
		if v.value < 1 {
			p.errs = append(p.errs, fmt.Errorf("%s must be at least 1, got %d", v.key, v.value))
		}
	}
	for _, v := range []struct {
		key   string
		value time.Duration
	}{
		{"STOP_TIMEOUT", cfg.StopTimeout},
		{"INPUT_POLL_INTERVAL", cfg.InputPollInterval},
	} {
		if v.value <= 0 {
			p.errs = append(p.errs, fmt.Errorf("%s must be positive, got %s", v.key, v.value))
		}
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Hours is a daily window [From, To) in whole hours. The zero value is
// "always active".
type Hours struct {
	From int
	To   int
}

func (h Hours) Enabled() bool {
	return h != Hours{}
}

// Contains reports whether t falls inside the window. Windows may wrap
// midnight (e.g. 22-06).
func (h Hours) Contains(t time.Time) bool {
	if !h.Enabled() {
		return true
	}
	hour := t.Hour()
	if h.From <= h.To {
		return hour >= h.From && hour < h.To
	}
	return hour >= h.From || hour < h.To
}

func (h Hours) String() string {
	if !h.Enabled() {
		return "always"
	}
	return fmt.Sprintf("%02d-%02d", h.From, h.To)
}

// ParseHours parses "HH-HH".
func ParseHours(s string) (Hours, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Hours{}, fmt.Errorf("ACTIVE_HOURS must look like 08-20, got %q", s)
	}
	f, err1 := strconv.Atoi(strings.TrimSpace(from))
	t, err2 := strconv.Atoi(strings.TrimSpace(to))
	if err1 != nil || err2 != nil || f < 0 || f > 23 || t < 0 || t > 24 || f == t {
		return Hours{}, fmt.Errorf("ACTIVE_HOURS must look like 08-20, got %q", s)
	}
	return Hours{From: f, To: t}, nil
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) string(key, def string) string {
	if v, ok := p.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := p.string(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := p.string(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.string(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
