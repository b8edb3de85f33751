package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/d1nch8g/linecue/audio"
	"github.com/d1nch8g/linecue/config"
	"github.com/d1nch8g/linecue/decode"
	"github.com/d1nch8g/linecue/events"
	"github.com/d1nch8g/linecue/input"
	"github.com/d1nch8g/linecue/queue"
	"github.com/d1nch8g/linecue/router"
	"github.com/d1nch8g/linecue/sound"
)

// EngineConfig holds the configuration for the assembly line
type EngineConfig struct {
	SlotCount       int
	PlayPauseMode   string
	StopTimeout     time.Duration
	MaxStartRetries int
	TriggerBuffer   int
	ActiveHours     config.Hours
	AutoBindInput   bool
}

// Speaker renders spoken text into an audio file that can be queued.
type Speaker interface {
	Render(ctx context.Context, text string) (string, error)
}

// Engine owns the worker slots, their bindings and the input dispatch loop
type Engine struct {
	config  EngineConfig
	player  sound.Player
	decoder decode.Decoder
	outputs audio.DeviceLister
	inputs  input.Lister
	speaker Speaker
	bus     *events.Bus
	logger  *log.Logger
	now     func() time.Time

	router *router.Router
	slots  map[int]*slot

	isRunning    bool
	runningMutex sync.RWMutex
}

type slot struct {
	id         int
	controller *queue.Controller
	triggers   chan input.Key
}

// SlotStatus is the operator view of one slot.
type SlotStatus struct {
	ID    int    `json:"id"`
	Input string `json:"input,omitempty"`
	queue.Status
}

// Option customises an Engine.
type Option func(*Engine)

// WithOutputs validates output bindings against a device list.
func WithOutputs(lister audio.DeviceLister) Option {
	return func(e *Engine) { e.outputs = lister }
}

// WithInputs enables input device listing and name-based auto-binding.
func WithInputs(lister input.Lister) Option {
	return func(e *Engine) { e.inputs = lister }
}

// WithSpeaker enables spoken instructions.
func WithSpeaker(speaker Speaker) Option {
	return func(e *Engine) { e.speaker = speaker }
}

// WithBus publishes slot changes to bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock used by the active-hours gate.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with config.SlotCount slots numbered from 1.
func NewEngine(cfg EngineConfig, player sound.Player, decoder decode.Decoder, opts ...Option) *Engine {
	if cfg.SlotCount <= 0 {
		cfg.SlotCount = 3
	}
	if cfg.TriggerBuffer <= 0 {
		cfg.TriggerBuffer = 16
	}
	if cfg.PlayPauseMode == "" {
		cfg.PlayPauseMode = config.PlayPausePause
	}

	e := &Engine{
		config:  cfg,
		player:  player,
		decoder: decoder,
		logger:  log.Default(),
		now:     time.Now,
		router:  router.New(),
		slots:   make(map[int]*slot, cfg.SlotCount),
	}
	for _, opt := range opts {
		opt(e)
	}

	for id := 1; id <= cfg.SlotCount; id++ {
		e.slots[id] = &slot{
			id:       id,
			triggers: make(chan input.Key, cfg.TriggerBuffer),
			controller: queue.New(fmt.Sprintf("Slot %d", id), queue.Config{
				Player:          player,
				StopTimeout:     cfg.StopTimeout,
				MaxStartRetries: cfg.MaxStartRetries,
				Logger:          e.logger,
				OnChange:        func(ch queue.Change) { e.publishChange(id, ch) },
			}),
		}
	}

	return e
}

// Run listens for input events until ctx is cancelled. Each slot drains its
// own trigger queue, so a slow stop on one headset never delays another.
func (e *Engine) Run(ctx context.Context, in <-chan input.Event) error {
	e.runningMutex.Lock()
	if e.isRunning {
		e.runningMutex.Unlock()
		return ErrEngineRunning
	}
	e.isRunning = true
	e.runningMutex.Unlock()

	defer func() {
		e.runningMutex.Lock()
		e.isRunning = false
		e.runningMutex.Unlock()
	}()

	var wg sync.WaitGroup
	for _, s := range e.slots {
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			e.dispatch(ctx, s)
		}(s)
	}
	defer func() {
		wg.Wait()
		e.Close()
	}()

	e.logger.Printf("[Engine] assembly line started with %d slots", len(e.slots))

	for {
		select {
		case <-ctx.Done():
			e.logger.Println("[Engine] stopping due to context cancellation")
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				e.logger.Println("[Engine] input sources closed, slots remain controllable via force-advance")
				in = nil
				continue
			}
			e.HandleInputEvent(ev)
		}
	}
}

// IsRunning returns whether Run is active
func (e *Engine) IsRunning() bool {
	e.runningMutex.RLock()
	defer e.runningMutex.RUnlock()
	return e.isRunning
}

// HandleInputEvent routes a hardware press to its slot's trigger queue. It
// never blocks; it reports whether the event was queued.
func (e *Engine) HandleInputEvent(ev input.Event) bool {
	switch ev.Key {
	case input.KeyNext:
	case input.KeyPlayPause:
		if e.config.PlayPauseMode == config.PlayPauseIgnore {
			return false
		}
	default:
		return false
	}

	if !e.config.ActiveHours.Contains(e.now()) {
		e.logger.Printf("[Engine] input from %s ignored outside active hours %s", ev.DevicePath, e.config.ActiveHours)
		return false
	}

	id, ok := e.router.Route(ev.DevicePath)
	if !ok {
		return false
	}
	s := e.slots[id]

	select {
	case s.triggers <- ev.Key:
		e.bus.Publish(events.Event{Slot: id, Kind: events.KindTrigger, Message: ev.Key.String()})
		return true
	default:
		e.logger.Printf("[Engine] slot %d trigger queue full, dropping %s from %s", id, ev.Key, ev.DevicePath)
		e.bus.Publish(events.Event{Slot: id, Kind: events.KindTriggerDropped, Message: ev.Key.String()})
		return false
	}
}

func (e *Engine) dispatch(ctx context.Context, s *slot) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-s.triggers:
			e.apply(s, key)
		}
	}
}

func (e *Engine) apply(s *slot, key input.Key) {
	if key == input.KeyPlayPause && e.config.PlayPauseMode == config.PlayPausePause {
		if _, err := s.controller.TogglePause(); err != nil && !errors.Is(err, queue.ErrNotPlaying) {
			e.logger.Printf("[Engine] slot %d pause: %v", s.id, err)
		}
		return
	}
	if err := s.controller.Next(); err != nil {
		e.logger.Printf("[Engine] slot %d trigger: %v", s.id, err)
	}
}

// BindOutput binds a slot to an output device and returns the resolved
// device identity. Several slots may share a device.
func (e *Engine) BindOutput(slotID int, device string) (string, error) {
	s, err := e.slot(slotID)
	if err != nil {
		return "", err
	}

	device = strings.TrimSpace(device)
	name := device
	if e.outputs != nil {
		devices, err := e.outputs.OutputDevices()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		dev, err := audio.Resolve(devices, device)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		device, name = dev.ID, dev.Name
	}
	if device == "" {
		return "", fmt.Errorf("%w: empty device identity", ErrDeviceUnavailable)
	}

	s.controller.SetOutput(device)
	e.logger.Printf("[Engine] slot %d output -> %s", slotID, device)
	e.bus.Publish(events.Event{Slot: slotID, Kind: events.KindBinding, Reason: "output", Message: device})

	if e.config.AutoBindInput {
		e.autoBindInput(slotID, name)
	}
	return device, nil
}

// autoBindInput binds a HID device whose product name matches the output
// device name, unless the slot already has an input or the path is taken.
func (e *Engine) autoBindInput(slotID int, outputName string) {
	if e.inputs == nil {
		return
	}
	if _, ok := e.router.PathOf(slotID); ok {
		return
	}

	devices, err := e.inputs.Devices()
	if err != nil {
		e.logger.Printf("[Engine] auto-bind for slot %d: %v", slotID, err)
		return
	}
	dev, ok := input.MatchByName(devices, outputName)
	if !ok {
		e.logger.Printf("[Engine] no input device matches %q for slot %d", outputName, slotID)
		return
	}
	if owner, ok := e.router.BindIfFree(dev.Path, slotID); !ok {
		e.logger.Printf("[Engine] %s matches slot %d but slot %d holds a binding, leaving it", dev.Product, slotID, owner)
		return
	}
	e.logger.Printf("[Engine] auto-bound %s (%s) to slot %d", dev.Product, dev.Path, slotID)
	e.bus.Publish(events.Event{Slot: slotID, Kind: events.KindBinding, Reason: "input_auto", Message: dev.Path})
}

// BindInput binds a device path to a slot. If another slot owned the path it
// loses it and the returned Transfer describes the move.
func (e *Engine) BindInput(slotID int, path string) (*Transfer, error) {
	if _, err := e.slot(slotID); err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty input device path")
	}

	displaced, transferred := e.router.Bind(path, slotID)
	e.logger.Printf("[Engine] slot %d input -> %s", slotID, path)
	e.bus.Publish(events.Event{Slot: slotID, Kind: events.KindBinding, Reason: "input", Message: path})

	if !transferred {
		return nil, nil
	}

	t := &Transfer{Path: path, From: displaced, To: slotID}
	e.logger.Printf("[Engine] warning: %v", t.Warning())
	e.bus.Publish(events.Event{Slot: displaced, Kind: events.KindWarning, Reason: "input_transferred", Message: t.Warning().Error()})
	return t, nil
}

// UnbindInput clears a slot's input path and returns it.
func (e *Engine) UnbindInput(slotID int) (string, error) {
	if _, err := e.slot(slotID); err != nil {
		return "", err
	}
	path, _ := e.router.Unbind(slotID)
	if path != "" {
		e.bus.Publish(events.Event{Slot: slotID, Kind: events.KindBinding, Reason: "input_cleared", Message: path})
	}
	return path, nil
}

// AddInstruction appends an audio file to a slot's queue.
func (e *Engine) AddInstruction(slotID int, source string) (queue.Item, error) {
	return e.add(slotID, source, "")
}

// AddSpoken synthesizes text and appends the result to a slot's queue.
func (e *Engine) AddSpoken(ctx context.Context, slotID int, text string) (queue.Item, error) {
	if _, err := e.slot(slotID); err != nil {
		return queue.Item{}, err
	}
	if e.speaker == nil {
		return queue.Item{}, ErrSpeechUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return queue.Item{}, fmt.Errorf("%w: empty text", ErrInvalidSource)
	}

	path, err := e.speaker.Render(ctx, text)
	if err != nil {
		return queue.Item{}, fmt.Errorf("failed to synthesize instruction: %w", err)
	}
	return e.add(slotID, path, text)
}

func (e *Engine) add(slotID int, source, label string) (queue.Item, error) {
	s, err := e.slot(slotID)
	if err != nil {
		return queue.Item{}, err
	}
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}
	if err := e.decoder.Check(source); err != nil {
		return queue.Item{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return s.controller.Enqueue(source, label), nil
}

// ForceAdvance applies a trigger to the slot directly, without a device path.
func (e *Engine) ForceAdvance(slotID int) error {
	s, err := e.slot(slotID)
	if err != nil {
		return err
	}
	return s.controller.Next()
}

// Replay restarts the slot's current or last played item.
func (e *Engine) Replay(slotID int) error {
	s, err := e.slot(slotID)
	if err != nil {
		return err
	}
	return s.controller.Replay()
}

// TogglePause pauses or resumes the slot's playing item.
func (e *Engine) TogglePause(slotID int) (bool, error) {
	s, err := e.slot(slotID)
	if err != nil {
		return false, err
	}
	return s.controller.TogglePause()
}

// RemoveInstruction drops a not-yet-played item by its sequence number.
func (e *Engine) RemoveInstruction(slotID, seq int) (queue.Item, error) {
	s, err := e.slot(slotID)
	if err != nil {
		return queue.Item{}, err
	}
	return s.controller.Remove(seq)
}

func (e *Engine) Status(slotID int) (SlotStatus, error) {
	s, err := e.slot(slotID)
	if err != nil {
		return SlotStatus{}, err
	}
	path, _ := e.router.PathOf(slotID)
	return SlotStatus{ID: slotID, Input: path, Status: s.controller.Status()}, nil
}

// StatusAll returns every slot ordered by id.
func (e *Engine) StatusAll() []SlotStatus {
	out := make([]SlotStatus, 0, len(e.slots))
	for _, id := range e.SlotIDs() {
		st, _ := e.Status(id)
		out = append(out, st)
	}
	return out
}

func (e *Engine) SlotIDs() []int {
	ids := make([]int, 0, len(e.slots))
	for id := range e.slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// OutputDevices lists output devices, or nothing when no lister is configured.
func (e *Engine) OutputDevices() ([]audio.OutputDevice, error) {
	if e.outputs == nil {
		return nil, nil
	}
	return e.outputs.OutputDevices()
}

// InputDevices lists bindable input devices, or nothing when no lister is configured.
func (e *Engine) InputDevices() ([]input.DeviceInfo, error) {
	if e.inputs == nil {
		return nil, nil
	}
	return e.inputs.Devices()
}

// ApplyBindings binds preset outputs and inputs keyed by slot id.
func (e *Engine) ApplyBindings(outputs, inputs map[int]string) error {
	var errs []error
	for _, id := range e.SlotIDs() {
		if device, ok := outputs[id]; ok {
			if _, err := e.BindOutput(id, device); err != nil {
				errs = append(errs, fmt.Errorf("slot %d output: %w", id, err))
			}
		}
		if path, ok := inputs[id]; ok {
			if _, err := e.BindInput(id, path); err != nil {
				errs = append(errs, fmt.Errorf("slot %d input: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close stops playback on every slot.
func (e *Engine) Close() {
	for _, s := range e.slots {
		s.controller.Close()
	}
}

func (e *Engine) slot(id int) (*slot, error) {
	s, ok := e.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d (have 1-%d)", ErrInvalidSlot, id, len(e.slots))
	}
	return s, nil
}

func (e *Engine) publishChange(slotID int, ch queue.Change) {
	if e.bus == nil {
		return
	}

	st := ch.Status
	ev := events.Event{
		Slot:   slotID,
		Kind:   events.KindState,
		Reason: string(ch.Reason),
		State:  st.State.String(),
		Index:  st.Index,
		Item:   ch.Item,
		Status: &st,
	}
	if ch.Err != nil {
		ev.Kind = events.KindWarning
		ev.Message = ch.Err.Error()
	}
	e.bus.Publish(ev)
}
