package input

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sstallion/go-hid"
)

// HIDConfig holds the polling parameters of the HID listener.
type HIDConfig struct {
	PollInterval time.Duration
	ReadTimeout  time.Duration
	Logger       *log.Logger
}

// HIDSource listens to every consumer-control HID device, picking up
// headsets as they connect and dropping them when reads fail.
type HIDSource struct {
	config HIDConfig
	logger *log.Logger

	mu   sync.Mutex
	open map[string]struct{}
	wg   sync.WaitGroup
}

var (
	_ Source = (*HIDSource)(nil)
	_ Lister = (*HIDSource)(nil)
)

func NewHIDSource(config HIDConfig) *HIDSource {
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &HIDSource{
		config: config,
		logger: logger,
		open:   make(map[string]struct{}),
	}
}

// Devices lists HID devices on the consumer usage page (or page 0, which some
// platforms report for composite headsets).
func (h *HIDSource) Devices() ([]DeviceInfo, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize hidapi: %w", err)
	}

	var devices []DeviceInfo
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if info.UsagePage != UsagePageConsumer && info.UsagePage != 0 {
			return nil
		}
		devices = append(devices, DeviceInfo{
			Path:         info.Path,
			Product:      info.ProductStr,
			Manufacturer: info.MfrStr,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			UsagePage:    info.UsagePage,
			Kind:         "hid",
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate HID devices: %w", err)
	}
	return devices, nil
}

func (h *HIDSource) Run(ctx context.Context, events chan<- Event) error {
	if err := hid.Init(); err != nil {
		return fmt.Errorf("failed to initialize hidapi: %w", err)
	}
	defer hid.Exit()

	ticker := time.NewTicker(h.config.PollInterval)
	defer ticker.Stop()

	h.scan(ctx, events)
	for {
		select {
		case <-ctx.Done():
			h.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			h.scan(ctx, events)
		}
	}
}

func (h *HIDSource) scan(ctx context.Context, events chan<- Event) {
	devices, err := h.Devices()
	if err != nil {
		h.logger.Printf("[HID] %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range devices {
		if _, ok := h.open[d.Path]; ok {
			continue
		}
		h.open[d.Path] = struct{}{}
		h.wg.Add(1)
		go h.listen(ctx, d, events)
	}
}

func (h *HIDSource) listen(ctx context.Context, info DeviceInfo, events chan<- Event) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		delete(h.open, info.Path)
		h.mu.Unlock()
	}()

	dev, err := hid.OpenPath(info.Path)
	if err != nil {
		h.logger.Printf("[HID] failed to open %s (%s): %v", info.Product, info.Path, err)
		return
	}
	defer dev.Close()

	h.logger.Printf("[HID] listening to %s (%s)", info.Product, info.Path)

	var detector pressDetector
	buf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := dev.ReadWithTimeout(buf, h.config.ReadTimeout)
		if errors.Is(err, hid.ErrTimeout) {
			continue
		}
		if err != nil {
			h.logger.Printf("[HID] lost %s (%s): %v", info.Product, info.Path, err)
			return
		}

		key, ok := detector.Feed(buf[:n])
		if !ok {
			continue
		}
		select {
		case events <- Event{DevicePath: info.Path, Key: key}:
		case <-ctx.Done():
			return
		}
	}
}
