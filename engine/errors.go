package engine

import (
	"errors"
	"fmt"

	"github.com/d1nch8g/linecue/sound"
)

var (
	ErrInvalidSlot   = errors.New("invalid slot")
	ErrInvalidSource = errors.New("invalid source")

	// ErrDeviceUnavailable is the sink error, re-exported for callers of the engine.
	ErrDeviceUnavailable = sound.ErrDeviceUnavailable

	// ErrDuplicateInputBinding is reported, never returned, when a bind moves
	// a path away from another slot.
	ErrDuplicateInputBinding = errors.New("input path already bound to another slot")

	ErrSpeechUnavailable = errors.New("speech synthesis is not configured")
	ErrEngineRunning     = errors.New("engine is already running")
)

// Transfer describes an input path that moved from one slot to another.
type Transfer struct {
	Path string `json:"path"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

// Warning returns the transfer as an ErrDuplicateInputBinding for operator output.
func (t *Transfer) Warning() error {
	return fmt.Errorf("%w: %s moved from slot %d to slot %d", ErrDuplicateInputBinding, t.Path, t.From, t.To)
}
