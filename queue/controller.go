package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d1nch8g/linecue/sound"
)

var (
	// ErrRetriesExhausted wraps start failures once the same item failed MaxStartRetries times.
	ErrRetriesExhausted = errors.New("start retries exhausted")

	ErrNotPlaying     = errors.New("nothing is playing")
	ErrNothingPlayed  = errors.New("nothing has been played yet")
	ErrItemNotFound   = errors.New("item not found")
	ErrAlreadyPlayed  = errors.New("item already played")
	ErrOutputNotBound = errors.New("no output device bound")
)

// Config holds the collaborators and limits of a controller.
type Config struct {
	Player          sound.Player
	StopTimeout     time.Duration
	MaxStartRetries int
	Logger          *log.Logger

	// OnChange is called with the controller lock held; it must not block or
	// call back into the controller.
	OnChange func(Change)
}

// Controller drives one worker's queue: play one item, stop, wait for the
// next trigger. All methods are safe for concurrent use.
type Controller struct {
	name   string
	config Config
	logger *log.Logger

	mu       sync.Mutex
	output   string
	items    []Item
	index    int
	state    State
	paused   bool
	failures int
	lastSeq  int
	stream   sound.Stream
	// gen identifies the current stream; completions from older streams are ignored.
	gen uint64
}

// New creates a controller in the IDLE state.
func New(name string, config Config) *Controller {
	if config.StopTimeout <= 0 {
		config.StopTimeout = 2 * time.Second
	}
	if config.MaxStartRetries <= 0 {
		config.MaxStartRetries = 3
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Controller{
		name:   name,
		config: config,
		logger: logger,
		index:  -1,
		state:  Idle,
	}
}

// SetOutput rebinds the output device. A stream already playing keeps its
// device; the new binding applies from the next start.
func (c *Controller) SetOutput(device string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.output = device
	c.notify(ReasonOutput, nil, nil)
}

func (c *Controller) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// Enqueue appends a clip. It never starts playback; a FINISHED queue becomes
// ready (STOPPED_AWAITING_TRIGGER) for the next trigger.
func (c *Controller) Enqueue(source, label string) Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	if label == "" {
		label = filepath.Base(source)
	}
	c.lastSeq++
	item := Item{
		ID:     uuid.NewString(),
		Seq:    c.lastSeq,
		Source: source,
		Label:  label,
		Added:  time.Now(),
	}
	c.items = append(c.items, item)

	if c.state == Finished {
		c.state = AwaitingTrigger
	}

	c.logger.Printf("[%s] queued %q (#%d)", c.name, item.Label, item.Seq)
	c.notify(ReasonEnqueued, &item, nil)
	return item
}

// Next handles a trigger or a force-advance: whatever is playing stops and
// the following item starts.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Playing:
		c.stopLocked()
		return c.playLocked(c.index+1, ReasonStarted)
	case AwaitingTrigger:
		return c.playLocked(c.index+1, ReasonStarted)
	case Idle:
		if len(c.items) == 0 {
			return nil
		}
		return c.playLocked(c.index+1, ReasonStarted)
	default:
		return nil
	}
}

// Replay restarts the current or last played item without advancing.
func (c *Controller) Replay() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index < 0 {
		return ErrNothingPlayed
	}
	c.stopLocked()
	return c.playLocked(c.index, ReasonReplayed)
}

// TogglePause pauses or resumes the playing item and reports the new pause state.
func (c *Controller) TogglePause() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Playing || c.stream == nil {
		return false, ErrNotPlaying
	}

	c.paused = !c.paused
	c.stream.SetPaused(c.paused)

	reason := ReasonResumed
	if c.paused {
		reason = ReasonPaused
	}
	c.notify(reason, c.currentLocked(), nil)
	return c.paused, nil
}

// Remove drops a queued item that has not been played yet.
func (c *Controller) Remove(seq int) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, item := range c.items {
		if item.Seq != seq {
			continue
		}
		if i <= c.index {
			return Item{}, fmt.Errorf("%w: #%d", ErrAlreadyPlayed, seq)
		}
		c.items = append(c.items[:i:i], c.items[i+1:]...)
		if i == c.index+1 {
			c.failures = 0
		}
		if c.state != Playing {
			c.state = c.restingLocked()
		}
		c.notify(ReasonRemoved, &item, nil)
		return item, nil
	}
	return Item{}, fmt.Errorf("%w: #%d", ErrItemNotFound, seq)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Close stops any playing stream.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		c.stopLocked()
		c.state = c.restingLocked()
	}
}

// playLocked starts items[idx]. On failure the index stays put so the same
// item is retried on the next trigger.
func (c *Controller) playLocked(idx int, reason Reason) error {
	if idx >= len(c.items) {
		c.state = Finished
		c.logger.Printf("[%s] queue finished", c.name)
		c.notify(ReasonExhausted, nil, nil)
		return nil
	}

	item := c.items[idx]

	var (
		stream sound.Stream
		err    error
	)
	if c.output == "" {
		err = fmt.Errorf("%w: %w", sound.ErrDeviceUnavailable, ErrOutputNotBound)
	} else {
		stream, err = c.config.Player.Start(item.Source, c.output)
	}

	if err != nil {
		c.failures++
		c.paused = false
		c.state = c.restingLocked()
		if c.failures >= c.config.MaxStartRetries {
			err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.failures, err)
		}
		c.logger.Printf("[%s] failed to start %q: %v", c.name, item.Label, err)
		c.notify(ReasonStartFailed, &item, err)
		return err
	}

	c.failures = 0
	c.paused = false
	c.index = idx
	c.state = Playing
	c.stream = stream
	c.gen++
	go c.watch(stream, c.gen)

	c.logger.Printf("[%s] playing %q (%d/%d) on %s", c.name, item.Label, idx+1, len(c.items), c.output)
	c.notify(reason, &item, nil)
	return nil
}

func (c *Controller) watch(stream sound.Stream, gen uint64) {
	<-stream.Done()
	c.completed(gen)
}

// completed handles the natural end of a stream. A trigger that already
// replaced the stream wins; the late completion is a no-op.
func (c *Controller) completed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != Playing {
		return
	}

	item := c.currentLocked()
	c.stopLocked()
	c.state = c.restingLocked()
	c.logger.Printf("[%s] finished %q, %s", c.name, item.Label, c.state)
	c.notify(ReasonCompleted, item, nil)
}

// stopLocked stops the current stream synchronously, bounded by StopTimeout.
func (c *Controller) stopLocked() {
	if c.stream == nil {
		return
	}

	stream := c.stream
	c.stream = nil
	c.paused = false
	c.gen++

	ctx, cancel := context.WithTimeout(context.Background(), c.config.StopTimeout)
	defer cancel()

	if err := stream.Stop(ctx); err != nil {
		c.logger.Printf("[%s] failed to stop stream: %v", c.name, err)
		c.notify(ReasonStopFailed, c.currentLocked(), err)
	}
}

func (c *Controller) restingLocked() State {
	switch {
	case c.index < 0:
		return Idle
	case c.index+1 < len(c.items):
		return AwaitingTrigger
	default:
		return Finished
	}
}

func (c *Controller) currentLocked() *Item {
	if c.index < 0 || c.index >= len(c.items) {
		return nil
	}
	item := c.items[c.index]
	return &item
}

func (c *Controller) statusLocked() Status {
	items := make([]Item, len(c.items))
	copy(items, c.items)

	return Status{
		State:    c.state,
		Paused:   c.paused,
		Output:   c.output,
		Index:    c.index,
		Length:   len(c.items),
		Pending:  len(c.items) - c.index - 1,
		Failures: c.failures,
		Current:  c.currentLocked(),
		Items:    items,
	}
}

func (c *Controller) notify(reason Reason, item *Item, err error) {
	if c.config.OnChange == nil {
		return
	}
	c.config.OnChange(Change{
		Reason: reason,
		Item:   item,
		Err:    err,
		Status: c.statusLocked(),
	})
}
