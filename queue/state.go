package queue

import (
	"fmt"
	"time"
)

// State is the playback state of one worker queue.
type State int

const (
	Idle State = iota
	Playing
	AwaitingTrigger
	Finished
)

var stateNames = map[State]string{
	Idle:            "IDLE",
	Playing:         "PLAYING",
	AwaitingTrigger: "STOPPED_AWAITING_TRIGGER",
	Finished:        "FINISHED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Item is one queued instruction clip.
type Item struct {
	ID     string    `json:"id"`
	Seq    int       `json:"seq"`
	Source string    `json:"source"`
	Label  string    `json:"label"`
	Added  time.Time `json:"added"`
}

// Status is a point-in-time snapshot of a controller.
type Status struct {
	State  State  `json:"state"`
	Paused bool   `json:"paused"`
	Output string `json:"output,omitempty"`
	// Index is the position of the item playing or last played, -1 before the first.
	Index    int    `json:"currentIndex"`
	Length   int    `json:"queueLength"`
	Pending  int    `json:"pending"`
	Failures int    `json:"failures,omitempty"`
	Current  *Item  `json:"current,omitempty"`
	Items    []Item `json:"items"`
}

// Reason says what caused a Change.
type Reason string

const (
	ReasonEnqueued    Reason = "enqueued"
	ReasonRemoved     Reason = "removed"
	ReasonStarted     Reason = "started"
	ReasonReplayed    Reason = "replayed"
	ReasonCompleted   Reason = "completed"
	ReasonExhausted   Reason = "exhausted"
	ReasonStartFailed Reason = "start_failed"
	ReasonStopFailed  Reason = "stop_failed"
	ReasonPaused      Reason = "paused"
	ReasonResumed     Reason = "resumed"
	ReasonOutput      Reason = "output"
)

// Change is reported to the controller's observer after every transition.
type Change struct {
	Reason Reason
	Item   *Item
	Err    error
	Status Status
}
