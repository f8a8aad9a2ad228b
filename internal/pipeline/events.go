package pipeline

import (
	"time"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

// EventType names a pipeline lifecycle event
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventTransition    EventType = "transition"
	EventGroupStarted  EventType = "group_started"
	EventGroupFinished EventType = "group_finished"
	EventStageStarted  EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventRunFinished   EventType = "run_finished"
)

// Event is emitted to observers as a run progresses
type Event struct {
	Type      EventType           `json:"type"`
	RunID     string              `json:"run_id"`
	Ticker    string              `json:"ticker"`
	Group     contracts.GroupName `json:"group,omitempty"`
	Stage     contracts.StageName `json:"stage,omitempty"`
	State     State               `json:"state,omitempty"`
	Outcome   contracts.Outcome   `json:"outcome,omitempty"`
	ErrorKind contracts.ErrorKind `json:"error_kind,omitempty"`
	ElapsedMS float64             `json:"elapsed_ms,omitempty"`
	Time      time.Time           `json:"time"`
}

// Observer receives events. Parallel members emit concurrently, so
// implementations must be safe for concurrent use and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// OnEvent calls f
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
