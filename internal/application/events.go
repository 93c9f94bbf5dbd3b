package application

import (
	"sync"

	"github.com/ahrav/go-council/internal/domain"
)

// EventType names a progress event emitted during a turn.
type EventType string

// Progress events, in the order a full turn emits them. stage1_response
// and stage1_chunk repeat once per model and per streamed chunk.
const (
	EventStage1Start    EventType = "stage1_start"
	EventStage1Chunk    EventType = "stage1_chunk"
	EventStage1Response EventType = "stage1_response"
	EventStage1Complete EventType = "stage1_complete"
	EventStage2Start    EventType = "stage2_start"
	EventStage2Complete EventType = "stage2_complete"
	EventStage3Start    EventType = "stage3_start"
	EventStage3Complete EventType = "stage3_complete"
	EventTitleComplete  EventType = "title_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// Stage2Metadata accompanies stage2_complete.
type Stage2Metadata struct {
	LabelToModel *domain.LabelMap        `json:"label_to_model"`
	Aggregate    []domain.AggregateEntry `json:"aggregate_rankings"`
}

// Event is one progress notification. Data holds the stage payload:
// []domain.ModelResponse, domain.ModelResponse, []domain.Ranking or
// domain.Stage3Result depending on Type.
type Event struct {
	Type     EventType       `json:"type"`
	TurnID   string          `json:"turn_id,omitempty"`
	Model    string          `json:"model,omitempty"`
	Index    *int            `json:"index,omitempty"`
	Chunk    string          `json:"chunk,omitempty"`
	Data     any             `json:"data,omitempty"`
	Metadata *Stage2Metadata `json:"metadata,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// EventSink receives progress events. Calls are serialized.
type EventSink func(Event)

// serialSink wraps a sink so concurrent stage goroutines never call it at
// the same time. A nil sink discards events.
func serialSink(turnID string, sink EventSink) EventSink {
	if sink == nil {
		return func(Event) {}
	}
	var mu sync.Mutex
	return func(e Event) {
		e.TurnID = turnID
		mu.Lock()
		defer mu.Unlock()
		sink(e)
	}
}
