// Package events publishes run progress so dashboards can follow a painting
// while the robot works.
package events

import (
	"context"
	"time"
)

// Event kinds. The kind is appended to the topic prefix.
const (
	KindRunStarted       = "run/started"
	KindRunFinished      = "run/finished"
	KindReagentStarted   = "reagent/started"
	KindReagentFinished  = "reagent/finished"
	KindProtocolRejected = "protocol/rejected"
)

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) error
	Close() error
}

// Run describes the start or end of a protocol run.
type Run struct {
	RunID      string    `json:"run_id,omitempty"`
	Name       string    `json:"name"`
	Instrument string    `json:"instrument,omitempty"`
	Reagents   int       `json:"reagents"`
	Targets    int       `json:"targets"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Reagent describes the progress of one reagent batch.
type Reagent struct {
	RunID     string    `json:"run_id,omitempty"`
	Reagent   string    `json:"reagent"`
	Name      string    `json:"name,omitempty"`
	Well      string    `json:"well"`
	Targets   int       `json:"targets"`
	Dispensed int       `json:"dispensed"`
	TipsUsed  int       `json:"tips_used"`
	Aspirated float64   `json:"aspirated"`
	Discarded float64   `json:"discarded"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type noopPublisher struct{}

// Noop returns a publisher that drops every event.
func Noop() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, string, any) error { return nil }
func (noopPublisher) Close() error                               { return nil }
