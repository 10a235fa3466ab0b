package events

import (
	"github.com/rs/zerolog"
)

// AuditSink writes every event it receives as a structured audit record.
// It is the boundary to the external audit collaborator.
type AuditSink struct {
	logger zerolog.Logger
	sub    Subscriber
	done   chan struct{}
}

// NewAuditSink subscribes to the broker; call Run to start consuming
func NewAuditSink(b *Broker, logger zerolog.Logger) *AuditSink {
	return &AuditSink{
		logger: logger.With().Str("component", "audit").Logger(),
		sub:    b.Subscribe(),
		done:   make(chan struct{}),
	}
}

// Run consumes events until the broker closes the subscription
func (a *AuditSink) Run() {
	defer close(a.done)
	for event := range a.sub {
		a.record(event)
	}
}

// Wait blocks until Run has returned
func (a *AuditSink) Wait() {
	<-a.done
}

func (a *AuditSink) record(event *Event) {
	rec := a.logger.Info().
		Str("event_id", event.ID).
		Str("event", string(event.Type)).
		Time("at", event.Timestamp)
	for k, v := range event.Fields() {
		rec = rec.Str(k, v)
	}
	rec.Msg(event.Message)
}
