package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"WagerLedger/internal/observability"
)

// Publisher emits wager lifecycle events (agreed, resolved, released) for
// downstream consumers. Publish is non-blocking: sagas must never stall on
// the event stream, so a full buffer drops the event and counts the drop.
// Subjects follow the pattern: wager.events.{event}.{match_id}
type Publisher struct {
	js        jetstream.JetStream
	inputChan chan PublishableEvent
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// PublishableEvent is a lifecycle event ready for outbound publishing.
type PublishableEvent struct {
	Event        string      `json:"event"`
	MatchContext string      `json:"match_context"`
	MatchID      string      `json:"match_id"`
	Payload      interface{} `json:"payload"`
	Timestamp    time.Time   `json:"timestamp"`
}

func NewPublisher(js jetstream.JetStream, bufferSize int, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: make(chan PublishableEvent, bufferSize),
		metrics:   metrics,
		log:       log,
	}
}

// Publish queues an event without blocking. Implements the publisher
// interface the coordinator and settlement services hang on to.
func (p *Publisher) Publish(event, matchContext, matchID string, payload any) {
	evt := PublishableEvent{
		Event:        event,
		MatchContext: matchContext,
		MatchID:      matchID,
		Payload:      payload,
		Timestamp:    time.Now(),
	}
	select {
	case p.inputChan <- evt:
	default:
		p.metrics.PublishDrops.Inc()
		p.log.Warn().Str("event", event).Str("match_id", matchID).Msg("publish buffer full, event dropped")
	}
}

// Run starts the outbound publisher loop.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt := <-p.inputChan:
			if err := p.publish(ctx, evt); err != nil {
				// Non-fatal: the slot document is the source of truth,
				// consumers can re-read it.
				p.log.Warn().Err(err).Str("event", evt.Event).Str("match_id", evt.MatchID).Msg("outbound publish failed")
				continue
			}
			p.metrics.EventsPublished.WithLabelValues(evt.Event).Inc()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", EventsSubjectPrefix, evt.Event, evt.MatchID)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
