package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MarginVault/internal/event"
	"MarginVault/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamName holds every outbound vault event.
const StreamName = "MARGIN_VAULT_EVENTS"

// SubjectPrefix is the root of the outbound subject space. Subjects follow
// vault.events.{event_type}.{token}, token omitted for account-only events.
const SubjectPrefix = "vault.events."

// Publisher forwards applied-state events to NATS for downstream consumers.
// Publishing is best effort: a failed publish is logged and counted, never
// blocks the engine, and consumers can always re-read the event log.
type Publisher struct {
	js      jetstream.JetStream
	in      <-chan event.Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, in <-chan event.Envelope, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		in:      in,
		log:     observability.NewLogger("publisher"),
		metrics: metrics,
	}
}

// Run drains the inbound channel until it closes or the context ends.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.in:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				if p.metrics != nil {
					p.metrics.PublishDrops.Inc()
				}
				p.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.js.Publish(ctx, Subject(env), data)
	return err
}

// Subject builds the outbound subject for an envelope.
func Subject(env event.Envelope) string {
	s := SubjectPrefix + sanitize(env.Type.String())
	if env.Token != "" {
		s += "." + sanitize(env.Token)
	}
	return s
}

func sanitize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, ".", "_"))
}

// EnsureEventStream creates or updates the outbound stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	return nil
}
