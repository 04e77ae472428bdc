package bus

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/mdsource"
	"streamex.com/pkg/logger"
	"streamex.com/pkg/metrics"
	"streamex.com/pkg/xerr"
)

// DefaultTopics are the topics a producer publishes canonical events on.
var DefaultTopics = []string{"quotes:price", "quotes:trade", "quotes:book", "quotes:system"}

// Source relays canonical events from a Broker into the hub. Payloads that do
// not decode to a known event are dropped.
type Source struct {
	Broker Broker
	Topics []string
}

func NewSource(b Broker, topics []string) *Source {
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	return &Source{Broker: b, Topics: topics}
}

func (s *Source) Name() string { return "bus-" + strings.Join(s.Topics, ",") }

func (s *Source) Run(ctx context.Context, pub mdsource.Publisher) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := s.Broker.Subscribe(subCtx, s.Topics)
	if err != nil {
		return xerr.Wrap(err, xerr.UpstreamUnavailable, "bus subscribe")
	}
	logger.Info(ctx, "bus subscribed", zap.Strings("topics", s.Topics))

	name := s.Name()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return xerr.New(xerr.UpstreamUnavailable, "bus subscription closed")
			}
			ev, err := event.Decode(m.Payload)
			if err != nil {
				reason := "malformed_payload"
				if errors.Is(err, event.ErrUnknownType) {
					reason = "unknown_type"
				}
				metrics.ObserveDrop(name, reason)
				continue
			}
			pub.Publish(m.Payload)
			metrics.ObservePublish(name, string(ev.Kind()))
		}
	}
}

// Topic returns the topic an event of type t is published on.
func Topic(t event.Type) string { return "quotes:" + string(t) }

// PublishEvent encodes ev and sends it on its topic.
func PublishEvent(ctx context.Context, b Broker, ev event.Event) error {
	payload, err := event.Encode(ev)
	if err != nil {
		return err
	}
	return b.Publish(ctx, Topic(ev.Kind()), payload)
}

var _ mdsource.Source = (*Source)(nil)
