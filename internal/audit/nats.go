package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream that stores audit events.
const StreamName = "PHOTO_MATCHER_AUDIT"

// NATSSink publishes events to a JetStream subject.
type NATSSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSSink connects to url and makes sure the stream exists.
func NewNATSSink(ctx context.Context, url, subject string) (*NATSSink, error) {
	if subject == "" {
		subject = "photo-matcher.audit"
	}

	nc, err := nats.Connect(url, nats.Name("photo-matcher-audit"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectWildcard(subject)},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream %s: %w", StreamName, err)
	}

	return &NATSSink{nc: nc, js: js, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Write publishes evt to {subject}.{event_type}. The event ID doubles as
// the JetStream message ID for deduplication.
func (s *NATSSink) Write(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := s.subject + "." + evt.EventType
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(evt.EventID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}

func subjectWildcard(subject string) string {
	return strings.TrimSuffix(subject, ".") + ".>"
}
