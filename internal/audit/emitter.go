// Package audit records upload batches and match runs as a hash-chained
// event log fanned out to one or more sinks.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/photo-matcher/internal/metrics"
)

// Emitter records audit events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// Sink is one destination for finished, hashed events.
type Sink interface {
	Name() string
	Write(ctx context.Context, evt *Event) error
	Close() error
}

// Config selects sinks. Every configured destination receives each event.
type Config struct {
	Enabled     bool
	Dir         string
	Endpoint    string
	NATSURL     string
	NATSSubject string
	PostgresDSN string
	Producer    ProducerInfo
}

// NewEmitter creates an appropriate emitter based on configuration.
// Sinks that cannot be opened are logged and left out.
func NewEmitter(ctx context.Context, cfg Config) Emitter {
	if !cfg.Enabled {
		log.Println("[audit] disabled, using no-op emitter")
		return Noop{}
	}

	var sinks []Sink

	if cfg.Dir != "" {
		if s, err := NewFileSink(cfg.Dir); err != nil {
			log.Printf("[audit] failed to create file sink: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.Endpoint != "" {
		sinks = append(sinks, NewHTTPSink(cfg.Endpoint))
	}
	if cfg.NATSURL != "" {
		if s, err := NewNATSSink(ctx, cfg.NATSURL, cfg.NATSSubject); err != nil {
			log.Printf("[audit] failed to connect to NATS: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.PostgresDSN != "" {
		if s, err := NewPostgresSink(ctx, cfg.PostgresDSN); err != nil {
			log.Printf("[audit] failed to connect to postgres: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}

	if len(sinks) == 0 {
		log.Println("[audit] no sinks available, using no-op emitter")
		return Noop{}
	}

	tracker, err := NewChainTracker(cfg.Dir)
	if err != nil {
		log.Printf("[audit] chain heads not persisted: %v", err)
		tracker, _ = NewChainTracker("")
	}

	for _, s := range sinks {
		log.Printf("[audit] sink enabled: %s", s.Name())
	}
	return NewChainEmitter(tracker, cfg.Producer, sinks...)
}

// ChainEmitter stamps, hashes and links events, then writes them to its
// sinks. Emission is serialized so each chain stays linear.
type ChainEmitter struct {
	mu       sync.Mutex
	tracker  *ChainTracker
	producer ProducerInfo
	sink     Sink
}

// NewChainEmitter fans out to sinks through Multi when more than one.
func NewChainEmitter(tracker *ChainTracker, producer ProducerInfo, sinks ...Sink) *ChainEmitter {
	var sink Sink = Multi(sinks)
	if len(sinks) == 1 {
		sink = sinks[0]
	}
	return &ChainEmitter{tracker: tracker, producer: producer, sink: sink}
}

// Emit links evt to the chain head and writes it. The head advances when at
// least one sink accepted the event, including a *PartialError from Multi,
// and stays put when every sink failed.
func (e *ChainEmitter) Emit(ctx context.Context, evt *Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	evt.Version = SchemaVersion
	evt.EventID = "evt_" + uuid.NewString()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Producer.Name == "" {
		evt.Producer = e.producer
	}

	chainKey := evt.ChainKey()
	prevHash, err := e.tracker.GetHead(chainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}
	if err := evt.SetChainHashes(prevHash); err != nil {
		return err
	}

	writeErr := e.sink.Write(ctx, evt)
	if writeErr != nil {
		var partial *PartialError
		if !errors.As(writeErr, &partial) {
			if m := metrics.Get(); m != nil {
				m.IncAuditErrors(e.sink.Name())
			}
			return fmt.Errorf("audit emit failed: %w", writeErr)
		}
	}

	// At least one sink holds the event, so it is part of the chain.
	if err := e.tracker.SetHead(chainKey, evt.Chain.EventHash); err != nil {
		log.Printf("[audit] warning: failed to update chain head: %v", err)
	}
	if writeErr != nil {
		return fmt.Errorf("audit emit incomplete: %w", writeErr)
	}
	return nil
}

// Close closes every sink.
func (e *ChainEmitter) Close() error {
	return e.sink.Close()
}

// PartialError reports sinks that failed while others accepted the event.
type PartialError struct {
	Failed int
	Total  int
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d sinks failed: %v", e.Failed, e.Total, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Multi writes each event to every sink. A failing sink does not stop the
// others. When some but not all fail the error is a *PartialError.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Write(ctx context.Context, evt *Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, evt); err != nil {
			if met := metrics.Get(); met != nil {
				met.IncAuditErrors(s.Name())
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if len(errs) < len(m) {
		return &PartialError{Failed: len(errs), Total: len(m), Err: err}
	}
	return err
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Noop discards all events.
type Noop struct{}

func (Noop) Emit(context.Context, *Event) error { return nil }
func (Noop) Close() error                       { return nil }
