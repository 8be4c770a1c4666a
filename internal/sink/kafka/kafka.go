// Package kafka provides a Kafka producer sink using franz-go.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/logging"
	"github.com/msgpo/lumber-mill/internal/template"
)

// Record value encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// SASLConfig holds SASL authentication parameters.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string //nolint:gosec // G117: config field, not a hardcoded credential
}

// Config holds Kafka sink configuration.
type Config struct {
	Brokers []string
	Topic   string
	TLS     bool
	SASL    *SASLConfig

	// Encoding is the record value format: "json" (default) or
	// "msgpack".
	Encoding string

	// Key, when set, is resolved per event into the record key.
	Key *template.Template

	// Env backs environment references in Key. Defaults to the process
	// environment.
	Env template.Env

	// Logger for structured logging.
	Logger *slog.Logger
}

// Sink produces one Kafka record per event. Event metadata travels as
// record headers, sorted by key.
type Sink struct {
	cfg    Config
	client *kgo.Client
	encode func(*event.Event) ([]byte, error)
	logger *slog.Logger
}

// New connects a producer. The connection is lazy; broker problems
// surface on the first write.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink: no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink: no topic")
	}

	var encode func(*event.Event) ([]byte, error)
	switch cfg.Encoding {
	case "", EncodingJSON:
		encode = event.EncodeJSON
	case EncodingMsgpack:
		encode = event.EncodeMsgpack
	default:
		return nil, fmt.Errorf("kafka sink: unknown encoding %q", cfg.Encoding)
	}

	if cfg.Env == nil {
		cfg.Env = template.OS
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}

	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}

	if cfg.SASL != nil {
		mech, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	logger := logging.Default(cfg.Logger).With("component", "sink", "type", "kafka")
	logger.Info("kafka producer started",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"encoding", cfg.Encoding,
	)

	return &Sink{
		cfg:    cfg,
		client: client,
		encode: encode,
		logger: logger,
	}, nil
}

// Write produces a record for e and waits for the broker to accept it.
func (s *Sink) Write(ctx context.Context, e *event.Event) error {
	rec, err := s.record(e)
	if err != nil {
		return err
	}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (s *Sink) Close(ctx context.Context) error {
	defer s.client.Close()
	if err := s.client.Flush(ctx); err != nil {
		return fmt.Errorf("kafka flush: %w", err)
	}
	return nil
}

// record builds the Kafka record for an event.
func (s *Sink) record(e *event.Event) (*kgo.Record, error) {
	value, err := s.encode(e)
	if err != nil {
		return nil, err
	}
	rec := &kgo.Record{Value: value}

	if s.cfg.Key != nil {
		key, err := s.cfg.Key.Resolve(e, s.cfg.Env)
		if err != nil {
			return nil, err
		}
		rec.Key = []byte(key)
	}

	if meta := e.Metadata(); len(meta) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(meta))
		for _, k := range slices.Sorted(maps.Keys(meta)) {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(meta[k])})
		}
	}

	return rec, nil
}

// buildSASLMechanism constructs the appropriate SASL mechanism.
func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %q", cfg.Mechanism)
	}
}
