package signals

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config configures outbound signal delivery.
type Config struct {
	NATSURL       string `json:"nats_url" koanf:"nats_url"`
	SubjectPrefix string `json:"subject_prefix" koanf:"subject_prefix"`
}

// DefaultConfig leaves NATS publishing off.
func DefaultConfig() Config {
	return Config{SubjectPrefix: "ctxpack.signals"}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NATSURL != "" && !strings.HasPrefix(c.NATSURL, "nats://") && !strings.HasPrefix(c.NATSURL, "tls://") {
		return fmt.Errorf("nats_url must start with nats:// or tls://, got %q", c.NATSURL)
	}
	if c.SubjectPrefix == "" || strings.ContainsAny(c.SubjectPrefix, " *>") {
		return fmt.Errorf("subject_prefix must be a literal subject, got %q", c.SubjectPrefix)
	}
	return nil
}

// LogSink returns a handler that logs each signal.
func LogSink(logger *zap.Logger) func(Signal) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(s Signal) {
		switch v := s.(type) {
		case CapacityExceeded:
			logger.Warn("capacity exceeded, oldest entries evicted",
				zap.String("set", v.Set),
				zap.Int("ceiling", v.Ceiling),
				zap.Int("evicted", len(v.Evicted)),
			)
		case StaleContext:
			logger.Warn("context no longer exists on backend", zap.String("context_id", v.ContextID))
		case BuildTimeout:
			logger.Error("context build timed out",
				zap.Uint64("generation", v.Generation),
				zap.Duration("after", v.After),
			)
		case StatusChanged:
			logger.Debug("pipeline status changed",
				zap.String("from", v.From),
				zap.String("to", v.To),
				zap.String("context_id", v.ContextID),
			)
		default:
			logger.Debug("signal", zap.String("kind", string(s.Kind())))
		}
	}
}

// Envelope is the wire form of a published signal.
type Envelope struct {
	Kind    Kind      `json:"kind"`
	Project string    `json:"project,omitempty"`
	At      time.Time `json:"at"`
	Payload Signal    `json:"payload"`
}

// NATSPublisher forwards signals to NATS subjects <prefix>.<kind>.
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	project string
	logger  *zap.Logger
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, prefix, project string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultConfig().SubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{
		nc:      nc,
		prefix:  strings.TrimSuffix(prefix, "."),
		project: project,
		logger:  logger,
	}
}

// ConnectNATS dials cfg.NATSURL and returns a publisher owning the connection.
func ConnectNATS(cfg Config, project string, logger *zap.Logger) (*NATSPublisher, error) {
	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ctxpack"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSPublisher(nc, cfg.SubjectPrefix, project, logger), nil
}

// Subject returns the subject a signal kind is published on.
func (p *NATSPublisher) Subject(k Kind) string {
	return p.prefix + "." + string(k)
}

// Publish sends s to NATS.
func (p *NATSPublisher) Publish(s Signal) error {
	data, err := json.Marshal(Envelope{
		Kind:    s.Kind(),
		Project: p.project,
		At:      time.Now().UTC(),
		Payload: s,
	})
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := p.nc.Publish(p.Subject(s.Kind()), data); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

// Handle is a Bus handler; publish failures are logged, never propagated.
func (p *NATSPublisher) Handle(s Signal) {
	if err := p.Publish(s); err != nil {
		p.logger.Warn("failed to publish signal", zap.String("kind", string(s.Kind())), zap.Error(err))
	}
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
