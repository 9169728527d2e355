// Package notify publishes build completion events over NATS. Publishing is
// best effort and never blocks a build from finishing.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "docs.builds"

// BuildEvent describes a finished build for downstream consumers.
type BuildEvent struct {
	BuildID    string    `json:"build_id"`
	Repository string    `json:"repository"`
	Succeeded  bool      `json:"succeeded"`
	UnitsBuilt int       `json:"units_built"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher sends build events to a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewPublisher connects to NATS at url. An empty subject falls back to
// DefaultSubject.
func NewPublisher(url, subject string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS", slog.String("url", url), slog.String("subject", subject))
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends a build event.
func (p *Publisher) Publish(event BuildEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal build event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish build event: %w", err)
	}

	p.logger.Debug("Published build event",
		logfields.BuildID(event.BuildID),
		logfields.Repository(event.Repository))
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
