// Package events publishes order lifecycle events to NATS.
package events

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
)

var ErrPublisherClosed = errors.New("event publisher is closed")

type Config struct {
	Enabled       bool   `json:"enabled" toml:"enabled"`
	URL           string `json:"url" toml:"url"`
	SubjectPrefix string `json:"subject_prefix" toml:"subject_prefix"`
	ClientName    string `json:"client_name" toml:"client_name"`
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "signal_bot",
		ClientName:    "crypto-signal-bot",
	}
}

// Sink receives lifecycle events
type Sink interface {
	Publish(ev Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(Event) error { return nil }

// Publisher is a NATS backed Sink
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func Connect(cfg Config) (*Publisher, error) {
	log := logger.Component("events")
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", cfg.URL).Str("prefix", cfg.SubjectPrefix).Msg("nats connected")
	return &Publisher{conn: conn, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Subject maps an event type to its NATS subject
func (p *Publisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return strings.TrimSuffix(p.prefix, ".") + "." + eventType
}

func (p *Publisher) Publish(ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.conn == nil {
		return ErrPublisherClosed
	}

	data, err := ev.Marshal()
	if err != nil {
		p.log.Error().Err(err).Str("type", ev.Type).Msg("marshal event failed")
		return err
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		p.log.Warn().Err(err).Str("type", ev.Type).Str("symbol", ev.Symbol).Msg("publish event failed")
		return err
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.conn != nil && p.conn.IsConnected()
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.conn != nil {
		if err := p.conn.Flush(); err != nil {
			p.log.Warn().Err(err).Msg("nats flush on close failed")
		}
		p.conn.Close()
	}
	return nil
}
