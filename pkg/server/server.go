// Package server wires the punishment engine into a running process:
// storage, worker pool, event sinks, sweeper, session registry and the
// admin HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/NicolasHaas/warden/pkg/async"
	"github.com/NicolasHaas/warden/pkg/auth"
	"github.com/NicolasHaas/warden/pkg/command"
	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/events"
	"github.com/NicolasHaas/warden/pkg/gate"
	"github.com/NicolasHaas/warden/pkg/logging"
	"github.com/NicolasHaas/warden/pkg/metrics"
	"github.com/NicolasHaas/warden/pkg/punish"
	"github.com/NicolasHaas/warden/pkg/store"
	"github.com/NicolasHaas/warden/pkg/sweeper"
)

// Config holds server configuration.
type Config struct {
	DBPath             string        `yaml:"db_path" env:"DB_PATH"`                           // SQLite database path, or ":memory:"
	HTTPAddr           string        `yaml:"http_addr" env:"HTTP_ADDR"`                       // admin API and /metrics (empty = disabled)
	SweepInterval      time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`             // expiration sweep period
	PoolSize           int           `yaml:"pool_size" env:"POOL_SIZE"`                       // concurrent store operations
	StatementTimeout   time.Duration `yaml:"statement_timeout" env:"STATEMENT_TIMEOUT"`       // bound on every store call
	MetricsLogInterval time.Duration `yaml:"metrics_log_interval" env:"METRICS_LOG_INTERVAL"` // periodic metrics log (0 = off)
	ConsoleIssuer      string        `yaml:"console_issuer" env:"CONSOLE_ISSUER"`             // issuer recorded for automated actions
	LogLevel           string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat          string        `yaml:"log_format" env:"LOG_FORMAT"`
	APITokenHash       string        `yaml:"api_token_hash" env:"API_TOKEN_HASH"` // Argon2id hash guarding /api (empty = open)

	MQTT events.MQTTConfig `yaml:"mqtt" envPrefix:"MQTT_"`
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store store.Backend
	// MQTT overrides dialing Config.MQTT. Tests inject a fake here.
	MQTT events.TokenPublisher
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBPath:             "warden.db",
		HTTPAddr:           ":9610",
		SweepInterval:      sweeper.DefaultInterval,
		PoolSize:           async.DefaultPoolSize,
		StatementTimeout:   datastore.DefaultStatementTimeout,
		MetricsLogInterval: time.Minute,
		ConsoleIssuer:      command.DefaultConsoleIssuer,
		LogLevel:           "info",
		LogFormat:          "text",
		MQTT:               events.MQTTConfig{Topic: events.DefaultTopic},
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("server: db path is required")
	case c.SweepInterval <= 0:
		return fmt.Errorf("server: sweep interval must be positive, got %s", c.SweepInterval)
	case c.PoolSize <= 0:
		return fmt.Errorf("server: pool size must be positive, got %d", c.PoolSize)
	case c.StatementTimeout <= 0:
		return fmt.Errorf("server: statement timeout must be positive, got %s", c.StatementTimeout)
	}
	return logging.Validate(c.LogLevel, c.LogFormat)
}

// Server is the warden daemon.
type Server struct {
	cfg      Config
	log      *slog.Logger
	store    store.Backend
	pool     *async.Pool
	bus      *events.Bus
	engine   *punish.Engine
	gate     *gate.Gate
	sweeper  *sweeper.Sweeper
	sessions *SessionRegistry
	commands *command.Handler
	metrics  *metrics.Metrics

	mqttClient events.TokenPublisher
	mqttSink   *events.MQTTSink
	httpSrv    *http.Server
	apiAuth    *auth.Verifier

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// New builds a server around deps.Store. Nothing runs until Start.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("server: missing store dependency")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var verifier *auth.Verifier
	if cfg.APITokenHash != "" {
		v, err := auth.NewVerifier(cfg.APITokenHash)
		if err != nil {
			return nil, fmt.Errorf("server: api token: %w", err)
		}
		verifier = v
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		log:        logging.Component("server"),
		store:      deps.Store,
		metrics:    metrics.New(),
		mqttClient: deps.MQTT,
		apiAuth:    verifier,
		ctx:        ctx,
		cancel:     cancel,
	}

	s.pool = async.NewPool(cfg.PoolSize, logging.Component("pool"))
	s.bus = events.NewBus(logging.Component("events"))
	s.sessions = NewSessionRegistry(s.metrics, logging.Component("sessions"))

	engine, err := punish.New(punish.Options{
		Store:       deps.Store,
		Pool:        s.pool,
		Events:      s.bus,
		Connections: s.sessions,
		Metrics:     s.metrics,
		Logger:      logging.Component("engine"),
		Clock:       deps.Clock,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("server: %w", err)
	}
	s.engine = engine
	s.gate = gate.New(engine, s.sessions, s.metrics, logging.Component("gate"))
	s.sweeper = sweeper.New(sweeper.Options{
		Store:    deps.Store,
		Interval: cfg.SweepInterval,
		Metrics:  s.metrics,
		Logger:   logging.Component("sweeper"),
		Clock:    deps.Clock,
	})
	s.commands = command.NewHandler(engine,
		command.Chain{command.UUIDResolver{}, s.sessions},
		cfg.ConsoleIssuer,
		logging.Component("command"))

	s.bus.Subscribe(func(e events.Event) {
		s.log.Debug("event", "type", e.Type, "subject", e.SubjectID, "kind", e.Kind)
	})
	return s, nil
}

// Engine returns the punishment engine.
func (s *Server) Engine() *punish.Engine {
	return s.engine
}

// Gate returns the gating facade.
func (s *Server) Gate() *gate.Gate {
	return s.gate
}

// Sessions returns the session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Commands returns the moderation command handler.
func (s *Server) Commands() *command.Handler {
	return s.commands
}

// Events returns the event bus.
func (s *Server) Events() *events.Bus {
	return s.bus
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}
