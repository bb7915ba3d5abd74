package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/NicolasHaas/warden/pkg/events"
	"github.com/NicolasHaas/warden/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.log.Info("shutting down...", "signal", sig.String())
	case <-s.ctx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Start launches the background parts: MQTT sink, sweeper, admin HTTP
// and periodic metrics logging. It returns once they are running.
func (s *Server) Start() error {
	if err := s.startMQTT(); err != nil {
		return err
	}

	s.sweeper.Start(s.ctx)

	if err := s.startHTTP(); err != nil {
		return err
	}

	if s.cfg.MetricsLogInterval > 0 {
		s.metrics.StartPeriodicLog(logging.Component("metrics"), s.cfg.MetricsLogInterval, s.ctx.Done())
	}

	s.log.Info("warden running",
		"db", s.cfg.DBPath,
		"http", s.cfg.HTTPAddr,
		"sweep_interval", s.cfg.SweepInterval,
		"pool_size", s.cfg.PoolSize,
		"mqtt", s.mqttSink != nil,
	)
	return nil
}

func (s *Server) startMQTT() error {
	if s.mqttClient == nil && s.cfg.MQTT.Enabled() {
		client, err := events.DialMQTT(s.cfg.MQTT, logging.Component("mqtt"))
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		s.mqttClient = client
	}
	if s.mqttClient == nil {
		return nil
	}

	s.mqttSink = events.NewMQTTSink(s.mqttClient, s.cfg.MQTT.Topic, logging.Component("mqtt"), s.metrics)
	s.bus.Subscribe(s.mqttSink.Handle)
	go s.mqttSink.Run(s.ctx)
	return nil
}

func (s *Server) startHTTP() error {
	if s.cfg.HTTPAddr == "" {
		return nil // admin API disabled
	}

	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.HTTPAddr, err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info("admin HTTP listening", "addr", ln.Addr().String())
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin HTTP error", "err", err)
		}
	}()
	return nil
}

// Shutdown stops accepting work, drains in-flight operations and closes
// the store. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	s.shutdown.Do(func() {
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http: %w", err))
			}
		}

		s.sweeper.Stop()

		// In-flight operations publish events, so the pool drains before
		// the sink is told to flush and exit.
		if err := s.pool.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		s.cancel()

		if s.mqttSink != nil {
			select {
			case <-s.mqttSink.Done():
			case <-ctx.Done():
			}
		}
		if c, ok := s.mqttClient.(mqtt.Client); ok {
			c.Disconnect(250)
		}

		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		s.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
