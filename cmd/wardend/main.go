package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/logging"
	"github.com/NicolasHaas/warden/pkg/server"
	"github.com/NicolasHaas/warden/pkg/store"
	"github.com/NicolasHaas/warden/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file with WARDEN_* overrides (ignored if missing)")
	dbPath := flag.String("db", "", "SQLite database file path, or :memory:")
	httpAddr := flag.String("http", "", "HTTP bind address for the admin API and /metrics")
	sweep := flag.Duration("sweep-interval", 0, "how often expired punishments are deactivated")
	logLevel := flag.String("log-level", "", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("wardend", version.Full())
		return
	}

	cfg, err := server.LoadConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Flags given on the command line win over every other layer.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DBPath = *dbPath
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "sweep-interval":
			cfg.SweepInterval = *sweep
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Service: "wardend",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	slog.Info("starting wardend", version.Get().Attrs()...)

	st, err := store.Open(cfg.DBPath, datastore.Options{StatementTimeout: cfg.StatementTimeout})
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, server.Dependencies{
		Store: st,
		Clock: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		_ = st.Close()
		slog.Error("invalid server config", "err", err)
		os.Exit(1)
	}
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
