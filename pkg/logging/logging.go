// Package logging configures the slog stream shared by wardend and
// wardenctl. Records carry the binary name as service and, for child
// loggers, the subsystem as component. Timestamps are UTC with
// millisecond precision, the same precision punishments are stored at,
// so log lines line up with created_at and expires_at values.
//
//	logging.Setup(logging.Options{Service: "wardend", Level: "debug", Format: "json"})
//	log := logging.Component("sweeper")
//	log.Info("expired punishments cleared", "count", 3)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Options controls Setup. Empty fields fall back to info, text and stdout.
type Options struct {
	Service string
	Level   string
	Format  string
	Output  io.Writer
}

// ParseLevel accepts the slog level names, case-insensitively, plus
// "warning". Offsets such as "debug+2" are allowed. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		name = "warn"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q (valid: %s)", name, LevelNames())
	}
	return l, nil
}

// Validate checks a level and format pair without installing anything.
func Validate(level, format string) error {
	if _, err := ParseLevel(level); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText, FormatJSON:
		return nil
	}
	return fmt.Errorf("unknown log format %q (valid: %s, %s)", format, FormatText, FormatJSON)
}

// New builds a logger from opts without touching slog.Default.
func New(opts Options) (*slog.Logger, error) {
	if err := Validate(opts.Level, opts.Format); err != nil {
		return nil, err
	}
	level, _ := ParseLevel(opts.Level)

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	hopts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: stampUTC,
	}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), FormatJSON) {
		h = slog.NewJSONHandler(out, hopts)
	} else {
		h = slog.NewTextHandler(out, hopts)
	}
	log := slog.New(h)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	return log, nil
}

// Setup installs New(opts) as slog.Default. Call it before Component.
func Setup(opts Options) error {
	log, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	return nil
}

func stampUTC(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(timeFormat))
	}
	return a
}

// Component returns the default logger tagged with component=name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Discard drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// LevelNames is the flag help text for level options.
func LevelNames() string {
	return "debug, info, warn, error"
}
