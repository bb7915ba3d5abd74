package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/warden/pkg/model"
	"github.com/NicolasHaas/warden/pkg/punish"
)

// EnvPrefix prefixes every environment override, e.g. WARDEN_DB_PATH.
const EnvPrefix = "WARDEN_"

// LoadConfig layers configuration: defaults, then the YAML file at path
// (if any), then variables from envFile (if it exists), then the
// process environment. The result is validated.
func LoadConfig(path, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if envFile != "" {
		// Load never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PunishmentYAML represents a punishment record in YAML export.
type PunishmentYAML struct {
	ID        int64  `yaml:"id"`
	Kind      string `yaml:"kind"`
	Reason    string `yaml:"reason"`
	Issuer    string `yaml:"issuer"`
	CreatedAt string `yaml:"created_at"`
	Expires   string `yaml:"expires"`
	Active    bool   `yaml:"active"`
	Remaining string `yaml:"remaining,omitempty"`
}

// HistoryExport is the top-level YAML for a subject's history.
type HistoryExport struct {
	Subject     string           `yaml:"subject"`
	ExportedAt  string           `yaml:"exported_at"`
	Punishments []PunishmentYAML `yaml:"punishments"`
}

const exportTimeFormat = "2006-01-02T15:04:05.000Z"

// ExportHistoryYAML exports a subject's records as YAML. Remaining is
// filled in for records still in force at asOf.
func ExportHistoryYAML(subject model.SubjectID, history []model.Punishment, asOf time.Time) ([]byte, error) {
	export := HistoryExport{
		Subject:     subject.String(),
		ExportedAt:  asOf.UTC().Format(exportTimeFormat),
		Punishments: make([]PunishmentYAML, 0, len(history)),
	}
	for i := range history {
		p := &history[i]
		entry := PunishmentYAML{
			ID:        p.ID,
			Kind:      p.Kind.String(),
			Reason:    p.Reason,
			Issuer:    p.Issuer,
			CreatedAt: p.CreatedAt.UTC().Format(exportTimeFormat),
			Expires:   "never",
			Active:    p.Active,
		}
		if p.ExpiresAt != nil {
			entry.Expires = p.ExpiresAt.UTC().Format(exportTimeFormat)
		}
		if p.Kind.Standing() && p.InForceAt(asOf) {
			entry.Remaining = punish.RemainingText(p, asOf)
		}
		export.Punishments = append(export.Punishments, entry)
	}
	return yaml.Marshal(&export)
}
