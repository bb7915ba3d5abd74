package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", db}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestBanStatusUnban(t *testing.T) {
	db := filepath.Join(t.TempDir(), "warden.db")
	subject := uuid.New().String()

	out, err := run(t, db, "ban", subject, "2h", "x-ray", "client")
	if err != nil {
		t.Fatalf("ban: %v\n%s", err, out)
	}
	if !strings.Contains(out, "#1 BAN") || !strings.Contains(out, "in force, ") || !strings.Contains(out, "x-ray client") {
		t.Errorf("ban output = %q", out)
	}

	out, err = run(t, db, "status", subject)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "#1 BAN") {
		t.Errorf("status output = %q", out)
	}

	out, err = run(t, db, "--as", "Mod1", "unban", subject)
	if err != nil || !strings.Contains(out, "unban: done") {
		t.Fatalf("unban: %v %q", err, out)
	}
	out, _ = run(t, db, "unban", subject)
	if !strings.Contains(out, "nothing to lift") {
		t.Errorf("second unban output = %q", out)
	}

	out, err = run(t, db, "history", "--yaml", subject)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "subject: "+subject) || !strings.Contains(out, "kind: BAN") {
		t.Errorf("history output = %q", out)
	}

	out, err = run(t, db, "lookup", "#1")
	if err != nil || !strings.Contains(out, "reason: x-ray client") {
		t.Errorf("lookup: %v %q", err, out)
	}
}

func TestRejectedInput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "warden.db")
	tests := map[string][]string{
		"bad duration":  {"mute", uuid.New().String(), "5x", "spam"},
		"not a uuid":    {"kick", "Steve", "afk"},
		"too few args":  {"ban", uuid.New().String(), "1d"},
		"bad lookup id": {"lookup", "abc"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if out, err := run(t, db, args...); err == nil {
				t.Errorf("expected error, got output %q", out)
			}
		})
	}
}

func TestSweep(t *testing.T) {
	db := filepath.Join(t.TempDir(), "warden.db")
	out, err := run(t, db, "sweep")
	if err != nil || !strings.Contains(out, "deactivated 0") {
		t.Fatalf("sweep: %v %q", err, out)
	}
}

func TestToken(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "warden.db"), "token")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if !strings.Contains(out, "token: ") || !strings.Contains(out, "api_token_hash: argon2id$") {
		t.Errorf("token output = %q", out)
	}
}
