// Package main tests for the command line tool.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"strings"
	"testing"

	"github.com/google/subcommands"

	"github.com/kimhsiao/ledgerdesk/backend/internal/config"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/session"
	"github.com/kimhsiao/ledgerdesk/backend/internal/storage"
)

// acceptTransport confirms every call.
type acceptTransport struct{}

func (acceptTransport) List(ctx context.Context, resource string) ([]models.Record, error) {
	return nil, nil
}

func (acceptTransport) Create(ctx context.Context, resource string, rec models.Record) (models.Record, error) {
	return rec.Merge(models.Record{"id": "1"}), nil
}

func (acceptTransport) Update(ctx context.Context, resource, id string, patch models.Record) (models.Record, error) {
	return patch, nil
}

func (acceptTransport) Delete(ctx context.Context, resource, id string) error { return nil }

// seededOpener returns an opener over a shared in-memory store holding two
// queued actions.
func seededOpener(t *testing.T) opener {
	t.Helper()
	store := storage.NewMemoryStore()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	open := func() (*session.Session, error) {
		return session.New(cfg, session.Options{Store: store, Transport: acceptTransport{}, DisableProber: true})
	}

	sess, err := open()
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	sess.Monitor().SetOnline(false)
	ctx := context.Background()
	sess.Client().Create(ctx, "companies", models.Record{"name": "Acme"})
	sess.Client().RecordPayment(ctx, "payments", models.Record{"amount": 10})
	sess.Close()
	return open
}

// run executes one command line against cmds.
func run(t *testing.T, cmds []subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet("ledgerdesk", flag.ContinueOnError)
	commander := subcommands.NewCommander(fs, "ledgerdesk")
	for _, c := range cmds {
		commander.Register(c, "")
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return commander.Execute(context.Background())
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	status := run(t, []subcommands.Command{&versionCmd{out: &out}}, "version")
	if status != subcommands.ExitSuccess {
		t.Fatalf("status = %v", status)
	}
	if !strings.HasPrefix(out.String(), "ledgerdesk v"+Version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestStatusCmd(t *testing.T) {
	var out bytes.Buffer
	status := run(t, []subcommands.Command{&statusCmd{open: seededOpener(t), out: &out}}, "status")
	if status != subcommands.ExitSuccess {
		t.Fatalf("status = %v", status)
	}

	var got session.Status
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.HasPendingActions || len(got.Pending) != 2 {
		t.Errorf("status = %+v", got)
	}
}

func TestPendingCmd(t *testing.T) {
	open := seededOpener(t)

	tests := []struct {
		args   []string
		want   int
		status subcommands.ExitStatus
	}{
		{[]string{"pending"}, 2, subcommands.ExitSuccess},
		{[]string{"pending", "-type", "payment"}, 1, subcommands.ExitSuccess},
		{[]string{"pending", "-type", "delete"}, 0, subcommands.ExitSuccess},
		{[]string{"pending", "-type", "archive"}, 0, subcommands.ExitUsageError},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var out bytes.Buffer
			status := run(t, []subcommands.Command{&pendingCmd{open: open, out: &out}}, tt.args...)
			if status != tt.status {
				t.Fatalf("status = %v, want %v", status, tt.status)
			}
			if tt.status != subcommands.ExitSuccess {
				return
			}
			var actions []models.PendingAction
			if err := json.Unmarshal(out.Bytes(), &actions); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(actions) != tt.want {
				t.Errorf("got %d actions, want %d", len(actions), tt.want)
			}
		})
	}
}

func TestSyncCmd(t *testing.T) {
	open := seededOpener(t)
	var out bytes.Buffer

	status := run(t, []subcommands.Command{&syncCmd{open: open, out: &out}}, "sync")
	if status != subcommands.ExitSuccess {
		t.Fatalf("status = %v, output = %s", status, out.String())
	}
	var report struct {
		Status    string `json:"status"`
		Succeeded int    `json:"succeeded"`
	}
	json.Unmarshal(out.Bytes(), &report)
	if report.Status != "completed" || report.Succeeded != 2 {
		t.Errorf("report = %+v", report)
	}

	sess, _ := open()
	defer sess.Close()
	if sess.Queue().HasPending() {
		t.Error("queue not drained")
	}
}

func TestClearCmd(t *testing.T) {
	open := seededOpener(t)
	var out bytes.Buffer

	if status := run(t, []subcommands.Command{&clearCmd{open: open, out: &out}}, "clear"); status != subcommands.ExitUsageError {
		t.Errorf("clear without -yes = %v", status)
	}
	if status := run(t, []subcommands.Command{&clearCmd{open: open, out: &out}}, "clear", "-yes"); status != subcommands.ExitSuccess {
		t.Fatalf("clear -yes = %v", status)
	}
	if !strings.Contains(out.String(), `"dropped": 2`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestTokenCmd(t *testing.T) {
	open := seededOpener(t)

	tests := []struct {
		args   []string
		status subcommands.ExitStatus
		want   string
	}{
		{[]string{"token"}, subcommands.ExitSuccess, `"stored": false`},
		{[]string{"token", "-set", "abc"}, subcommands.ExitSuccess, `"stored": true`},
		{[]string{"token"}, subcommands.ExitSuccess, `"stored": true`},
		{[]string{"token", "-set", "abc", "-clear"}, subcommands.ExitUsageError, ""},
		{[]string{"token", "-clear"}, subcommands.ExitSuccess, `"stored": false`},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		status := run(t, []subcommands.Command{&tokenCmd{open: open, out: &out}}, tt.args...)
		if status != tt.status {
			t.Fatalf("%v: status = %v, want %v", tt.args, status, tt.status)
		}
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("%v: output = %q, want %q", tt.args, out.String(), tt.want)
		}
	}
}
