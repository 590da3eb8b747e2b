package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/kimhsiao/ledgerdesk/backend/internal/config"
	"github.com/kimhsiao/ledgerdesk/backend/internal/crypto"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/session"
)

// opener builds the session a command works on.
type opener func() (*session.Session, error)

// commands returns every subcommand. configPath is read lazily because
// flags are parsed after registration.
func commands(configPath func() string, out io.Writer) []subcommands.Command {
	open := func() (*session.Session, error) {
		cfg, err := config.Load(configPath())
		if err != nil {
			return nil, err
		}
		logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))
		return session.New(cfg, session.Options{})
	}
	return []subcommands.Command{
		&statusCmd{open: open, out: out},
		&pendingCmd{open: open, out: out},
		&syncCmd{open: open, out: out},
		&clearCmd{open: open, out: out},
		&tokenCmd{open: open, out: out},
		&versionCmd{out: out},
	}
}

func printJSON(out io.Writer, v interface{}) subcommands.ExitStatus {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// =====================================================
// status
// =====================================================

type statusCmd struct {
	open opener
	out  io.Writer
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show connectivity, queue and guard state" }
func (*statusCmd) Usage() string {
	return `ledgerdesk status

  Prints the session status as JSON.
`
}
func (*statusCmd) SetFlags(f *flag.FlagSet) {}

func (c *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	sess, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer sess.Close()
	return printJSON(c.out, sess.Status())
}

// =====================================================
// pending
// =====================================================

type pendingCmd struct {
	open       opener
	out        io.Writer
	actionType string
}

func (*pendingCmd) Name() string     { return "pending" }
func (*pendingCmd) Synopsis() string { return "list queued actions" }
func (*pendingCmd) Usage() string {
	return `ledgerdesk pending [-type <action type>]

  Lists queued actions in replay order.
`
}

func (c *pendingCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.actionType, "type", "", "only list actions of this type (create, update, delete, status_change, upload, payment)")
}

func (c *pendingCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	t := models.ActionType(c.actionType)
	if c.actionType != "" && !t.Valid() {
		fmt.Fprintf(os.Stderr, "Error: unknown action type %q\n", c.actionType)
		return subcommands.ExitUsageError
	}

	sess, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer sess.Close()

	if c.actionType == "" {
		return printJSON(c.out, sess.Queue().List())
	}
	return printJSON(c.out, sess.Queue().ListByType(t))
}

// =====================================================
// sync
// =====================================================

type syncCmd struct {
	open    opener
	out     io.Writer
	timeout time.Duration
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "drain the pending action queue once" }
func (*syncCmd) Usage() string {
	return `ledgerdesk sync [-timeout <duration>]

  Probes the remote service and, when reachable, replays queued actions.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.timeout, "timeout", 5*time.Minute, "upper bound for the drain pass")
}

func (c *syncCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	sess, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if !sess.Probe(ctx) {
		logging.Warn("Remote service unreachable", map[string]interface{}{"health_url": sess.Config().HealthURL()})
	}
	report := sess.SyncNow(ctx)
	if status := printJSON(c.out, report); status != subcommands.ExitSuccess {
		return status
	}
	if report.Failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// =====================================================
// clear
// =====================================================

type clearCmd struct {
	open opener
	out  io.Writer
	yes  bool
}

func (*clearCmd) Name() string     { return "clear" }
func (*clearCmd) Synopsis() string { return "discard every queued action" }
func (*clearCmd) Usage() string {
	return `ledgerdesk clear -yes

  Drops all queued actions. Unsynced local changes are lost.
`
}

func (c *clearCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "confirm discarding the queue")
}

func (c *clearCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if !c.yes {
		fmt.Fprintln(os.Stderr, "Error: refusing to clear the queue without -yes")
		return subcommands.ExitUsageError
	}
	sess, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer sess.Close()

	dropped := sess.Queue().Size()
	if err := sess.Queue().Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return printJSON(c.out, map[string]int{"dropped": dropped})
}

// =====================================================
// token
// =====================================================

type tokenCmd struct {
	open  opener
	out   io.Writer
	set   string
	clear bool
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "manage the stored API token" }
func (*tokenCmd) Usage() string {
	return `ledgerdesk token [-set <token> | -clear]

  Saves or removes the bearer token used when remote.auth_token is not
  configured. Without flags, reports whether a token is stored.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.set, "set", "", "token to store")
	f.BoolVar(&c.clear, "clear", false, "remove the stored token")
}

func (c *tokenCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.set != "" && c.clear {
		fmt.Fprintln(os.Stderr, "Error: -set and -clear are exclusive")
		return subcommands.ExitUsageError
	}
	sess, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	dataDir := sess.Config().DataDir
	sess.Close()

	creds := crypto.NewCredentialStore(dataDir)
	switch {
	case c.set != "":
		err = creds.Store(crypto.AccountRemoteToken, c.set)
	case c.clear:
		err = creds.Delete(crypto.AccountRemoteToken)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	_, err = creds.Get(crypto.AccountRemoteToken)
	return printJSON(c.out, map[string]bool{"stored": err == nil})
}

// =====================================================
// version
// =====================================================

type versionCmd struct {
	out io.Writer
}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string         { return "print the version" }
func (*versionCmd) Usage() string            { return "ledgerdesk version\n" }
func (*versionCmd) SetFlags(f *flag.FlagSet) {}

func (c *versionCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(c.out, "ledgerdesk v%s\n", Version)
	return subcommands.ExitSuccess
}
