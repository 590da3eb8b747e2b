// Package session owns every component of the sync engine for one process.
// There are no package-level singletons: callers create a Session and pass
// it, or the components it exposes, to whatever needs them.
package session

import (
	"context"
	"sync"

	"github.com/kimhsiao/ledgerdesk/backend/internal/client"
	"github.com/kimhsiao/ledgerdesk/backend/internal/config"
	"github.com/kimhsiao/ledgerdesk/backend/internal/connectivity"
	"github.com/kimhsiao/ledgerdesk/backend/internal/crypto"
	"github.com/kimhsiao/ledgerdesk/backend/internal/db"
	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/guard"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/storage"
	syncpkg "github.com/kimhsiao/ledgerdesk/backend/internal/sync"
	"github.com/kimhsiao/ledgerdesk/backend/internal/sync/conflict"
	"github.com/kimhsiao/ledgerdesk/backend/internal/sync/queue"
	"github.com/kimhsiao/ledgerdesk/backend/internal/sync/scheduler"
	"github.com/kimhsiao/ledgerdesk/backend/internal/transport"
)

// Options replaces parts of the default wiring, mostly for tests.
type Options struct {
	// Store replaces the SQLite store in cfg.DataDir.
	Store storage.Store
	// Transport replaces the HTTP transport built from cfg.Remote.
	Transport client.Transport
	// DisableProber leaves connectivity to explicit SetOnline calls.
	DisableProber bool
}

// Session is the context object holding the engine's components.
type Session struct {
	cfg       *config.Config
	database  *db.DB
	store     storage.Store
	queue     *queue.Store
	monitor   *connectivity.Monitor
	prober    *connectivity.Prober
	notifier  *guard.Notifier
	guards    *guard.Registry
	client    *client.Client
	engine    *syncpkg.Engine
	scheduler *scheduler.Scheduler

	closeOnce sync.Once
}

// Status is the query surface for UIs.
type Status struct {
	Online            bool                   `json:"online"`
	HasPendingActions bool                   `json:"has_pending_actions"`
	Pending           []models.PendingAction `json:"pending"`
	Stats             models.SyncStats       `json:"stats"`
	Guards            []guard.State          `json:"guards"`
	Syncing           bool                   `json:"syncing"`
}

// New builds a Session from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg}

	store, err := s.openStore(opts.Store)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.queue = queue.NewStore(store)
	s.monitor = connectivity.NewMonitor(cfg.Connectivity.StartOnline)

	s.notifier = guard.NewNotifier(cfg.Guards.NotifyWindow)
	s.notifier.Subscribe(logNotice)
	s.guards = guard.NewRegistry(cfg.Guards.Defaults, cfg.GuardOverrides(), guard.WithNotifier(s.notifier))

	tr := opts.Transport
	if tr == nil {
		httpTransport, err := transport.NewHTTPTransport(&transport.Config{
			BaseURL:   cfg.Remote.BaseURL,
			AuthToken: s.authToken(),
			Timeout:   cfg.Remote.Timeout,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		tr = httpTransport
	}

	if !opts.DisableProber {
		s.prober = connectivity.NewProber(s.monitor, &connectivity.ProberConfig{
			URL:      cfg.HealthURL(),
			Interval: cfg.Connectivity.ProbeInterval,
			Timeout:  cfg.Connectivity.ProbeTimeout,
		})
	}

	s.client, err = client.New(client.Options{
		Transport:             tr,
		Monitor:               s.monitor,
		Queue:                 s.queue,
		Cache:                 client.NewCache(store),
		Guards:                s.guards,
		Resolver:              conflict.NewResolver(conflict.ParseStrategy(cfg.Sync.ConflictStrategy)),
		FoldPermanentFailures: cfg.Sync.FoldPermanentFailures,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.engine = syncpkg.NewEngine(s.queue, s.monitor, s.client.Executor())
	s.scheduler = scheduler.NewScheduler(s.engine, s.monitor, &scheduler.SchedulerConfig{
		SyncInterval: cfg.Sync.Interval,
		PassTimeout:  cfg.Sync.PassTimeout,
	})

	logging.Info("Session created", map[string]interface{}{
		"data_dir":  cfg.DataDir,
		"encrypted": cfg.Encrypt,
		"pending":   s.queue.Size(),
	})
	return s, nil
}

// openStore opens the durable store, sealing it when encryption is on.
func (s *Session) openStore(override storage.Store) (storage.Store, error) {
	store := override
	if store == nil {
		database, err := db.Open(s.cfg.DataDir)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "open database", err)
		}
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, errors.Wrap(errors.ErrStorage, "migrate database", err)
		}
		s.database = database
		store = storage.NewSQLStore(database)
	}

	if !s.cfg.Encrypt {
		return store, nil
	}
	sealed, err := storage.NewEncryptedStore(store, crypto.DeriveKey(crypto.MachineID()))
	if err != nil {
		if s.database != nil {
			s.database.Close()
		}
		return nil, err
	}
	return sealed, nil
}

// authToken returns the configured token, falling back to the one saved in
// the credential store.
func (s *Session) authToken() string {
	if s.cfg.Remote.AuthToken != "" {
		return s.cfg.Remote.AuthToken
	}
	token, err := crypto.NewCredentialStore(s.cfg.DataDir).Get(crypto.AccountRemoteToken)
	if err != nil {
		if err != crypto.ErrCredentialNotFound {
			logging.Warn("Stored API token unreadable", map[string]interface{}{"error": err.Error()})
		}
		return ""
	}
	return token
}

func logNotice(n guard.Notice) {
	logging.Warn("Rate limit guard notice", map[string]interface{}{
		"guard":                n.Guard,
		"event":                string(n.Event),
		"consecutive_failures": n.State.ConsecutiveFailures,
		"circuit_open":         n.State.CircuitOpen,
	})
}

// Start begins background draining and then connectivity probing, so the
// scheduler sees the first probe's transition.
func (s *Session) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
	if s.prober != nil {
		s.prober.Start(ctx)
	}
}

// Close stops background work and releases the database. It is safe to
// call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.scheduler != nil {
			s.scheduler.Stop()
		}
		if s.prober != nil {
			s.prober.Stop()
		}
		if s.guards != nil {
			s.guards.Close()
		}
		if s.database != nil {
			err = s.database.Close()
		}
		logging.Info("Session closed")
	})
	return err
}

// Status returns a snapshot of connectivity, the queue, drain statistics
// and guard states.
func (s *Session) Status() Status {
	pending := s.queue.List()
	return Status{
		Online:            s.monitor.Online(),
		HasPendingActions: len(pending) > 0,
		Pending:           pending,
		Stats:             s.engine.Stats(),
		Guards:            s.guards.States(),
		Syncing:           s.engine.IsSyncing(),
	}
}

// Probe checks the health endpoint once and updates the monitor. Without a
// prober it reports the current state.
func (s *Session) Probe(ctx context.Context) bool {
	if s.prober == nil {
		return s.monitor.Online()
	}
	return s.prober.Probe(ctx)
}

// SyncNow runs a drain pass immediately and waits for it.
func (s *Session) SyncNow(ctx context.Context) syncpkg.Report {
	return s.scheduler.SyncNow(ctx)
}

// Config returns the configuration the session was built from.
func (s *Session) Config() *config.Config { return s.cfg }

// Client returns the offline-first data client.
func (s *Session) Client() *client.Client { return s.client }

// Queue returns the pending action store.
func (s *Session) Queue() *queue.Store { return s.queue }

// Monitor returns the connectivity monitor.
func (s *Session) Monitor() *connectivity.Monitor { return s.monitor }

// Engine returns the drain engine.
func (s *Session) Engine() *syncpkg.Engine { return s.engine }

// Scheduler returns the drain scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.scheduler }

// Notifier returns the guard notice fan-out.
func (s *Session) Notifier() *guard.Notifier { return s.notifier }

// Guards returns the guard registry.
func (s *Session) Guards() *guard.Registry { return s.guards }
