// Package scheduler triggers drain passes on reconnect, on a timer and on
// request.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	syncpkg "github.com/kimhsiao/ledgerdesk/backend/internal/sync"
)

// Connectivity is the subset of the connectivity monitor the scheduler uses.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	monitor      Connectivity
	syncInterval time.Duration
	passTimeout  time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	lastReport   *syncpkg.Report
	lastSyncTime time.Time
	unsubscribe  func()
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to drain while online (default: 30 seconds)
	PassTimeout  time.Duration // Upper bound for one drain pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 30 * time.Second,
		PassTimeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, monitor Connectivity, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultSchedulerConfig().SyncInterval
	}
	if config.PassTimeout <= 0 {
		config.PassTimeout = DefaultSchedulerConfig().PassTimeout
	}

	return &Scheduler{
		engine:       engine,
		monitor:      monitor,
		syncInterval: config.SyncInterval,
		passTimeout:  config.PassTimeout,
		stopCh:       make(chan struct{}),
	}
}

// Start starts the periodic loop and the reconnect subscription.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.unsubscribe = s.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		if s.engine.PendingChanges() == 0 {
			return
		}
		logging.Info("Back online with pending actions, draining", map[string]interface{}{
			"pending": s.engine.PendingChanges(),
		})
		s.spawn(ctx)
	})

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
}

// Stop stops the scheduler and waits for in-flight passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// periodicSyncLoop drains on every tick while online with pending actions.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.monitor.Online() || s.engine.PendingChanges() == 0 {
				continue
			}
			if s.engine.Status() == syncpkg.SyncStatusSyncing {
				logging.Debug("Sync already in progress, skipping", nil)
				continue
			}
			s.runSync(ctx, "periodic")
		}
	}
}

// spawn runs a pass in a tracked goroutine unless the scheduler is stopping.
func (s *Scheduler) spawn(ctx context.Context) bool {
	s.mu.RLock()
	running := s.isRunning
	if running {
		s.wg.Add(1)
	}
	s.mu.RUnlock()
	if !running {
		return false
	}

	go func() {
		defer s.wg.Done()
		s.runSync(ctx, "trigger")
	}()
	return true
}

// runSync executes one drain pass with the configured timeout.
func (s *Scheduler) runSync(ctx context.Context, trigger string) syncpkg.Report {
	syncCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	report := s.engine.Synchronize(syncCtx)
	if !report.Ran() {
		logging.Debug("Sync skipped", map[string]interface{}{
			"trigger": trigger,
			"status":  string(report.Status),
		})
		return report
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastReport = &report
	s.mu.Unlock()

	logging.Info("Sync pass finished", map[string]interface{}{
		"trigger":   trigger,
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	})
	return report
}

// TriggerSync starts a drain pass in the background.
// Returns false if a pass is already in progress or the scheduler is stopped.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if s.engine.Status() == syncpkg.SyncStatusSyncing {
		return false
	}
	return s.spawn(ctx)
}

// SyncNow runs a drain pass and waits for its report.
func (s *Scheduler) SyncNow(ctx context.Context) syncpkg.Report {
	return s.runSync(ctx, "manual")
}

// SchedulerStatus is the current status of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool            `json:"is_running"`
	IsOnline       bool            `json:"is_online"`
	SyncInProgress bool            `json:"sync_in_progress"`
	PendingItems   int             `json:"pending_items"`
	LastSyncTime   *time.Time      `json:"last_sync_time,omitempty"`
	LastReport     *syncpkg.Report `json:"last_report,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.monitor.Online(),
		SyncInProgress: s.engine.Status() == syncpkg.SyncStatusSyncing,
		PendingItems:   s.engine.PendingChanges(),
		LastReport:     s.lastReport,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
