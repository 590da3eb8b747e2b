// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libledgerdesk.so (Android) / ledgerdesk.framework (iOS)
package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/kimhsiao/ledgerdesk/backend/internal/config"
	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/session"
)

// bridge holds the process session behind the exported C functions. Every
// call takes and returns JSON.
type bridge struct {
	mu      sync.Mutex
	sess    *session.Session
	cancel  context.CancelFunc
	lastErr string
}

var core = &bridge{}

// open builds and starts a session unless one is already running.
func (b *bridge) open(build func() (*session.Session, error)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sess != nil {
		return true
	}
	sess, err := build()
	if err != nil {
		b.lastErr = err.Error()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess.Start(ctx)
	b.sess = sess
	b.cancel = cancel
	return true
}

func (b *bridge) init(configPath string) bool {
	return b.open(func() (*session.Session, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))
		return session.New(cfg, session.Options{})
	})
}

func (b *bridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return
	}
	b.cancel()
	b.sess.Close()
	b.sess = nil
}

func (b *bridge) lastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *bridge) current() *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess
}

// call runs fn against the session and encodes its result. ok is false
// when the session is missing or fn failed; the cause is kept for
// GetLastError.
func (b *bridge) call(fn func(ctx context.Context, s *session.Session) (interface{}, error)) (string, bool) {
	s := b.current()
	if s == nil {
		b.fail(errors.New(errors.ErrInternal, "core not initialized"))
		return "", false
	}
	result, err := fn(context.Background(), s)
	if err != nil {
		b.fail(err)
		return "", false
	}
	data, err := json.Marshal(result)
	if err != nil {
		b.fail(err)
		return "", false
	}
	return string(data), true
}

func (b *bridge) fail(err error) {
	b.mu.Lock()
	b.lastErr = err.Error()
	b.mu.Unlock()
}

func decodeBody(body string) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil || rec == nil {
		return nil, errors.New(errors.ErrInvalid, "body must be a JSON object")
	}
	return rec, nil
}

// =====================================================
// Operations
// =====================================================

func (b *bridge) list(resource string) (string, bool) {
	return b.call(func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.Client().ReadCollection(ctx, resource)
	})
}

// create dispatches on kind: "" for a plain create, "upload" or "payment".
func (b *bridge) create(resource, kind, body string) (string, bool) {
	return b.call(func(ctx context.Context, s *session.Session) (interface{}, error) {
		rec, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		switch kind {
		case "":
			return s.Client().Create(ctx, resource, rec)
		case "upload":
			return s.Client().Upload(ctx, resource, rec)
		case "payment":
			return s.Client().RecordPayment(ctx, resource, rec)
		}
		return nil, errors.New(errors.ErrInvalid, "unknown kind "+kind)
	})
}

func (b *bridge) update(resource, id, body string) (string, bool) {
	return b.call(func(ctx context.Context, s *session.Session) (interface{}, error) {
		patch, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		return s.Client().Update(ctx, resource, id, patch)
	})
}

func (b *bridge) changeStatus(resource, id, status string) (string, bool) {
	return b.call(func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.Client().ChangeStatus(ctx, resource, id, status)
	})
}

func (b *bridge) remove(resource, id string) bool {
	_, ok := b.call(func(ctx context.Context, s *session.Session) (interface{}, error) {
		return nil, s.Client().Delete(ctx, resource, id)
	})
	return ok
}

func (b *bridge) status() (string, bool) {
	return b.call(func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.Status(), nil
	})
}

func (b *bridge) syncNow() (string, bool) {
	return b.call(func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.SyncNow(ctx), nil
	})
}

func (b *bridge) setOnline(online bool) bool {
	_, ok := b.call(func(ctx context.Context, s *session.Session) (interface{}, error) {
		s.Monitor().SetOnline(online)
		return nil, nil
	})
	return ok
}

func main() {
	// Required for c-shared builds
}
