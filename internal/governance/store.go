package governance

import (
	"context"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"vagus/internal/logging"
)

// Store publishes the active policy as a single atomically-replaceable
// value. Readers never observe a half-applied policy.
type Store struct {
	policy atomic.Pointer[Policy]
}

// NewStore creates a store publishing the given policy.
func NewStore(p *Policy) *Store {
	s := &Store{}
	s.policy.Store(p)
	return s
}

// Current returns the active policy.
func (s *Store) Current() *Policy {
	return s.policy.Load()
}

// swap atomically replaces the active policy.
func (s *Store) swap(p *Policy) {
	s.policy.Store(p)
}

// Watch reloads the policy file whenever it changes, swapping the store
// contents only after the new file validates. A file that fails to parse is
// logged and ignored; the previous policy stays active. Watch returns when
// ctx is cancelled.
func Watch(ctx context.Context, path string, store *Store) error {
	log := logging.For("governance")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log.Info("watching policy file", zap.String("path", path))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			policy, err := Load(path)
			if err != nil {
				log.Warn("policy reload rejected, keeping previous policy", zap.Error(err))
				continue
			}
			store.swap(policy)
			log.Info("policy reloaded", zap.Int("tools", len(policy.Tools)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("policy watcher error", zap.Error(err))
		}
	}
}
