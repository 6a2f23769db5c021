// Package badgerdb is an embedded key-value trace store backed by BadgerDB.
package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key layout:
//
//	proc/<context_id>                 full RouterProcess JSON
//	idx/<created_unix_nano>/<id>      ProcessSummary JSON, ordered by creation
//	evt/<context_id>/<seq>            LifecycleEvent JSON
const (
	procPrefix = "proc/"
	idxPrefix  = "idx/"
	evtPrefix  = "evt/"
	seqKey     = "seq/events"
)

type Config struct {
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// Store implements ports.StorageProvider on top of a badger.DB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ ports.StorageProvider = (*Store)(nil)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (or creates) a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open event sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

// OpenInMemory opens a throwaway store, mostly for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func processKey(id string) []byte {
	return []byte(procPrefix + id)
}

func indexKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", idxPrefix, createdAt.UnixNano(), id))
}

func eventKey(id string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", evtPrefix, id, seq))
}

func (s *Store) SaveProcess(ctx context.Context, p *domain.RouterProcess) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal process: %w", err)
	}
	summary, err := json.Marshal(p.Summary())
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(processKey(p.ContextID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(p.CreatedAt, p.ContextID), summary)
	})
	if err != nil {
		return domain.ErrStorageUnavailable("failed to save process").WithCause(err)
	}
	return nil
}

func (s *Store) GetProcess(ctx context.Context, contextID string) (*domain.RouterProcess, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(processKey(contextID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound(fmt.Sprintf("process %s not found", contextID))
	}
	if err != nil {
		return nil, domain.ErrStorageUnavailable("failed to get process").WithCause(err)
	}

	var p domain.RouterProcess
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal process: %w", err)
	}
	return &p, nil
}

// ListProcesses walks the creation index in reverse.
func (s *Store) ListProcesses(ctx context.Context, opts ports.ListOptions) ([]domain.ProcessSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	result := make([]domain.ProcessSummary, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Reverse = true
		iopts.Prefix = []byte(idxPrefix)
		it := txn.NewIterator(iopts)
		defer it.Close()

		skipped := 0
		// Seek past every idx/ key; the reverse iterator then walks newest first.
		for it.Seek([]byte(idxPrefix + "\xff")); it.ValidForPrefix([]byte(idxPrefix)); it.Next() {
			if skipped < opts.Offset {
				skipped++
				continue
			}
			if len(result) >= limit {
				break
			}
			var summary domain.ProcessSummary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &summary)
			}); err != nil {
				return err
			}
			result = append(result, summary)
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrStorageUnavailable("failed to list processes").WithCause(err)
	}
	return result, nil
}

func (s *Store) AppendLifecycleEvent(ctx context.Context, event *domain.LifecycleEvent) error {
	ev := *event
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	n, err := s.seq.Next()
	if err != nil {
		return domain.ErrStorageUnavailable("failed to allocate event sequence").WithCause(err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(ev.ContextID, n), data)
	}); err != nil {
		return domain.ErrStorageUnavailable("failed to append lifecycle event").WithCause(err)
	}
	return nil
}

func (s *Store) ListLifecycleEvents(ctx context.Context, contextID string) ([]*domain.LifecycleEvent, error) {
	prefix := []byte(evtPrefix + contextID + "/")
	var events []*domain.LifecycleEvent

	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var raw struct {
				Type      domain.LifecycleEventType `json:"type"`
				ContextID string                    `json:"context_id"`
				Timestamp time.Time                 `json:"timestamp"`
				Data      jsoniter.RawMessage       `json:"data,omitempty"`
			}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &raw)
			}); err != nil {
				return err
			}
			ev := &domain.LifecycleEvent{Type: raw.Type, ContextID: raw.ContextID, Timestamp: raw.Timestamp}
			if len(raw.Data) > 0 {
				ev.Data = raw.Data
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrStorageUnavailable("failed to list lifecycle events").WithCause(err)
	}
	return events, nil
}

func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("release sequence: %w", err)
	}
	return s.db.Close()
}
