// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package jobs

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/unraid-api/internal/logging"
)

// ErrHistoryNotFound is returned by HistoryStore.Get for unknown IDs.
var ErrHistoryNotFound = errors.New("job not found in history")

const historyKeyPrefix = "job:"

// HistoryStore keeps finished jobs on disk after they leave the Tracker.
type HistoryStore struct {
	db        *badger.DB
	retention time.Duration
}

// OpenHistoryStore opens (or creates) a history database in dir. Entries
// expire after retention; zero keeps them forever.
func OpenHistoryStore(dir string, retention time.Duration) (*HistoryStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job history at %s: %w", dir, err)
	}
	return &HistoryStore{db: db, retention: retention}, nil
}

// OpenInMemoryHistoryStore is for tests.
func OpenInMemoryHistoryStore() (*HistoryStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory job history: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Save writes st, replacing any earlier record with the same ID.
func (h *HistoryStore) Save(st Status) error {
	if st.ID == "" {
		return errors.New("job id cannot be empty")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", st.ID, err)
	}
	return h.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(historyKeyPrefix+st.ID), data)
		if h.retention > 0 {
			entry = entry.WithTTL(h.retention)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns the archived job or ErrHistoryNotFound.
func (h *HistoryStore) Get(id string) (*Status, error) {
	var st Status
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(historyKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrHistoryNotFound
		}
		if err != nil {
			return fmt.Errorf("get job %s: %w", id, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// List returns up to limit archived jobs, most recently started first.
// A limit of zero or less returns everything.
func (h *HistoryStore) List(limit int) ([]Status, error) {
	var out []Status
	err := h.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(historyKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var st Status
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping corrupt job history entry")
				continue
			}
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list job history: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes an archived job. Unknown IDs are not an error.
func (h *HistoryStore) Delete(id string) error {
	return h.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(historyKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Observer returns a tracker Observer that archives jobs as they finish and
// again when they are cleared, so the last known state is kept. Only
// terminal jobs are archived; a job cleared before it finished has no
// outcome to keep.
func (h *HistoryStore) Observer() Observer {
	return func(kind ChangeKind, st Status) {
		if kind == ChangeInitialized || !st.State.IsTerminal() {
			return
		}
		if err := h.Save(st); err != nil {
			logging.Error().Err(err).Str("job_id", st.ID).Msg("Failed to archive job")
		}
	}
}

// Close closes the underlying database.
func (h *HistoryStore) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}
