package sim

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"fleetgate/internal/fleet"

	badger "github.com/dgraph-io/badger/v4"
)

var errNotFound = errors.New("not found")

const keyPrefix = "instance:"

// machine is the persisted form of a simulated instance.
type machine struct {
	fleet.Instance
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// store keeps machines in Badger as JSON values.
type store struct {
	db *badger.DB
}

func openStore(path string) (*store, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil                         // badger is chatty at info level
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

func machineKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func (s *store) save(ctx context.Context, m *machine) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(machineKey(m.ID), data)
	})
}

func (s *store) get(ctx context.Context, id string) (*machine, error) {
	var out machine
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(machineKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *store) list(ctx context.Context) ([]machine, error) {
	var out []machine
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var m machine
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}
