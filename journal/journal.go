// Package journal persists confirmation attempts so pending transfers survive
// a restart. Records hold transaction metadata only, never seeds or keys.
package journal

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/pilacorp/go-ledger-sdk/confirm"
)

const keyPrefix = "attempt:"

// ErrNotFound is returned by Get for unknown transaction ids.
var ErrNotFound = errors.New("attempt not found")

// Store is a LevelDB-backed attempt journal. It implements confirm.Recorder.
type Store struct {
	db *leveldb.DB
}

var _ confirm.Recorder = (*Store)(nil)

// Open opens (or creates) a journal at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(txID string) []byte {
	return []byte(keyPrefix + txID)
}

// Record stores a snapshot of a, replacing any earlier one.
func (s *Store) Record(ctx context.Context, a *confirm.Attempt) error {
	if a == nil || a.TransactionID == "" {
		return errors.New("attempt has no transaction id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encode attempt")
	}
	return errors.Wrapf(s.db.Put(key(a.TransactionID), value, nil), "store attempt %s", a.TransactionID)
}

// Get returns the stored attempt for txID.
func (s *Store) Get(txID string) (*confirm.Attempt, error) {
	value, err := s.db.Get(key(txID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errors.Wrap(ErrNotFound, txID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read attempt %s", txID)
	}

	var a confirm.Attempt
	if err := json.Unmarshal(value, &a); err != nil {
		return nil, errors.Wrapf(err, "decode attempt %s", txID)
	}
	return &a, nil
}

// List returns every stored attempt, oldest update first.
func (s *Store) List() ([]*confirm.Attempt, error) {
	return s.filter(func(*confirm.Attempt) bool { return true })
}

// Unsettled returns attempts still waiting or timed out.
func (s *Store) Unsettled() ([]*confirm.Attempt, error) {
	return s.filter(func(a *confirm.Attempt) bool { return !a.Status.Settled() })
}

func (s *Store) filter(keep func(*confirm.Attempt) bool) ([]*confirm.Attempt, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	var out []*confirm.Attempt
	for iter.Next() {
		var a confirm.Attempt
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			return nil, errors.Wrapf(err, "decode %s", iter.Key())
		}
		if keep(&a) {
			out = append(out, &a)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate journal")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Delete removes the attempt for txID. Deleting an unknown id is not an error.
func (s *Store) Delete(txID string) error {
	return errors.Wrapf(s.db.Delete(key(txID), nil), "delete attempt %s", txID)
}
