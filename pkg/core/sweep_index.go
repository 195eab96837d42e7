package core

import (
	"fmt"
	"os"
	"time"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
)

// referenceIndex records the artifact keys referenced by manifest entries, backed by badger
type referenceIndex struct {
	db *badger.DB
}

func openReferenceIndex(pth string) (*referenceIndex, error) {
	var opts badger.Options
	if pth == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(pth, 0700); err != nil {
			return nil, fmt.Errorf("index: mkdir: %w", err)
		}
		opts = badger.DefaultOptions(pth)
	}
	db, err := badger.Open(opts.WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	return &referenceIndex{db: db}, nil
}

// Reset drops the entries left by a previous sweep using the same on-disk index
func (x *referenceIndex) Reset() error {
	return x.db.DropAll()
}

// Add a referenced key, valued with the manifest entry referring to it.
// Transaction conflicts are retried.
func (x *referenceIndex) Add(key, referrer string) error {
	return backoff.Retry(func() error {
		err := x.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(key), []byte(referrer))
		})
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 10),
	)
}

// Referrer returns the manifest entry referencing a key, and whether the key is referenced
func (x *referenceIndex) Referrer(key string) (string, bool, error) {
	var referrer []byte
	err := x.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get([]byte(key))
		if e != nil {
			return e
		}
		referrer, e = item.ValueCopy(nil)
		return e
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(referrer), true, nil
}

// Len counts the referenced keys
func (x *referenceIndex) Len() (int, error) {
	var n int
	err := x.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (x *referenceIndex) Close() error {
	return x.db.Close()
}
