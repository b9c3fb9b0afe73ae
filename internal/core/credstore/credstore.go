// Package credstore holds per-origin credentials for the read path. The
// core only looks credentials up; writing them is the CLI's business.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davstream/internal/core/origin"
	"go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("credential not found")

var credentialsBucket = []byte("credentials")

// Static is an in-memory store, filled from config or flags.
type Static struct {
	mu    sync.RWMutex
	creds map[string]origin.Credential
}

func NewStatic() *Static {
	return &Static{creds: make(map[string]origin.Credential)}
}

func (s *Static) Put(o origin.Origin, cred origin.Credential) {
	s.mu.Lock()
	s.creds[o.Key()] = cred
	s.mu.Unlock()
}

func (s *Static) LookupCredential(o origin.Origin) (origin.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[o.Key()]
	return c, ok
}

type record struct {
	Username string    `json:"username"`
	Password string    `json:"password"`
	SavedAt  time.Time `json:"saved_at"`
}

// BoltStore persists credentials in a bbolt file, keyed by origin.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create credentials bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(o origin.Origin, cred origin.Credential) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(record{Username: cred.Username, Password: cred.Password, SavedAt: time.Now().UTC()})
		if err != nil {
			return fmt.Errorf("failed to marshal credential: %w", err)
		}
		return tx.Bucket(credentialsBucket).Put([]byte(o.Key()), data)
	})
}

// Get returns ErrNotFound when nothing is stored for o.
func (s *BoltStore) Get(o origin.Origin) (origin.Credential, error) {
	var rec record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(credentialsBucket).Get([]byte(o.Key()))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return origin.Credential{}, err
	}
	return origin.Credential{Username: rec.Username, Password: rec.Password}, nil
}

func (s *BoltStore) LookupCredential(o origin.Origin) (origin.Credential, bool) {
	cred, err := s.Get(o)
	return cred, err == nil
}

func (s *BoltStore) Delete(o origin.Origin) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		if b.Get([]byte(o.Key())) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(o.Key()))
	})
}

// Origins lists the keys of every stored credential.
func (s *BoltStore) Origins() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(credentialsBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Chain consults each store in order and returns the first hit.
type Chain []interface {
	LookupCredential(origin.Origin) (origin.Credential, bool)
}

func (c Chain) LookupCredential(o origin.Origin) (origin.Credential, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if cred, ok := s.LookupCredential(o); ok {
			return cred, true
		}
	}
	return origin.Credential{}, false
}
