// Package bolt keeps audit records in a local BBolt file, keyed by record
// id. Record ids are ULIDs, so key order is creation order.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

var bucketAudit = []byte("audit")

// ErrNotFound is returned by Get for an unknown record id.
var ErrNotFound = errors.New("audit record not found")

// AuditLog implements schoolauth.AuditSink backed by a BBolt database.
type AuditLog struct {
	db *bbolt.DB
}

var _ schoolauth.AuditSink = (*AuditLog)(nil)

// New returns an AuditLog over db, creating the bucket if needed.
func New(db *bbolt.DB) (*AuditLog, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating audit bucket: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// Open opens a BBolt database at path and returns an AuditLog over it.
func Open(path string, options *bbolt.Options) (*AuditLog, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	l, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying BBolt database.
func (l *AuditLog) Close() error {
	return l.db.Close()
}

// Append stores rec. A record with an empty id is rejected.
func (l *AuditLog) Append(_ context.Context, rec schoolauth.AuditRecord) error {
	if rec.ID == "" {
		return errors.New("audit record without id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAudit).Put([]byte(rec.ID), data)
	})
}

func (l *AuditLog) Get(id string) (schoolauth.AuditRecord, error) {
	var rec schoolauth.AuditRecord
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAudit).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// List returns up to limit records with ids after the given cursor, oldest
// first. An empty after starts at the beginning; limit <= 0 means no limit.
func (l *AuditLog) List(after string, limit int) ([]schoolauth.AuditRecord, error) {
	var out []schoolauth.AuditRecord
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		k, v := c.First()
		if after != "" {
			k, v = c.Seek([]byte(after))
			if k != nil && bytes.Equal(k, []byte(after)) {
				k, v = c.Next()
			}
		}
		for ; k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var rec schoolauth.AuditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Prune deletes records created before cutoff and reports how many were
// removed.
func (l *AuditLog) Prune(cutoff time.Time) (int, error) {
	bound := ulid.ULID{}
	if err := bound.SetTime(ulid.Timestamp(cutoff)); err != nil {
		return 0, err
	}
	limit := []byte(bound.String())

	n := 0
	err := l.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
