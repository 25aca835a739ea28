package bolt

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/goodtune/adherence/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

// Append stores the session and indexes it under its patient by created_at.
func (s *sessionStore) Append(ctx context.Context, session storage.UsageSession) error {
	if session.ID == "" {
		session.ID = storage.NewID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	data, err := marshal(session)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketSessions))
		if bucket == nil {
			return fmt.Errorf("session bucket missing")
		}
		if err := bucket.Put([]byte(session.ID), data); err != nil {
			return err
		}
		index, err := patientIndex(tx, session.PatientID)
		if err != nil {
			return err
		}
		return index.Put([]byte(sessionIndexKey(session.CreatedAt, session.ID)), []byte(session.ID))
	})
}

func (s *sessionStore) QueryByPatient(ctx context.Context, patientID string, from, to time.Time, order storage.SortOrder) ([]storage.UsageSession, error) {
	sessions := make([]storage.UsageSession, 0)
	lower := []byte(timeKey(from))
	upper := timeKey(to)

	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketSessionsPatient))
		if root == nil {
			return nil
		}
		index := root.Bucket([]byte(normalizeIndexKey(patientID)))
		if index == nil {
			return nil
		}
		records := tx.Bucket([]byte(bucketSessions))
		if records == nil {
			return fmt.Errorf("session bucket missing")
		}

		c := index.Cursor()
		for k, id := c.Seek(lower); k != nil; k, id = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if string(k[:len(upper)]) > upper {
				break
			}
			value := records.Get(id)
			if value == nil {
				continue
			}
			var session storage.UsageSession
			if err := unmarshal(value, &session); err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if order == storage.Descending {
		slices.Reverse(sessions)
	}
	return sessions, nil
}

func patientIndex(tx *bbolt.Tx, patientID string) (*bbolt.Bucket, error) {
	root := tx.Bucket([]byte(bucketSessionsPatient))
	if root == nil {
		return nil, fmt.Errorf("patient index bucket missing")
	}
	return root.CreateBucketIfNotExists([]byte(normalizeIndexKey(patientID)))
}

// timeKey renders t so that lexical order matches chronological order.
// Times before the epoch collapse to zero.
func timeKey(t time.Time) string {
	if t.Before(time.Unix(0, 0)) {
		return fmt.Sprintf("%020d", 0)
	}
	return fmt.Sprintf("%020d", t.UnixNano())
}

func sessionIndexKey(createdAt time.Time, id string) string {
	return timeKey(createdAt) + "/" + id
}

func normalizeIndexKey(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
