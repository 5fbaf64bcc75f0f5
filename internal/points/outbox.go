package points

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var outboxBucket = []byte("pending_awards")

// PendingAward is an award that could not be applied and waits for a retry.
type PendingAward struct {
	ID       string    `json:"id"`
	UserID   int64     `json:"user_id"`
	Amount   int       `json:"amount"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	QueuedAt time.Time `json:"queued_at"`

	key []byte
}

// Outbox persists pending awards in a bbolt file, oldest first.
type Outbox struct {
	db     *bolt.DB
	logger *slog.Logger
}

func OpenOutbox(path string, logger *slog.Logger) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(outboxBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create outbox bucket: %w", err)
	}
	return &Outbox{db: db, logger: logger}, nil
}

func (o *Outbox) Enqueue(a PendingAward) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		return put(tx, a)
	})
}

func put(tx *bolt.Tx, a PendingAward) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.QueuedAt = time.Now()
	key := []byte(fmt.Sprintf("%020d_%s", a.QueuedAt.UnixNano(), a.ID))

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal award: %w", err)
	}
	return tx.Bucket(outboxBucket).Put(key, payload)
}

// Batch returns up to limit awards without removing them. Entries that no
// longer decode are deleted.
func (o *Outbox) Batch(limit int) ([]PendingAward, error) {
	if limit <= 0 {
		limit = 50
	}
	var awards []PendingAward
	err := o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(outboxBucket)
		var corrupt [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(awards) < limit; k, v = c.Next() {
			var a PendingAward
			if err := json.Unmarshal(v, &a); err != nil {
				o.logger.Error("dropping undecodable pending award", "key", string(k), "error", err)
				corrupt = append(corrupt, append([]byte(nil), k...))
				continue
			}
			a.key = append([]byte(nil), k...)
			awards = append(awards, a)
		}
		for _, k := range corrupt {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("delete pending award: %w", err)
			}
		}
		return nil
	})
	return awards, err
}

func (o *Outbox) Remove(a PendingAward) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Delete(a.key)
	})
}

// Requeue moves an award to the back of the queue with one more attempt
// recorded, in a single transaction.
func (o *Outbox) Requeue(a PendingAward) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(outboxBucket).Delete(a.key); err != nil {
			return err
		}
		a.Attempts++
		return put(tx, a)
	})
}

func (o *Outbox) Size() (int, error) {
	var n int
	err := o.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(outboxBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (o *Outbox) Close() error {
	return o.db.Close()
}
