// Package eventlog persists proxy status events to a bolt journal and
// serves them back to the status API. Writes happen on a small worker pool
// so the event consumer never waits on disk; journal writes are shed under
// overload and the sheds are counted.
package eventlog

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/twinleaf/tio/pkg/common"
	"github.com/twinleaf/tio/pkg/common/workerpool"
	"github.com/twinleaf/tio/pkg/jsonutil"
)

// BucketEvents holds journal records keyed by sequence number.
var BucketEvents = []byte("events")

const (
	writerWorkers   = 1
	writerQueueSize = 512
)

// Record is one journaled status event.
type Record struct {
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
	Client uint64    `json:"client,omitempty"`
	WireID uint16    `json:"wire_id,omitempty"`
	Rate   uint32    `json:"rate,omitempty"`
}

// Journal is a bounded, append-only event store.
type Journal struct {
	db     *bolt.DB
	logger *common.Logger
	pool   *workerpool.Pool
	retain int

	mu   sync.Mutex
	seq  uint64
	shed int64
}

// Open opens or creates the journal database. retain bounds how many
// records are kept; older ones are pruned as new ones arrive.
func Open(path string, retain int, logger *common.Logger) (*Journal, error) {
	if retain <= 0 {
		retain = common.DefaultJournalRetain
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	j := &Journal{db: db, logger: logger, retain: retain}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(BucketEvents)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			j.seq = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal %s: %w", path, err)
	}
	j.pool = workerpool.New(writerWorkers, writerQueueSize, func(err error) {
		if logger != nil {
			logger.Warn("journal write failed: %v", err)
		}
	})
	return j, nil
}

// Append queues a record for persistence. It never blocks; under overload
// the record is shed and counted.
func (j *Journal) Append(rec Record) {
	j.mu.Lock()
	j.seq++
	rec.Seq = j.seq
	j.mu.Unlock()
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	err := j.pool.TrySubmit(workerpool.TaskFunc(func(ctx context.Context) error {
		return j.write(rec)
	}))
	if err != nil {
		atomic.AddInt64(&j.shed, 1)
	}
}

func (j *Journal) write(rec Record) error {
	data, err := jsonutil.Marshal(rec)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketEvents)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, rec.Seq)
		if err := b.Put(key, data); err != nil {
			return err
		}
		// Prune beyond the retention bound.
		if rec.Seq > uint64(j.retain) {
			min := rec.Seq - uint64(j.retain)
			c := b.Cursor()
			for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= min; k, _ = c.First() {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Recent returns up to limit most recent records, oldest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(BucketEvents).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec Record
			if err := jsonutil.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, jj := 0, len(out)-1; i < jj; i, jj = i+1, jj-1 {
		out[i], out[jj] = out[jj], out[i]
	}
	return out, nil
}

// Shed returns how many records were dropped before reaching disk.
func (j *Journal) Shed() int64 {
	return atomic.LoadInt64(&j.shed)
}

// Export streams the whole journal as zstd-compressed NDJSON.
func (j *Journal) Export(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	err = j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketEvents).ForEach(func(_, v []byte) error {
			if _, err := zw.Write(v); err != nil {
				return err
			}
			_, err := zw.Write([]byte{'\n'})
			return err
		})
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Close flushes pending writes and closes the database.
func (j *Journal) Close() error {
	j.pool.Close()
	return j.db.Close()
}
