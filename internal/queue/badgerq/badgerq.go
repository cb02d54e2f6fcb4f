// Package badgerq implements the durable event queue on BadgerDB.
//
// Messages are stored under monotonically increasing sequence keys, so a
// single physical queue is FIFO in key order. In-flight bookkeeping lives in
// process memory only: if the consumer crashes before acknowledging, the key
// is still on disk and is redelivered on the next pass, giving at-least-once
// semantics.
package badgerq

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/artello/eventflow/internal/domain"
	"github.com/artello/eventflow/internal/queue"
)

const (
	msgPrefix = "msg:"
	seqKey    = "meta:seq"

	// pollInterval bounds how long a blocked consumer waits before
	// re-scanning when it missed a wake-up signal.
	pollInterval = 250 * time.Millisecond
)

// Config holds configuration for a badger-backed queue.
type Config struct {
	// Path is the directory for the queue's BadgerDB files. Ignored when
	// InMemory is set.
	Path string

	// InMemory disables disk persistence. Useful for tests; a production
	// queue must be persistent to satisfy the durability contract.
	InMemory bool

	// SyncWrites forces an fsync per write. On by default in production
	// configs so an acknowledged enqueue survives a crash.
	SyncWrites bool

	Logger *slog.Logger
}

// DefaultConfig returns the production configuration: persistent, fsync'd.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Queue is a durable FIFO queue on BadgerDB.
type Queue struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger

	notify chan struct{}

	mu       sync.Mutex
	inflight map[uint64]struct{}
	closed   bool
}

var _ queue.Queue = (*Queue)(nil)

// Open opens (or creates) the queue described by cfg.
func Open(cfg Config) (*Queue, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open queue sequence: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		db:       db,
		seq:      seq,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		inflight: make(map[uint64]struct{}),
	}, nil
}

// Enqueue serializes ev and appends it to the queue. The returned receipt
// means the message is durably stored, not that it has been processed.
func (q *Queue) Enqueue(ctx context.Context, ev *domain.Event) (queue.Receipt, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return queue.Receipt{}, errors.New("queue is closed")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return queue.Receipt{}, fmt.Errorf("failed to encode event: %w", err)
	}

	n, err := q.seq.Next()
	if err != nil {
		return queue.Receipt{}, fmt.Errorf("failed to advance queue sequence: %w", err)
	}

	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(msgKey(n), body)
	}); err != nil {
		return queue.Receipt{}, domain.Unavailable("enqueue", ev.SessionID, err)
	}

	enqueuedTotal.Inc()

	// Wake a blocked consumer. The channel is a single-slot latch; a missed
	// signal is recovered by the poll ticker.
	select {
	case q.notify <- struct{}{}:
	default:
	}

	return queue.Receipt{MessageID: uuid.New().String()}, nil
}

// Consume starts delivering messages in key order. The returned channel
// closes when ctx is canceled. Messages that were in flight during a crash
// are redelivered because only Ack removes them from disk.
func (q *Queue) Consume(ctx context.Context) (<-chan queue.Delivery, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.New("queue is closed")
	}
	q.mu.Unlock()

	out := make(chan queue.Delivery)

	go func() {
		defer close(out)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			d, ok, err := q.next()
			if err != nil {
				q.logger.Error("queue scan failed", slog.String("error", err.Error()))
			}
			if ok {
				select {
				case out <- d:
					deliveredTotal.Inc()
					continue
				case <-ctx.Done():
					// Undeliverable: release so a later consumer sees it.
					q.release(d)
					return
				}
			}

			select {
			case <-q.notify:
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// next returns the first pending message that is not already in flight.
func (q *Queue) next() (queue.Delivery, bool, error) {
	var (
		found bool
		n     uint64
		body  []byte
	)

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(msgPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		q.mu.Lock()
		defer q.mu.Unlock()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			seq := seqFromKey(item.Key())
			if _, busy := q.inflight[seq]; busy {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			n, body, found = seq, val, true
			q.inflight[seq] = struct{}{}
			return nil
		}
		return nil
	})
	if err != nil || !found {
		return queue.Delivery{}, false, err
	}

	seq := n
	d := queue.NewDelivery(body,
		func() error { return q.ack(seq) },
		func() error { q.releaseSeq(seq); return nil },
	)
	return d, true, nil
}

func (q *Queue) ack(seq uint64) error {
	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(msgKey(seq))
	}); err != nil {
		return fmt.Errorf("failed to ack message %d: %w", seq, err)
	}
	q.releaseSeq(seq)
	ackedTotal.Inc()
	return nil
}

func (q *Queue) release(d queue.Delivery) {
	// Best effort: Nack only clears the in-flight mark.
	_ = d.Nack()
}

func (q *Queue) releaseSeq(seq uint64) {
	q.mu.Lock()
	delete(q.inflight, seq)
	q.mu.Unlock()
}

// Depth reports how many messages are currently stored, including in-flight
// ones. Used by operational endpoints and tests.
func (q *Queue) Depth() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(msgPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the sequence and closes the database. Pending messages stay
// on disk for the next Open.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if err := q.seq.Release(); err != nil {
		q.logger.Warn("failed to release queue sequence", slog.String("error", err.Error()))
	}
	return q.db.Close()
}

func msgKey(seq uint64) []byte {
	key := make([]byte, len(msgPrefix)+8)
	copy(key, msgPrefix)
	binary.BigEndian.PutUint64(key[len(msgPrefix):], seq)
	return key
}

func seqFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(msgPrefix):])
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.logger.Error(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.logger.Debug(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.logger.Debug(fmt.Sprintf(format, args...)) }
