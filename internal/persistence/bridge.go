// Package persistence moves relay side effects (room bookkeeping, chat and
// sign-detection history, presence updates) off the real-time path.
//
// Jobs are sharded by key, normally the room ID, so that work for one room is
// applied in submission order while rooms proceed independently. Submission
// never blocks: when a shard's queue is full the job is dropped and logged.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mossy-p/signconnect/config"
	"github.com/mossy-p/signconnect/internal/store"
)

const knownRoomCacheSize = 4096

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("persistence bridge closed")

// Job is a unit of background work. The context carries the per-job timeout.
type Job func(ctx context.Context) error

type job struct {
	name string
	key  string
	fn   Job
}

type Bridge struct {
	store   store.Store
	logger  hclog.Logger
	timeout time.Duration

	shards []chan job
	wg     sync.WaitGroup

	// rooms already ensured in the store
	known *lru.ARCCache

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New starts cfg.Workers workers, each with a queue of cfg.Queue jobs.
func New(s store.Store, cfg config.PersistenceConfig, logger hclog.Logger) *Bridge {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := cfg.Queue
	if queue <= 0 {
		queue = 1
	}
	known, _ := lru.NewARC(knownRoomCacheSize)

	b := &Bridge{
		store:   s,
		logger:  logger.Named("persistence"),
		timeout: cfg.Timeout,
		shards:  make([]chan job, workers),
		known:   known,
	}
	for i := range b.shards {
		b.shards[i] = make(chan job, queue)
		b.wg.Add(1)
		go b.worker(b.shards[i])
	}
	return b
}

func (b *Bridge) shard(key string) chan job {
	h := fnv.New32a()
	h.Write([]byte(key))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

// Submit queues fn behind earlier jobs with the same key. It reports false
// when the job was dropped.
func (b *Bridge) Submit(key, name string, fn Job) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		b.logger.Warn("job dropped, bridge closed", "job", name, "key", key)
		return false
	}
	select {
	case b.shard(key) <- job{name: name, key: key, fn: fn}:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("job dropped, queue full", "job", name, "key", key)
		return false
	}
}

func (b *Bridge) worker(jobs <-chan job) {
	defer b.wg.Done()
	for j := range jobs {
		b.run(j)
	}
}

func (b *Bridge) run(j job) {
	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			b.logger.Error("persistence job panicked", "job", j.name, "key", j.key, "panic", fmt.Sprint(r))
		}
	}()
	if err := j.fn(ctx); err != nil {
		b.failed.Add(1)
		b.logger.Error("persistence failed", "job", j.name, "key", j.key, "error", err)
	}
}

// RecordJoin makes sure the room exists, owned by its first joiner, and adds
// the user to its participants.
func (b *Bridge) RecordJoin(roomID, userID string) bool {
	return b.Submit(roomID, "record-join", func(ctx context.Context) error {
		if !b.known.Contains(roomID) {
			created, err := b.store.EnsureRoom(ctx, &store.Room{ID: roomID, Name: "Room " + roomID, CreatorID: userID})
			if err != nil {
				return fmt.Errorf("ensure room: %w", err)
			}
			if created {
				b.logger.Debug("room created", "room", roomID, "owner", userID)
			}
			b.known.Add(roomID, struct{}{})
		}
		if err := b.store.AddParticipant(ctx, roomID, userID); err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		return nil
	})
}

func (b *Bridge) RecordMessage(roomID, senderID, text string, kind store.MessageKind) bool {
	createdAt := time.Now()
	return b.Submit(roomID, "record-message", func(ctx context.Context) error {
		return b.store.CreateMessage(ctx, &store.Message{
			Content:   text,
			Type:      kind,
			SenderID:  senderID,
			RoomID:    roomID,
			CreatedAt: createdAt,
		})
	})
}

func (b *Bridge) RecordDetection(roomID, userID, label string, confidence float64) bool {
	createdAt := time.Now()
	return b.Submit(roomID, "record-detection", func(ctx context.Context) error {
		signData, err := json.Marshal(map[string]string{"text": label})
		if err != nil {
			return err
		}
		return b.store.CreateDetection(ctx, &store.SignDetection{
			UserID:      userID,
			RoomID:      roomID,
			SignData:    string(signData),
			Translation: label,
			Confidence:  confidence,
			CreatedAt:   createdAt,
		})
	})
}

// Forget drops roomID from the known-room cache, e.g. after it was deleted,
// so the next join recreates it.
func (b *Bridge) Forget(roomID string) {
	b.known.Remove(roomID)
}

// Dropped is the number of jobs that were never queued.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Failed is the number of jobs that returned an error or panicked.
func (b *Bridge) Failed() uint64 { return b.failed.Load() }

// Close stops accepting jobs and waits for queued ones until ctx is done.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	for _, ch := range b.shards {
		close(ch)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("persistence drain: %w", ctx.Err())
	}
}
