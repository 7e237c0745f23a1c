package repository

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"roomchat/internal/models"
	"roomchat/internal/rooms"
)

const (
	defaultBatchSize  = 100
	defaultFlushEvery = time.Second
	saveTimeout       = 5 * time.Second
)

// ArchiveWriter copies room messages to a MessageRepo off the hot path.
// Record never blocks; when the queue is full the message is dropped.
type ArchiveWriter struct {
	repo       MessageRepo
	queue      chan rooms.Message
	batchSize  int
	flushEvery time.Duration
	logger     *slog.Logger

	mu        sync.RWMutex
	dropped   atomic.Int64
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewArchiveWriter(repo MessageRepo, buffer int, logger *slog.Logger) *ArchiveWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveWriter{
		repo:       repo,
		queue:      make(chan rooms.Message, buffer),
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Record queues msg. Messages arriving after Close are counted as dropped.
func (w *ArchiveWriter) Record(msg rooms.Message) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	select {
	case <-w.stop:
		w.dropped.Add(1)
		return
	default:
	}
	select {
	case w.queue <- msg:
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			w.logger.Warn("archive queue full, dropping messages", slog.Int64("dropped", n))
		}
	}
}

func (w *ArchiveWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Run batches queued messages until Close. Call it once.
func (w *ArchiveWriter) Run() {
	defer close(w.done)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	batch := make([]*models.Message, 0, w.batchSize)
	for {
		select {
		case msg := <-w.queue:
			batch = append(batch, toModel(msg))
			if len(batch) >= w.batchSize {
				batch = w.flush(batch)
			}

		case <-ticker.C:
			batch = w.flush(batch)

		case <-w.stop:
			for {
				select {
				case msg := <-w.queue:
					batch = append(batch, toModel(msg))
				default:
					w.flush(batch)
					return
				}
			}
		}
	}
}

// Close flushes what is queued and waits for Run to return.
func (w *ArchiveWriter) Close(ctx context.Context) error {
	// Record holds the read lock from its stop check to its enqueue.
	w.mu.Lock()
	w.closeOnce.Do(func() { close(w.stop) })
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *ArchiveWriter) flush(batch []*models.Message) []*models.Message {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := w.repo.SaveBatch(ctx, batch); err != nil {
		w.logger.Error("archive batch failed", slog.Int("messages", len(batch)), slog.Any("err", err))
	} else {
		w.logger.Debug("archive batch saved", slog.Int("messages", len(batch)))
	}
	return batch[:0]
}

func toModel(m rooms.Message) *models.Message {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		id = uuid.New()
	}
	return &models.Message{
		ID:        id,
		RoomID:    m.RoomID,
		Seq:       m.Seq,
		Sender:    m.Sender,
		Content:   m.Body,
		CreatedAt: m.Timestamp,
	}
}
