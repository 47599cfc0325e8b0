package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rentledger/internal/database"
	"rentledger/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskSnapshotUpsert mirrors one booking row into the ops spreadsheet.
const TaskSnapshotUpsert = "snapshot_upsert"

const (
	redisQueueKey = "ledger:queue"
	deadLetterKey = "ledger:deadletter"

	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 20
)

// Mirror receives booking snapshots. Implementations must be idempotent:
// the queue delivers at-least-once, so the same snapshot can arrive twice.
type Mirror interface {
	UpsertSnapshot(ctx context.Context, snapshot models.BookingSnapshot) error
}

// LedgerWorker drains the sync_queue table into the Mirror. Tasks are
// persisted to SQLite first, then nudged through Redis (or an in-process
// channel when Redis is down) so the mirror usually lags by milliseconds.
// The database poll is the source of truth; the queues are just wake-ups.
type LedgerWorker struct {
	db     *database.DB
	mirror Mirror
	redis  *redis.Client
	retry  RetryPolicy
	logger *zerolog.Logger

	queue        chan models.SyncTask
	pollInterval time.Duration
	batchSize    int
}

func NewLedgerWorker(db *database.DB, mirror Mirror, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *LedgerWorker {
	if retry.MaxRetries <= 0 {
		retry = DefaultRetryPolicy
	}
	return &LedgerWorker{
		db:           db,
		mirror:       mirror,
		redis:        redisClient,
		retry:        retry,
		logger:       logger,
		queue:        make(chan models.SyncTask, models.WorkerQueueSize),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
	}
}

// EnqueueSnapshot persists a mirror task and wakes the worker. The task row
// outlives process restarts; the Redis push is best-effort.
func (w *LedgerWorker) EnqueueSnapshot(ctx context.Context, snapshot models.BookingSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	task := models.SyncTask{
		TaskType:  TaskSnapshotUpsert,
		BookingID: snapshot.BookingID,
		Payload:   string(payload),
		Status:    database.SyncStatusPending,
	}
	if err := w.db.CreateSyncTask(ctx, &task); err != nil {
		return err
	}

	w.nudge(ctx, task)
	return nil
}

func (w *LedgerWorker) nudge(ctx context.Context, task models.SyncTask) {
	if w.redis != nil {
		body, err := json.Marshal(task)
		if err == nil {
			if err := w.redis.LPush(ctx, redisQueueKey, body).Err(); err == nil {
				return
			}
			w.logger.Warn().Int64("task_id", task.ID).Msg("redis push failed, using local queue")
		}
	}
	select {
	case w.queue <- task:
	default:
		// Full local queue is fine, the poll loop will pick the task up.
	}
}

// Start runs the worker loop until ctx is cancelled.
func (w *LedgerWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("ledger worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("ledger worker stopped")
			return
		case task := <-w.queue:
			w.processTask(ctx, task)
		case <-ticker.C:
			w.drainRedis(ctx)
			w.pollDatabase(ctx)
		}
	}
}

func (w *LedgerWorker) drainRedis(ctx context.Context) {
	if w.redis == nil {
		return
	}
	for i := 0; i < w.batchSize; i++ {
		body, err := w.redis.RPop(ctx, redisQueueKey).Result()
		if err != nil {
			return // empty queue or redis down, the DB poll covers both
		}
		var task models.SyncTask
		if err := json.Unmarshal([]byte(body), &task); err != nil {
			w.logger.Error().Err(err).Msg("malformed task on redis queue")
			continue
		}
		w.processTask(ctx, task)
	}
}

func (w *LedgerWorker) pollDatabase(ctx context.Context) {
	tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to poll sync queue")
		return
	}
	for _, task := range tasks {
		w.processTask(ctx, task)
	}
}

func (w *LedgerWorker) processTask(ctx context.Context, task models.SyncTask) {
	if task.TaskType != TaskSnapshotUpsert {
		w.failTask(ctx, task, fmt.Sprintf("unknown task type %q", task.TaskType))
		return
	}

	var snapshot models.BookingSnapshot
	if err := json.Unmarshal([]byte(task.Payload), &snapshot); err != nil {
		w.failTask(ctx, task, "malformed payload: "+err.Error())
		return
	}

	if err := w.mirror.UpsertSnapshot(ctx, snapshot); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark task completed")
	}
}

func (w *LedgerWorker) retryOrFail(ctx context.Context, task models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt > w.retry.MaxRetries {
		w.failTask(ctx, task, cause.Error())
		return
	}

	nextRetry := time.Now().Add(w.retry.NextDelay(attempt))
	w.logger.Warn().
		Err(cause).
		Int64("task_id", task.ID).
		Int("attempt", attempt).
		Time("next_retry_at", nextRetry).
		Msg("mirror upsert failed, scheduling retry")

	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusRetry, cause.Error(), &nextRetry); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to schedule retry")
	}
}

func (w *LedgerWorker) failTask(ctx context.Context, task models.SyncTask, reason string) {
	w.logger.Error().Int64("task_id", task.ID).Str("reason", reason).Msg("sync task failed permanently")

	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusFailed, reason, nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark task failed")
	}
	w.pushDeadLetter(ctx, task, reason)
}

func (w *LedgerWorker) pushDeadLetter(ctx context.Context, task models.SyncTask, reason string) {
	if w.redis == nil {
		return
	}
	task.LastError = &reason
	body, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, body).Err(); err != nil {
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("dead letter push failed")
	}
}
