package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// TaskDispatch is the asynq task type consumed by the worker.
const TaskDispatch = "alert:dispatch"

// DefaultDedupWindow suppresses repeats of the same DedupKey.
const DefaultDedupWindow = time.Hour

// QueueNotifier enqueues alerts onto asynq so delivery never blocks the
// posting path. Alerts with a DedupKey are suppressed within the window
// using a redis marker.
type QueueNotifier struct {
	logger      *slog.Logger
	client      *asynq.Client
	redis       *redis.Client
	dedupWindow time.Duration
}

// NewQueueNotifier builds a QueueNotifier. rdb may be nil, which disables
// dedup.
func NewQueueNotifier(logger *slog.Logger, client *asynq.Client, rdb *redis.Client) *QueueNotifier {
	return &QueueNotifier{logger: logger, client: client, redis: rdb, dedupWindow: DefaultDedupWindow}
}

// WithDedupWindow overrides the suppression window.
func (n *QueueNotifier) WithDedupWindow(d time.Duration) *QueueNotifier {
	if d > 0 {
		n.dedupWindow = d
	}
	return n
}

// Notify enqueues the alert for asynchronous delivery.
func (n *QueueNotifier) Notify(ctx context.Context, alert Alert) error {
	if alert.DedupKey != "" && n.redis != nil {
		key := fmt.Sprintf("alerts:dedup:%d:%s:%s", alert.TenantID, alert.Kind, alert.DedupKey)
		ok, err := n.redis.SetNX(ctx, key, 1, n.dedupWindow).Result()
		if err != nil {
			n.logger.Warn("alert dedup check failed", "error", err, "key", key)
		} else if !ok {
			return nil
		}
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskDispatch, payload, asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("alerts: enqueue dispatch: %w", err)
	}
	return nil
}

// Dispatcher persists queued alerts. It runs inside the worker process.
type Dispatcher struct {
	logger *slog.Logger
	repo   Repository
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(logger *slog.Logger, repo Repository) *Dispatcher {
	return &Dispatcher{logger: logger, repo: repo}
}

// HandleDispatch processes one alert:dispatch task.
func (d *Dispatcher) HandleDispatch(ctx context.Context, task *asynq.Task) error {
	var alert Alert
	if err := json.Unmarshal(task.Payload(), &alert); err != nil {
		return fmt.Errorf("alerts: decode dispatch payload: %w", err)
	}
	stored, err := d.repo.Insert(ctx, alert)
	if err != nil {
		return fmt.Errorf("alerts: store alert: %w", err)
	}
	d.logger.Info("alert dispatched",
		slog.Int64("alert_id", stored.ID),
		slog.Int64("tenant_id", stored.TenantID),
		slog.String("kind", string(stored.Kind)))
	return nil
}
