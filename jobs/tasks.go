// Package jobs wires the durable work queue. The only task the core needs is
// the per-document reindex: the payload carries nothing but the document type
// and id, because the consumer always re-reads committed state.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/observability"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueIndexing carries projection refreshes. Separate from default so
	// a reindex backlog never starves other work.
	QueueIndexing = "indexing"
	// TaskBsdReindex refreshes one document's dashboard projection.
	TaskBsdReindex = "bsd:reindex"
)

// ReindexPayload identifies the document to refresh. Deliberately minimal:
// at-least-once delivery means the payload may be stale by the time it is
// consumed.
type ReindexPayload struct {
	BsdType bsd.Type `json:"bsdType"`
	BsdID   string   `json:"bsdId"`
}

// NewReindexTask constructs an Asynq task for one document.
func NewReindexTask(t bsd.Type, id string) (*asynq.Task, error) {
	data, err := json.Marshal(ReindexPayload{BsdType: t, BsdID: id})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBsdReindex, data,
		asynq.Queue(QueueIndexing),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second)), nil
}

// Projector recomputes one document's projection from committed state.
type Projector interface {
	Reindex(ctx context.Context, t bsd.Type, id string) error
}

// NewReindexHandler builds the Asynq handler for TaskBsdReindex. Errors are
// returned so the queue retries with backoff; a malformed payload is dropped.
func NewReindexHandler(projector Projector, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReindexPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Error("dropping malformed reindex payload", "error", err)
			return asynq.SkipRetry
		}
		if err := projector.Reindex(ctx, payload.BsdType, payload.BsdID); err != nil {
			metrics.ObserveReindex("error")
			logger.Warn("reindex failed, will retry",
				"bsd_type", payload.BsdType, "bsd_id", payload.BsdID, "error", err)
			return err
		}
		metrics.ObserveReindex("ok")
		return nil
	}
}
