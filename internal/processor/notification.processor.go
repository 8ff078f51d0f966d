package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nimasrn/drone-dispatch/internal/events"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/notification"
	"github.com/nimasrn/drone-dispatch/internal/queue"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/prom"
)

// ErrUnprocessable marks a message that no retry can deliver. It is acked.
var ErrUnprocessable = errors.New("unprocessable message")

type NotificationStore interface {
	Get(ctx context.Context, id int64) (*model.Notification, error)
	MarkSent(ctx context.Context, id int64) error
}

// NotificationProcessor pushes stored notifications to the recipient's
// realtime room and marks them sent.
type NotificationProcessor struct {
	store       NotificationStore
	publisher   events.Publisher
	idempotency *IdempotencyService
}

func NewNotificationProcessor(store NotificationStore, publisher events.Publisher, idempotency *IdempotencyService) *NotificationProcessor {
	return &NotificationProcessor{
		store:       store,
		publisher:   publisher,
		idempotency: idempotency,
	}
}

func (p *NotificationProcessor) GetType() string {
	return "notification"
}

func (p *NotificationProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job notification.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.NotificationID <= 0 {
		logger.Error("undecodable notification job", "id", msg.ID, "error", err)
		return fmt.Errorf("%w: decode job %s", ErrUnprocessable, msg.ID)
	}
	key := strconv.FormatInt(job.NotificationID, 10)

	lease, err := p.idempotency.Acquire(ctx, key)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		logger.Debug("notification already delivered", "notification_id", job.NotificationID)
		return nil
	case errors.Is(err, ErrMaxRetriesExceeded):
		prom.IncNotificationDelivered("unknown", "dropped")
		return fmt.Errorf("%w: %v", ErrUnprocessable, err)
	case err != nil:
		return err
	}
	defer func() { _ = p.idempotency.Release(ctx, lease) }()

	n, err := p.store.Get(ctx, job.NotificationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			_ = p.idempotency.Succeed(ctx, lease)
			return fmt.Errorf("%w: notification %d not found", ErrUnprocessable, job.NotificationID)
		}
		_ = p.idempotency.Fail(ctx, lease, err)
		return err
	}

	if n.Status == model.NotificationStatusSent {
		return p.idempotency.Succeed(ctx, lease)
	}

	if err := p.publisher.Publish(ctx, events.UserRoom(n.RecipientID), events.EventNotificationNew, n); err != nil {
		prom.IncNotificationDelivered(string(n.Type), "failed")
		_ = p.idempotency.Fail(ctx, lease, err)
		return fmt.Errorf("push notification %d: %w", n.ID, err)
	}

	if err := p.store.MarkSent(ctx, n.ID); err != nil {
		logger.Error("failed to mark notification sent", "notification_id", n.ID, "error", err)
	}
	if err := p.idempotency.Succeed(ctx, lease); err != nil {
		logger.Warn("failed to record delivery", "notification_id", n.ID, "error", err)
	}

	prom.IncNotificationDelivered(string(n.Type), "delivered")
	logger.Info("notification delivered",
		"notification_id", n.ID,
		"recipient_id", n.RecipientID,
		"role", n.RecipientRole,
		"type", n.Type,
		"is_retry", lease.IsRetry())
	return nil
}
