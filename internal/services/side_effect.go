package services

import (
	"context"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/events"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/notification"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/prom"
)

const sideEffectTimeout = 5 * time.Second

// Notifier sends persistent alerts.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, a notification.Alert) error
	NotifyAdmins(ctx context.Context, a notification.Alert) error
	NotifyUserAndAdmins(ctx context.Context, userID int64, a notification.Alert) error
	AllowLowBatteryAlert(ctx context.Context, droneID string, orderID int64) bool
}

// effects runs notifications and realtime pushes after a state change has
// been committed. Failures are logged and counted, never returned.
type effects struct {
	notifier  Notifier
	publisher events.Publisher
}

func newEffects(n Notifier, p events.Publisher) effects {
	if p == nil {
		p = events.Nop{}
	}
	return effects{notifier: n, publisher: p}
}

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

func (e effects) run(ctx context.Context, op, kind string, fn func(ctx context.Context) error) {
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("side effect failed", "op", op, "kind", kind, "error", err)
		prom.IncSideEffectFailure(kind)
	}
}

func (e effects) notifyUser(ctx context.Context, op string, userID int64, a notification.Alert) {
	if e.notifier == nil {
		return
	}
	e.run(ctx, op, "notification", func(ctx context.Context) error {
		return e.notifier.NotifyUser(ctx, userID, a)
	})
}

func (e effects) notifyAdmins(ctx context.Context, op string, a notification.Alert) {
	if e.notifier == nil {
		return
	}
	e.run(ctx, op, "notification", func(ctx context.Context) error {
		return e.notifier.NotifyAdmins(ctx, a)
	})
}

func (e effects) notifyUserAndAdmins(ctx context.Context, op string, userID int64, a notification.Alert) {
	if e.notifier == nil {
		return
	}
	e.run(ctx, op, "notification", func(ctx context.Context) error {
		return e.notifier.NotifyUserAndAdmins(ctx, userID, a)
	})
}

// publish pushes u to every room, duplicates are skipped.
func (e effects) publish(ctx context.Context, op string, u events.DroneUpdate, rooms ...string) {
	seen := make(map[string]struct{}, len(rooms))
	e.run(ctx, op, "realtime", func(ctx context.Context) error {
		var first error
		for _, room := range rooms {
			if room == "" {
				continue
			}
			if _, ok := seen[room]; ok {
				continue
			}
			seen[room] = struct{}{}
			if err := e.publisher.Publish(ctx, room, events.EventDroneUpdate, u); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

func droneRoom(id *string) string {
	if id == nil {
		return ""
	}
	return events.DroneRoom(*id)
}

func alertFor(t model.NotificationType, title, msg string, orderID int64, droneID *string) notification.Alert {
	a := notification.Alert{Type: t, Title: title, Message: msg, DroneID: droneID}
	if orderID != 0 {
		a.OrderID = &orderID
	}
	return a
}
