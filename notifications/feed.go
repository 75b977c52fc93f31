package notifications

import (
	"context"
	"encoding/json"
	"time"

	"farmstand/metrics"
	"farmstand/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const recentLimit = 20

// Publisher hands a stored notification to live delivery.
type Publisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

// LocalPublisher delivers straight to an in-process hub. It is used when
// no Redis is configured.
type LocalPublisher struct {
	Hub *Hub
}

func (p LocalPublisher) Publish(_ context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	p.Hub.Deliver(n.User.Hex(), data)
	return nil
}

type Feed struct {
	store   Store
	pub     Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewFeed(store Store, pub Publisher, m *metrics.Metrics, log *zap.Logger) *Feed {
	return &Feed{store: store, pub: pub, metrics: m, log: log, now: time.Now}
}

// Append stores a notification and pushes it to live sockets. Failures are
// logged and counted; callers are never interrupted by them.
func (f *Feed) Append(ctx context.Context, user primitive.ObjectID, message, link string) {
	n := &models.Notification{
		ID:        primitive.NewObjectID(),
		User:      user,
		Message:   message,
		Link:      link,
		CreatedAt: f.now().UTC(),
	}
	if err := f.store.Insert(ctx, n); err != nil {
		f.metrics.NotificationFailed()
		f.log.Error("store notification",
			zap.String("userId", user.Hex()), zap.String("link", link), zap.Error(err))
		return
	}
	if f.pub == nil {
		return
	}
	if err := f.pub.Publish(ctx, n); err != nil {
		f.log.Warn("publish notification", zap.String("userId", user.Hex()), zap.Error(err))
	}
}

func (f *Feed) List(ctx context.Context, user primitive.ObjectID) ([]models.Notification, error) {
	return f.store.Recent(ctx, user, recentLimit)
}

func (f *Feed) MarkRead(ctx context.Context, id, user primitive.ObjectID) (*models.Notification, error) {
	return f.store.MarkRead(ctx, id, user)
}
