package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"farmstand/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NotificationsChannel carries stored notifications to every instance's hub.
const NotificationsChannel = "notifications"

type Publisher struct {
	conn    *redis.Client
	channel string
}

func NewPublisher(conn *redis.Client) *Publisher {
	return &Publisher{conn: conn, channel: NotificationsChannel}
}

func (p *Publisher) Publish(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.conn.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Deliverer receives a notification for a user's live connections.
type Deliverer interface {
	Deliver(userID string, data []byte)
}

// Worker forwards published notifications to the local hub.
type Worker struct {
	conn    *redis.Client
	channel string
	out     Deliverer
	log     *zap.Logger
	done    chan struct{}
}

func NewWorker(conn *redis.Client, out Deliverer, log *zap.Logger) *Worker {
	return &Worker{conn: conn, channel: NotificationsChannel, out: out, log: log, done: make(chan struct{})}
}

// Start subscribes and returns once the subscription is confirmed. The
// forwarding loop runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	sub := w.conn.Subscribe(ctx, w.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", w.channel, err)
	}
	w.log.Info("listening for notifications", zap.String("channel", w.channel))

	go func() {
		defer close(w.done)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				w.forward(msg.Payload)
			}
		}
	}()
	return nil
}

func (w *Worker) forward(payload string) {
	var n models.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		w.log.Warn("bad notification payload", zap.Error(err))
		return
	}
	w.out.Deliver(n.User.Hex(), []byte(payload))
}

// Wait blocks until the forwarding loop has exited.
func (w *Worker) Wait() { <-w.done }
