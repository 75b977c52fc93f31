package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"farmstand/models"
	"farmstand/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func TestHubRegisterDeliverUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{Send: make(chan []byte, 10), UserID: "u1"}
	other := &Client{Send: make(chan []byte, 10), UserID: "u2"}
	hub.Register(client)
	hub.Register(other)

	hub.Deliver("u1", []byte(`{"message":"hello"}`))

	select {
	case got := <-client.Send:
		if string(got) != `{"message":"hello"}` {
			t.Fatalf("got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	select {
	case got := <-other.Send:
		t.Fatalf("message leaked to another user: %s", got)
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatal("send channel not closed after unregister")
	}
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	slow := &Client{Send: make(chan []byte, 1), UserID: "u1"}
	sentinel := &Client{Send: make(chan []byte, 1), UserID: "u2"}
	hub.Register(slow)
	hub.Register(sentinel)
	hub.Deliver("u1", []byte("1"))
	hub.Deliver("u1", []byte("2"))
	hub.Deliver("u2", []byte("done"))

	select {
	case <-sentinel.Send:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sentinel")
	}
	if got := <-slow.Send; string(got) != "1" {
		t.Fatalf("first message = %s", got)
	}
	if _, ok := <-slow.Send; ok {
		t.Fatal("slow consumer was not dropped")
	}
}

func TestStreamDeliversOwnNotifications(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	store := newMemStore()
	feed := NewFeed(store, LocalPublisher{Hub: hub}, nil, zap.NewNop())
	h := NewHandler(feed, hub, []string{"*"}, zap.NewNop())
	user := primitive.NewObjectID()

	router := httprouter.New()
	router.GET("/ws", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		r = r.WithContext(utils.WithClaims(r.Context(), &models.Claims{UserID: user.Hex(), Role: models.RoleCustomer}))
		h.Stream(w, r, ps)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; keep appending until one arrives.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make(chan models.Notification, 1)
	go func() {
		var n models.Notification
		if err := conn.ReadJSON(&n); err == nil {
			got <- n
		}
	}()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 20; i++ {
		feed.Append(ctx, user, "Order shipped", "/orders/1")
		select {
		case n := <-got:
			if n.Message != "Order shipped" || n.User != user {
				t.Fatalf("notification = %+v", n)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("no notification received over websocket")
}

func TestLocalPublisherEncodesNotification(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	user := primitive.NewObjectID()
	c := &Client{Send: make(chan []byte, 1), UserID: user.Hex()}
	hub.Register(c)

	n := &models.Notification{ID: primitive.NewObjectID(), User: user, Message: "hi"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := (LocalPublisher{Hub: hub}).Publish(ctx, n); err != nil {
		t.Fatal(err)
	}
	var got models.Notification
	if err := json.Unmarshal(<-c.Send, &got); err != nil || got.ID != n.ID {
		t.Fatalf("got %+v err %v", got, err)
	}
}
