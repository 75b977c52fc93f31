package pay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"farmstand/models"
	"farmstand/utils"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type memIdempotency struct {
	mu   sync.Mutex
	recs map[string]*models.IdempotencyRecord
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{recs: map[string]*models.IdempotencyRecord{}}
}

func (m *memIdempotency) Claim(_ context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ex, ok := m.recs[rec.Key]; ok {
		c := *ex
		return &c, nil
	}
	c := *rec
	m.recs[rec.Key] = &c
	return nil, nil
}

func (m *memIdempotency) Complete(_ context.Context, key string, resp models.CachedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key].Response = &resp
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[key]; ok && r.Response == nil {
		delete(m.recs, key)
	}
	return nil
}

func TestIdempotencyReplay(t *testing.T) {
	calls := 0
	next := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		calls++
		b, _ := io.ReadAll(r.Body)
		utils.RespondWithJSON(w, http.StatusCreated, utils.M{"n": calls, "echo": string(b)})
	}
	h := Idempotency(newMemIdempotency(), zap.NewNop())(next)
	user := primitive.NewObjectID()

	do := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/orders", strings.NewReader(body))
		req.Header.Set(IdempotencyHeader, key)
		req = req.WithContext(utils.WithClaims(req.Context(), &models.Claims{UserID: user.Hex(), Role: models.RoleCustomer}))
		rec := httptest.NewRecorder()
		h(rec, req, nil)
		return rec
	}

	first := do("k1", `{"a":1}`)
	second := do("k1", `{"a":1}`)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("codes = %d, %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay differs: %s vs %s", first.Body, second.Body)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("replay header missing")
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}

	if rec := do("k1", `{"a":2}`); rec.Code != http.StatusConflict {
		t.Fatalf("different body: status = %d", rec.Code)
	}
	do("k2", `{"a":2}`)
	if calls != 2 {
		t.Fatalf("new key did not run handler: calls = %d", calls)
	}
}

func TestIdempotencyServerErrorNotCached(t *testing.T) {
	fail := true
	next := func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		if fail {
			utils.RespondWithError(w, http.StatusInternalServerError, "boom")
			return
		}
		utils.RespondWithJSON(w, http.StatusCreated, utils.M{"ok": true})
	}
	h := Idempotency(newMemIdempotency(), zap.NewNop())(next)

	do := func() int {
		req := httptest.NewRequest("POST", "/api/orders", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyHeader, "k")
		rec := httptest.NewRecorder()
		h(rec, req, nil)
		return rec.Code
	}
	if code := do(); code != http.StatusInternalServerError {
		t.Fatalf("first = %d", code)
	}
	fail = false
	if code := do(); code != http.StatusCreated {
		t.Fatalf("retry = %d", code)
	}
}

func TestNoKeyPassesThrough(t *testing.T) {
	calls := 0
	h := Idempotency(newMemIdempotency(), zap.NewNop())(func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	})
	for i := 0; i < 2; i++ {
		h(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/orders", nil), nil)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}
