package pay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"farmstand/models"
	"farmstand/utils"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	maxKeyLength      = 255
)

// IdempotencyStore persists the first response seen for a key.
type IdempotencyStore interface {
	// Claim inserts rec. If the key already exists the stored record is
	// returned instead and nothing is written.
	Claim(ctx context.Context, rec *models.IdempotencyRecord) (existing *models.IdempotencyRecord, err error)
	Complete(ctx context.Context, key string, resp models.CachedResponse) error
	Release(ctx context.Context, key string) error
}

type MongoIdempotencyStore struct {
	coll *mongo.Collection
}

func NewMongoIdempotencyStore(coll *mongo.Collection) *MongoIdempotencyStore {
	return &MongoIdempotencyStore{coll: coll}
}

func (s *MongoIdempotencyStore) Claim(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.coll.InsertOne(ctx, rec)
	if err == nil {
		return nil, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	var existing models.IdempotencyRecord
	if err := s.coll.FindOne(ctx, bson.M{"key": rec.Key}).Decode(&existing); err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	return &existing, nil
}

func (s *MongoIdempotencyStore) Complete(ctx context.Context, key string, resp models.CachedResponse) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.coll.UpdateOne(ctx, bson.M{"key": key}, bson.M{"$set": bson.M{"response": resp}})
	return err
}

func (s *MongoIdempotencyStore) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"key": key, "response": bson.M{"$exists": false}})
	return err
}

func computeRequestHash(r *http.Request, body []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + userID + ":"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// CaptureResponseWriter passes writes through while keeping a copy.
type CaptureResponseWriter struct {
	w           http.ResponseWriter
	statusCode  int
	buf         bytes.Buffer
	wroteHeader bool
}

func NewCaptureResponseWriter(w http.ResponseWriter) *CaptureResponseWriter {
	return &CaptureResponseWriter{w: w, statusCode: http.StatusOK}
}

func (c *CaptureResponseWriter) Header() http.Header { return c.w.Header() }

func (c *CaptureResponseWriter) WriteHeader(statusCode int) {
	if !c.wroteHeader {
		c.statusCode = statusCode
		c.w.WriteHeader(statusCode)
		c.wroteHeader = true
	}
}

func (c *CaptureResponseWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.buf.Write(b)
	return c.w.Write(b)
}

func (c *CaptureResponseWriter) Status() int       { return c.statusCode }
func (c *CaptureResponseWriter) BodyBytes() []byte { return c.buf.Bytes() }

// Idempotency replays the first response for a repeated Idempotency-Key.
// Keys are scoped per user. The same key with a different body is a 409,
// as is a repeat that arrives while the first request is still running.
// Server errors are not cached, so the client may retry them.
func Idempotency(store IdempotencyStore, log *zap.Logger) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next(w, r, ps)
				return
			}
			if len(key) > maxKeyLength {
				utils.RespondWithError(w, http.StatusBadRequest, "Idempotency-Key too long")
				return
			}

			userID := ""
			if id, ok := utils.GetUserIDFromRequest(r); ok {
				userID = id.Hex()
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, "Failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			now := time.Now().UTC()
			rec := &models.IdempotencyRecord{
				Key:         userID + ":" + key,
				Method:      r.Method,
				Path:        r.URL.Path,
				UserID:      userID,
				RequestHash: computeRequestHash(r, body, userID),
				CreatedAt:   now,
				ExpiresAt:   now.Add(idempotencyTTL),
			}

			existing, err := store.Claim(r.Context(), rec)
			if err != nil {
				log.Error("idempotency lookup failed", zap.Error(err))
				utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if existing != nil {
				switch {
				case existing.RequestHash != rec.RequestHash:
					utils.RespondWithError(w, http.StatusConflict, "Idempotency-Key reused with a different request")
				case existing.Response == nil:
					utils.RespondWithError(w, http.StatusConflict, "A request with this Idempotency-Key is in progress")
				default:
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(existing.Response.Status)
					w.Write(existing.Response.Body)
				}
				return
			}

			crw := NewCaptureResponseWriter(w)
			next(crw, r, ps)

			bg := context.WithoutCancel(r.Context())
			if crw.Status() >= http.StatusInternalServerError {
				if err := store.Release(bg, rec.Key); err != nil {
					log.Warn("release idempotency key", zap.Error(err))
				}
				return
			}
			resp := models.CachedResponse{Status: crw.Status(), Body: crw.BodyBytes()}
			if err := store.Complete(bg, rec.Key, resp); err != nil {
				log.Warn("store idempotent response", zap.Error(err))
			}
		}
	}
}

