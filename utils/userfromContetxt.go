package utils

import (
	"context"
	"net/http"

	"farmstand/globals"
	"farmstand/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func WithClaims(ctx context.Context, c *models.Claims) context.Context {
	return context.WithValue(ctx, globals.ClaimsKey, c)
}

func ClaimsFromContext(ctx context.Context) *models.Claims {
	c, _ := ctx.Value(globals.ClaimsKey).(*models.Claims)
	return c
}

// GetUserIDFromRequest returns the authenticated user's id, or the zero
// id with ok=false when the request carries no valid claims.
func GetUserIDFromRequest(r *http.Request) (primitive.ObjectID, bool) {
	c := ClaimsFromContext(r.Context())
	if c == nil {
		return primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(c.UserID)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return id, true
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(globals.RequestIDKey).(string)
	return id
}
