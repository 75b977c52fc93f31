package db

import (
	"context"
	"fmt"
	"time"

	"farmstand/globals"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Database is the explicit persistence handle passed to every store.
type Database struct {
	Client *mongo.Client

	Users         *mongo.Collection
	Products      *mongo.Collection
	Orders        *mongo.Collection
	Notifications *mongo.Collection
	Idempotency   *mongo.Collection
}

// Connect dials MongoDB, verifies the connection and resolves the
// collections used by the application.
func Connect(ctx context.Context, uri, name string) (*Database, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	d := client.Database(name)
	return &Database{
		Client:        client,
		Users:         d.Collection(globals.UsersCollection),
		Products:      d.Collection(globals.ProductsCollection),
		Orders:        d.Collection(globals.OrdersCollection),
		Notifications: d.Collection(globals.NotificationsCollection),
		Idempotency:   d.Collection(globals.IdempotencyCollection),
	}, nil
}

// EnsureIndexes creates the indexes the stores rely on. The unique email
// index backs duplicate registration detection; the idempotency TTL index
// expires replay records.
func (d *Database) EnsureIndexes(ctx context.Context) error {
	plan := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{d.Users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_email")},
		}},
		{d.Products, []mongo.IndexModel{
			{Keys: bson.D{{Key: "farmer", Value: 1}}},
			{Keys: bson.D{{Key: "isAvailable", Value: 1}, {Key: "category", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{d.Orders, []mongo.IndexModel{
			{Keys: bson.D{{Key: "customer", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "items.farmer", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "paymentStatus", Value: 1}, {Key: "createdAt", Value: 1}}},
		}},
		{d.Notifications, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{d.Idempotency, []mongo.IndexModel{
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_key")},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at")},
		}},
	}

	for _, p := range plan {
		if _, err := p.coll.Indexes().CreateMany(ctx, p.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", p.coll.Name(), err)
		}
	}
	return nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.Client.Ping(ctx, readpref.Primary())
}

func (d *Database) Close(ctx context.Context) error {
	return d.Client.Disconnect(ctx)
}
