package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmstand/models"
	"farmstand/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound = errors.New("order not found")
	ErrConflict = errors.New("order was modified concurrently")
)

// ListFilter selects either a customer's purchases or a farmer's sales.
type ListFilter struct {
	Customer      *primitive.ObjectID
	Farmer        *primitive.ObjectID
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	Since         *time.Time
}

func (f ListFilter) bson() bson.M {
	q := bson.M{}
	if f.Customer != nil {
		q["customer"] = *f.Customer
	}
	if f.Farmer != nil {
		q["items.farmer"] = *f.Farmer
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.PaymentStatus != "" {
		q["paymentStatus"] = f.PaymentStatus
	}
	if f.Since != nil {
		q["createdAt"] = bson.M{"$gte": *f.Since}
	}
	return q
}

type Store interface {
	Insert(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	SetPaymentIntent(ctx context.Context, id primitive.ObjectID, intentID string) error
	// CompareAndSetStatus moves from -> to only if the status is still from.
	CompareAndSetStatus(ctx context.Context, id primitive.ObjectID, from, to models.OrderStatus) (*models.Order, error)
	// SetPaymentStatus moves to `to` only from one of `from`. applied is
	// false when the order exists but was in another payment state.
	SetPaymentStatus(ctx context.Context, id primitive.ObjectID, from []models.PaymentStatus, to models.PaymentStatus) (o *models.Order, applied bool, err error)
	SetNotes(ctx context.Context, id primitive.ObjectID, notes string) (*models.Order, error)
	// ClaimStockRelease flips stockReserved off and reports whether this
	// caller did it, so reserved stock goes back exactly once.
	ClaimStockRelease(ctx context.Context, id primitive.ObjectID) (bool, error)
	List(ctx context.Context, f ListFilter, page utils.Page) ([]models.Order, int64, error)
	ListStale(ctx context.Context, before time.Time, limit int64) ([]models.Order, error)
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Insert(ctx context.Context, o *models.Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	if _, err := s.coll.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var o models.Order
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&o); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &o, nil
}

func (s *MongoStore) SetPaymentIntent(ctx context.Context, id primitive.ObjectID, intentID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"paymentIntentId": intentID,
		"updatedAt":       time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// conditionalUpdate applies update when filter matches. A miss is
// reported as ErrNotFound or missErr depending on whether the order exists.
func (s *MongoStore) conditionalUpdate(ctx context.Context, filter, update bson.M, missErr error) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var o models.Order
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&o)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update order: %w", err)
	}
	n, cerr := s.coll.CountDocuments(ctx, bson.M{"_id": filter["_id"]})
	if cerr != nil {
		return nil, fmt.Errorf("count order: %w", cerr)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, missErr
}

func (s *MongoStore) CompareAndSetStatus(ctx context.Context, id primitive.ObjectID, from, to models.OrderStatus) (*models.Order, error) {
	set := bson.M{"status": to, "updatedAt": time.Now().UTC()}
	if to == models.StatusDelivered {
		set["deliveryDate"] = time.Now().UTC()
	}
	return s.conditionalUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		ErrConflict,
	)
}

var errNotApplied = errors.New("payment status unchanged")

func (s *MongoStore) SetPaymentStatus(ctx context.Context, id primitive.ObjectID, from []models.PaymentStatus, to models.PaymentStatus) (*models.Order, bool, error) {
	o, err := s.conditionalUpdate(ctx,
		bson.M{"_id": id, "paymentStatus": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"paymentStatus": to, "updatedAt": time.Now().UTC()}},
		errNotApplied,
	)
	switch {
	case err == nil:
		return o, true, nil
	case errors.Is(err, errNotApplied):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (s *MongoStore) SetNotes(ctx context.Context, id primitive.ObjectID, notes string) (*models.Order, error) {
	return s.conditionalUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"notes": notes, "updatedAt": time.Now().UTC()}},
		ErrNotFound,
	)
}

func (s *MongoStore) ClaimStockRelease(ctx context.Context, id primitive.ObjectID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "stockReserved": true},
		bson.M{"$set": bson.M{"stockReserved": false, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("claim stock release: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) List(ctx context.Context, f ListFilter, page utils.Page) ([]models.Order, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := f.bson()
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer cursor.Close(ctx)

	out := []models.Order{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("decode orders: %w", err)
	}
	return out, total, nil
}

// ListStale returns unpaid processor orders still pending before the cutoff.
func (s *MongoStore) ListStale(ctx context.Context, before time.Time, limit int64) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"paymentMethod": models.PaymentStripe,
		"status":        models.StatusPending,
		"paymentStatus": bson.M{"$in": bson.A{models.PaymentPending, models.PaymentFailed}},
		"createdAt":     bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(limit)
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Order
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode stale orders: %w", err)
	}
	return out, nil
}
