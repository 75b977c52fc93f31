package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmstand/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound          = errors.New("products: not found")
	ErrInsufficientStock = errors.New("products: insufficient stock")
	ErrUnavailable       = errors.New("products: not available")
	ErrDuplicateReview   = errors.New("products: already reviewed")
)

// Store is the persistence contract of the catalog.
type Store interface {
	List(ctx context.Context, q ListQuery) ([]models.ProductView, int64, error)
	Get(ctx context.Context, id primitive.ObjectID) (*models.ProductView, error)
	Find(ctx context.Context, id primitive.ObjectID) (*models.Product, error)
	Create(ctx context.Context, p *models.Product) error
	Update(ctx context.Context, id primitive.ObjectID, patch Patch) (*models.Product, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	Reserve(ctx context.Context, id primitive.ObjectID, qty int) (*models.Product, error)
	Release(ctx context.Context, id primitive.ObjectID, qty int) error
	AddReview(ctx context.Context, id primitive.ObjectID, r models.Review) (*models.Product, error)
}

// Patch is a partial product update. Nil fields are left untouched.
type Patch struct {
	Name         *string              `json:"name" validate:"omitempty,min=1,max=200"`
	Description  *string              `json:"description" validate:"omitempty,min=1"`
	Price        *float64             `json:"price" validate:"omitempty,gte=0"`
	Category     *models.Category     `json:"category" validate:"omitempty,oneof=fruits vegetables dairy meat grains herbs"`
	Quantity     *int                 `json:"quantity" validate:"omitempty,gte=0"`
	Unit         *models.Unit         `json:"unit" validate:"omitempty,oneof=kg lb piece bunch dozen liter gallon pint"`
	FarmLocation *models.FarmLocation `json:"farmLocation" validate:"omitempty"`
	Images       *[]string            `json:"images" validate:"omitempty,min=1,dive,required"`
	IsAvailable  *bool                `json:"isAvailable"`
	HarvestDate  *time.Time           `json:"harvestDate"`
	ExpiryDate   *time.Time           `json:"expiryDate"`
	Organic      *bool                `json:"organic"`
}

func (p Patch) Empty() bool {
	return len(p.setDoc()) == 0
}

func (p Patch) setDoc() bson.M {
	set := bson.M{}
	if p.Name != nil {
		set["name"] = *p.Name
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.Price != nil {
		set["price"] = *p.Price
	}
	if p.Category != nil {
		set["category"] = *p.Category
	}
	if p.Quantity != nil {
		set["quantity"] = *p.Quantity
	}
	if p.Unit != nil {
		set["unit"] = *p.Unit
	}
	if p.FarmLocation != nil {
		set["farmLocation"] = *p.FarmLocation
	}
	if p.Images != nil {
		set["images"] = *p.Images
	}
	if p.IsAvailable != nil {
		set["isAvailable"] = *p.IsAvailable
	}
	if p.HarvestDate != nil {
		set["harvestDate"] = *p.HarvestDate
	}
	if p.ExpiryDate != nil {
		set["expiryDate"] = *p.ExpiryDate
	}
	if p.Organic != nil {
		set["organic"] = *p.Organic
	}
	return set
}

// Apply mutates an in-memory product the same way the $set would.
func (p Patch) Apply(prod *models.Product) {
	if p.Name != nil {
		prod.Name = *p.Name
	}
	if p.Description != nil {
		prod.Description = *p.Description
	}
	if p.Price != nil {
		prod.Price = *p.Price
	}
	if p.Category != nil {
		prod.Category = *p.Category
	}
	if p.Quantity != nil {
		prod.Quantity = *p.Quantity
	}
	if p.Unit != nil {
		prod.Unit = *p.Unit
	}
	if p.FarmLocation != nil {
		prod.FarmLocation = *p.FarmLocation
	}
	if p.Images != nil {
		prod.Images = *p.Images
	}
	if p.IsAvailable != nil {
		prod.IsAvailable = *p.IsAvailable
	}
	if p.HarvestDate != nil {
		prod.HarvestDate = *p.HarvestDate
	}
	if p.ExpiryDate != nil {
		prod.ExpiryDate = p.ExpiryDate
	}
	if p.Organic != nil {
		prod.Organic = *p.Organic
	}
}

type MongoStore struct {
	products *mongo.Collection
	users    string
}

// NewMongoStore takes the products collection and the name of the users
// collection the farmer lookups join against.
func NewMongoStore(products *mongo.Collection, usersCollection string) *MongoStore {
	return &MongoStore{products: products, users: usersCollection}
}

func (s *MongoStore) farmerLookup(fields ...string) bson.A {
	project := bson.M{"_id": 1}
	for _, f := range fields {
		project[f] = 1
	}
	return bson.A{
		bson.M{"$lookup": bson.M{
			"from":         s.users,
			"localField":   "farmer",
			"foreignField": "_id",
			"pipeline":     bson.A{bson.M{"$project": project}},
			"as":           "farmerInfo",
		}},
		bson.M{"$unwind": bson.M{"path": "$farmerInfo", "preserveNullAndEmptyArrays": true}},
	}
}

func (s *MongoStore) List(ctx context.Context, q ListQuery) ([]models.ProductView, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := q.Filter()
	total, err := s.products.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	pipeline := bson.A{
		bson.M{"$match": filter},
		bson.M{"$sort": q.Sort()},
		bson.M{"$skip": q.Skip()},
		bson.M{"$limit": int64(q.Limit)},
	}
	pipeline = append(pipeline, s.farmerLookup("name", "email")...)

	cursor, err := s.products.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer cursor.Close(ctx)

	out := []models.ProductView{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("decode products: %w", err)
	}
	return out, total, nil
}

func (s *MongoStore) Get(ctx context.Context, id primitive.ObjectID) (*models.ProductView, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipeline := append(bson.A{bson.M{"$match": bson.M{"_id": id}}},
		s.farmerLookup("name", "email", "phone", "address")...)
	cursor, err := s.products.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("get product: %w", err)
		}
		return nil, ErrNotFound
	}
	var v models.ProductView
	if err := cursor.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	return &v, nil
}

func (s *MongoStore) Find(ctx context.Context, id primitive.ObjectID) (*models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p models.Product
	if err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &p, nil
}

func (s *MongoStore) Create(ctx context.Context, p *models.Product) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if _, err := s.products.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, id primitive.ObjectID, patch Patch) (*models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := patch.setDoc()
	set["updatedAt"] = time.Now().UTC()

	var p models.Product
	err := s.products.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}
	return &p, nil
}

func (s *MongoStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Reserve takes qty units in a single conditional decrement, so two
// concurrent orders can never both take the last unit.
func (s *MongoStore) Reserve(ctx context.Context, id primitive.ObjectID, qty int) (*models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p models.Product
	err := s.products.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "isAvailable": true, "quantity": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"quantity": -qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("reserve stock: %w", err)
	}

	current, ferr := s.Find(ctx, id)
	if ferr != nil {
		return nil, ferr
	}
	if !current.IsAvailable {
		return nil, ErrUnavailable
	}
	return nil, ErrInsufficientStock
}

func (s *MongoStore) Release(ctx context.Context, id primitive.ObjectID, qty int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.products.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"quantity": qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddReview appends the review and recomputes the rating in one pipeline
// update. The filter rejects a second review by the same user.
func (s *MongoStore) AddReview(ctx context.Context, id primitive.ObjectID, r models.Review) (*models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"reviews": bson.M{"$concatArrays": bson.A{
				bson.M{"$ifNull": bson.A{"$reviews", bson.A{}}},
				bson.A{bson.M{"$literal": r}},
			}},
			"updatedAt": time.Now().UTC(),
		}}},
		{{Key: "$set", Value: bson.M{"rating": bson.M{"$avg": "$reviews.rating"}}}},
	}

	var p models.Product
	err := s.products.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "reviews.user": bson.M{"$ne": r.User}},
		pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("add review: %w", err)
	}
	if _, ferr := s.Find(ctx, id); ferr != nil {
		return nil, ferr
	}
	return nil, ErrDuplicateReview
}
