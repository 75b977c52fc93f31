package products

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"farmstand/metrics"
	"farmstand/models"
	"farmstand/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var ErrForbidden = errors.New("products: not the owner")

// Service is the catalog: store access behind a read-through listing cache
// that is invalidated on every write, including stock movements.
type Service struct {
	store   Store
	cache   ListingCache
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewService(store Store, cache ListingCache, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{store: store, cache: cache, metrics: m, log: log}
}

type ListResult struct {
	Products    []models.ProductView `json:"products"`
	CurrentPage int                  `json:"currentPage"`
	TotalPages  int                  `json:"totalPages"`
	Total       int64                `json:"total"`
}

type CreateInput struct {
	Name         string               `json:"name" validate:"required,max=200"`
	Description  string               `json:"description" validate:"required"`
	Price        *float64             `json:"price" validate:"required,gte=0"`
	Category     models.Category      `json:"category" validate:"required,oneof=fruits vegetables dairy meat grains herbs"`
	Quantity     *int                 `json:"quantity" validate:"required,gte=0"`
	Unit         models.Unit          `json:"unit" validate:"required,oneof=kg lb piece bunch dozen liter gallon pint"`
	FarmLocation *models.FarmLocation `json:"farmLocation" validate:"required"`
	Images       []string             `json:"images" validate:"required,min=1,dive,required"`
	IsAvailable  *bool                `json:"isAvailable"`
	HarvestDate  *time.Time           `json:"harvestDate" validate:"required"`
	ExpiryDate   *time.Time           `json:"expiryDate"`
	Organic      bool                 `json:"organic"`
}

func (s *Service) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	key := q.CacheKey()
	if raw, ok := s.cache.Get(ctx, key); ok {
		var res ListResult
		if err := json.Unmarshal(raw, &res); err == nil {
			s.metrics.CacheLookup(true)
			return &res, nil
		}
	}
	s.metrics.CacheLookup(false)

	items, total, err := s.store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	res := &ListResult{
		Products:    items,
		CurrentPage: q.Page,
		TotalPages:  utils.TotalPages(total, q.Limit),
		Total:       total,
	}
	if raw, err := json.Marshal(res); err == nil {
		s.cache.Set(ctx, key, raw)
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.ProductView, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, farmer primitive.ObjectID, in CreateInput) (*models.Product, error) {
	now := time.Now().UTC()
	p := &models.Product{
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Price:        *in.Price,
		Category:     in.Category,
		Quantity:     *in.Quantity,
		Unit:         in.Unit,
		FarmLocation: *in.FarmLocation,
		Farmer:       farmer,
		Images:       in.Images,
		IsAvailable:  in.IsAvailable == nil || *in.IsAvailable,
		HarvestDate:  *in.HarvestDate,
		ExpiryDate:   in.ExpiryDate,
		Organic:      in.Organic,
		Reviews:      []models.Review{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return p, nil
}

func (s *Service) owned(ctx context.Context, caller, id primitive.ObjectID) error {
	p, err := s.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if p.Farmer != caller {
		return ErrForbidden
	}
	return nil
}

func (s *Service) Update(ctx context.Context, caller, id primitive.ObjectID, patch Patch) (*models.Product, error) {
	if err := s.owned(ctx, caller, id); err != nil {
		return nil, err
	}
	p, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, caller, id primitive.ObjectID) error {
	if err := s.owned(ctx, caller, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AddReview records a 1..5 rating. Farmers cannot review their own produce.
func (s *Service) AddReview(ctx context.Context, caller, id primitive.ObjectID, rating int, comment string) (*models.Product, error) {
	p, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Farmer == caller {
		return nil, ErrForbidden
	}
	updated, err := s.store.AddReview(ctx, id, models.Review{
		ID:      primitive.NewObjectID(),
		User:    caller,
		Rating:  rating,
		Comment: strings.TrimSpace(comment),
		Date:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Reserve atomically takes qty units of stock for an order.
func (s *Service) Reserve(ctx context.Context, id primitive.ObjectID, qty int) (*models.Product, error) {
	p, err := s.store.Reserve(ctx, id, qty)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return p, nil
}

func (s *Service) Release(ctx context.Context, id primitive.ObjectID, qty int) error {
	if err := s.store.Release(ctx, id, qty); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}
