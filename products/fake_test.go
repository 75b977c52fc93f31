package products

import (
	"context"
	"sort"
	"strings"
	"sync"

	"farmstand/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore is an in-memory Store used across the package tests.
type memStore struct {
	mu       sync.Mutex
	products map[primitive.ObjectID]*models.Product
	lists    int
}

func newMemStore(ps ...*models.Product) *memStore {
	s := &memStore{products: map[primitive.ObjectID]*models.Product{}}
	for _, p := range ps {
		if p.ID.IsZero() {
			p.ID = primitive.NewObjectID()
		}
		s.products[p.ID] = p
	}
	return s
}

func matches(q ListQuery, p *models.Product) bool {
	if !p.IsAvailable {
		return false
	}
	if q.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Search)) {
		return false
	}
	if q.Category != "" && p.Category != q.Category {
		return false
	}
	if q.Location != "" {
		loc := strings.ToLower(q.Location)
		if !strings.Contains(strings.ToLower(p.FarmLocation.City), loc) &&
			!strings.Contains(strings.ToLower(p.FarmLocation.State), loc) {
			return false
		}
	}
	if q.MinPrice != nil && p.Price < *q.MinPrice {
		return false
	}
	if q.MaxPrice != nil && p.Price > *q.MaxPrice {
		return false
	}
	return !q.Organic || p.Organic
}

func (s *memStore) List(_ context.Context, q ListQuery) ([]models.ProductView, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++

	var hits []*models.Product
	for _, p := range s.products {
		if matches(q, p) {
			hits = append(hits, p)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		less := hits[i].Price < hits[j].Price
		if q.SortBy != "price" {
			less = hits[i].CreatedAt.Before(hits[j].CreatedAt)
		}
		if q.SortOrder == "desc" {
			return !less
		}
		return less
	})

	total := int64(len(hits))
	start := min(int(q.Skip()), len(hits))
	end := min(start+q.Limit, len(hits))
	out := []models.ProductView{}
	for _, p := range hits[start:end] {
		out = append(out, models.ProductView{Product: *p})
	}
	return out, total, nil
}

func (s *memStore) Get(ctx context.Context, id primitive.ObjectID) (*models.ProductView, error) {
	p, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ProductView{Product: *p}, nil
}

func (s *memStore) Find(_ context.Context, id primitive.ObjectID) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) Create(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *memStore) Update(_ context.Context, id primitive.ObjectID, patch Patch) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(p)
	cp := *p
	return &cp, nil
}

func (s *memStore) Delete(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *memStore) Reserve(_ context.Context, id primitive.ObjectID, qty int) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	switch {
	case !ok:
		return nil, ErrNotFound
	case !p.IsAvailable:
		return nil, ErrUnavailable
	case p.Quantity < qty:
		return nil, ErrInsufficientStock
	}
	p.Quantity -= qty
	cp := *p
	return &cp, nil
}

func (s *memStore) Release(_ context.Context, id primitive.ObjectID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	p.Quantity += qty
	return nil
}

func (s *memStore) AddReview(_ context.Context, id primitive.ObjectID, r models.Review) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, existing := range p.Reviews {
		if existing.User == r.User {
			return nil, ErrDuplicateReview
		}
	}
	p.Reviews = append(p.Reviews, r)
	p.Rating = models.AverageRating(p.Reviews)
	cp := *p
	return &cp, nil
}
