package orders

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"farmstand/models"
	"farmstand/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrBadQuery = errors.New("invalid query")

type ListQuery struct {
	Sales         bool
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	DateRange     string
	Page          utils.Page
}

// ParseListQuery validates the order-history query string.
func ParseListQuery(v url.Values, page utils.Page) (ListQuery, error) {
	q := ListQuery{Page: page, Sales: v.Get("view") == "sales"}

	if s := v.Get("status"); s != "" {
		q.Status = models.OrderStatus(s)
		if !q.Status.Valid() {
			return q, fmt.Errorf("%w: status %q", ErrBadQuery, s)
		}
	}
	if s := v.Get("paymentStatus"); s != "" {
		q.PaymentStatus = models.PaymentStatus(s)
		if !q.PaymentStatus.Valid() {
			return q, fmt.Errorf("%w: paymentStatus %q", ErrBadQuery, s)
		}
	}
	if s := v.Get("dateRange"); s != "" {
		switch s {
		case "today", "week", "month", "year":
			q.DateRange = s
		default:
			return q, fmt.Errorf("%w: dateRange %q", ErrBadQuery, s)
		}
	}
	return q, nil
}

// rangeStart returns the lower bound for a named date range, in UTC.
// Weeks start on Sunday.
func rangeStart(name string, now time.Time) *time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var t time.Time
	switch name {
	case "today":
		t = day
	case "week":
		t = day.AddDate(0, 0, -int(day.Weekday()))
	case "month":
		t = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "year":
		t = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return nil
	}
	return &t
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type ListResult struct {
	Orders     []models.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

// List returns the caller's purchases, or a farmer's sales when asked.
// Non-farmers asking for sales get their purchases.
func (s *Service) List(ctx context.Context, caller Caller, q ListQuery) (*ListResult, error) {
	f := ListFilter{
		Status:        q.Status,
		PaymentStatus: q.PaymentStatus,
		Since:         rangeStart(q.DateRange, s.now()),
	}
	id := caller.ID
	if q.Sales && caller.Role == models.RoleFarmer {
		f.Farmer = &id
	} else {
		f.Customer = &id
	}

	orders, total, err := s.store.List(ctx, f, q.Page)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return &ListResult{
		Orders: orders,
		Pagination: Pagination{
			Page:  q.Page.Page,
			Limit: q.Page.Limit,
			Total: total,
			Pages: utils.TotalPages(total, q.Page.Limit),
		},
	}, nil
}

// Receipt loads an order for a participant.
func (s *Service) Receipt(ctx context.Context, caller Caller, id primitive.ObjectID) (*models.Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParticipant(o, caller.ID) {
		return nil, ErrForbidden
	}
	return o, nil
}
