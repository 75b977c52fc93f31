package products

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"farmstand/models"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	defaultLimit = 12
	maxLimit     = 100
)

var sortFields = []string{"createdAt", "price", "name", "rating", "harvestDate", "quantity"}

// ListQuery is a normalized catalog listing request.
type ListQuery struct {
	Search    string
	Category  models.Category
	Location  string
	MinPrice  *float64
	MaxPrice  *float64
	Organic   bool
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

var ErrBadQuery = errors.New("products: invalid query")

func badQuery(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadQuery, fmt.Sprintf(format, args...))
}

// ParseListQuery reads and validates the listing parameters.
func ParseListQuery(v url.Values) (ListQuery, error) {
	q := ListQuery{
		Search:    strings.TrimSpace(v.Get("search")),
		Location:  strings.TrimSpace(v.Get("location")),
		Organic:   v.Get("organic") == "true",
		SortBy:    "createdAt",
		SortOrder: "desc",
		Page:      1,
		Limit:     defaultLimit,
	}

	if c := v.Get("category"); c != "" {
		if !slices.Contains(models.Categories, models.Category(c)) {
			return q, badQuery("unknown category %q", c)
		}
		q.Category = models.Category(c)
	}

	for _, p := range []struct {
		name string
		dst  **float64
	}{{"minPrice", &q.MinPrice}, {"maxPrice", &q.MaxPrice}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return q, badQuery("%s must be a non-negative number", p.name)
		}
		*p.dst = &f
	}
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		return q, badQuery("minPrice exceeds maxPrice")
	}

	if s := v.Get("sortBy"); s != "" {
		if !slices.Contains(sortFields, s) {
			return q, badQuery("sortBy must be one of %s", strings.Join(sortFields, ", "))
		}
		q.SortBy = s
	}
	if o := v.Get("sortOrder"); o != "" {
		if o != "asc" && o != "desc" {
			return q, badQuery("sortOrder must be asc or desc")
		}
		q.SortOrder = o
	}

	if p := v.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return q, badQuery("page must be a positive integer")
		}
		q.Page = n
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return q, badQuery("limit must be a positive integer")
		}
		q.Limit = min(n, maxLimit)
	}
	return q, nil
}

func containsInsensitive(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

// Filter builds the Mongo filter. Only available products are listed.
func (q ListQuery) Filter() bson.M {
	f := bson.M{"isAvailable": true}
	if q.Search != "" {
		f["name"] = containsInsensitive(q.Search)
	}
	if q.Category != "" {
		f["category"] = q.Category
	}
	if q.Location != "" {
		f["$or"] = bson.A{
			bson.M{"farmLocation.city": containsInsensitive(q.Location)},
			bson.M{"farmLocation.state": containsInsensitive(q.Location)},
		}
	}
	if q.MinPrice != nil || q.MaxPrice != nil {
		price := bson.M{}
		if q.MinPrice != nil {
			price["$gte"] = *q.MinPrice
		}
		if q.MaxPrice != nil {
			price["$lte"] = *q.MaxPrice
		}
		f["price"] = price
	}
	if q.Organic {
		f["organic"] = true
	}
	return f
}

// Sort orders by the requested field with _id as a stable tie-break.
func (q ListQuery) Sort() bson.D {
	dir := -1
	if q.SortOrder == "asc" {
		dir = 1
	}
	return bson.D{{Key: q.SortBy, Value: dir}, {Key: "_id", Value: dir}}
}

func (q ListQuery) Skip() int64 { return int64((q.Page - 1) * q.Limit) }

// CacheKey is identical for queries that select the same page.
func (q ListQuery) CacheKey() string {
	price := func(p *float64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	}
	return strings.Join([]string{
		strings.ToLower(q.Search),
		string(q.Category),
		strings.ToLower(q.Location),
		price(q.MinPrice),
		price(q.MaxPrice),
		strconv.FormatBool(q.Organic),
		q.SortBy,
		q.SortOrder,
		strconv.Itoa(q.Page),
		strconv.Itoa(q.Limit),
	}, "|")
}
