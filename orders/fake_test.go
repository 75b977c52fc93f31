package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"farmstand/models"
	"farmstand/products"
	"farmstand/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type memStore struct {
	mu     sync.Mutex
	orders map[primitive.ObjectID]*models.Order
	// beforeCAS runs inside CompareAndSetStatus to simulate a concurrent writer.
	beforeCAS func(o *models.Order)
}

func newMemStore() *memStore {
	return &memStore{orders: map[primitive.ObjectID]*models.Order{}}
}

func clone(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

func (m *memStore) Insert(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *memStore) Get(_ context.Context, id primitive.ObjectID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (m *memStore) SetPaymentIntent(_ context.Context, id primitive.ObjectID, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentIntentID = intentID
	return nil
}

func (m *memStore) CompareAndSetStatus(_ context.Context, id primitive.ObjectID, from, to models.OrderStatus) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.beforeCAS != nil {
		m.beforeCAS(o)
	}
	if o.Status != from {
		return nil, ErrConflict
	}
	o.Status = to
	if to == models.StatusDelivered {
		now := time.Now()
		o.DeliveryDate = &now
	}
	return clone(o), nil
}

func (m *memStore) SetPaymentStatus(_ context.Context, id primitive.ObjectID, from []models.PaymentStatus, to models.PaymentStatus) (*models.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	for _, f := range from {
		if o.PaymentStatus == f {
			o.PaymentStatus = to
			return clone(o), true, nil
		}
	}
	return clone(o), false, nil
}

func (m *memStore) SetNotes(_ context.Context, id primitive.ObjectID, notes string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Notes = notes
	return clone(o), nil
}

func (m *memStore) ClaimStockRelease(_ context.Context, id primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || !o.StockReserved {
		return false, nil
	}
	o.StockReserved = false
	return true, nil
}

func (m *memStore) List(_ context.Context, f ListFilter, page utils.Page) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.Order
	for _, o := range m.orders {
		if f.Customer != nil && o.Customer != *f.Customer {
			continue
		}
		if f.Farmer != nil && !o.HasFarmer(*f.Farmer) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.Since != nil && o.CreatedAt.Before(*f.Since) {
			continue
		}
		all = append(all, *clone(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := int(page.Skip())
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *memStore) ListStale(_ context.Context, before time.Time, limit int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.PaymentMethod == models.PaymentStripe && o.Status == models.StatusPending &&
			(o.PaymentStatus == models.PaymentPending || o.PaymentStatus == models.PaymentFailed) &&
			o.CreatedAt.Before(before) {
			out = append(out, *clone(o))
		}
	}
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memInventory struct {
	mu       sync.Mutex
	products map[primitive.ObjectID]*models.Product
}

func newInventory(ps ...*models.Product) *memInventory {
	inv := &memInventory{products: map[primitive.ObjectID]*models.Product{}}
	for _, p := range ps {
		inv.products[p.ID] = p
	}
	return inv
}

func (m *memInventory) Reserve(_ context.Context, id primitive.ObjectID, qty int) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, products.ErrNotFound
	}
	if !p.IsAvailable {
		return nil, products.ErrUnavailable
	}
	if p.Quantity < qty {
		return nil, products.ErrInsufficientStock
	}
	p.Quantity -= qty
	c := *p
	return &c, nil
}

func (m *memInventory) Release(_ context.Context, id primitive.ObjectID, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return products.ErrNotFound
	}
	p.Quantity += qty
	return nil
}

func (m *memInventory) stock(id primitive.ObjectID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Quantity
}

type fakePayments struct {
	mu        sync.Mutex
	n         int
	createErr error
	cancelErr error
	amounts   []float64
	cancelled []string
	refunded  []string
}

func (f *fakePayments) CreateIntent(_ context.Context, amount float64, orderID string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.n++
	f.amounts = append(f.amounts, amount)
	id := "pi_" + orderID
	return &models.PaymentIntent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method"}, nil
}

func (f *fakePayments) RetrieveIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	return &models.PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (f *fakePayments) CancelIntent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakePayments) Refund(_ context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunded = append(f.refunded, intentID)
	return nil
}

type note struct {
	user    primitive.ObjectID
	message string
	link    string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *recordingNotifier) Append(_ context.Context, user primitive.ObjectID, message, link string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{user, message, link})
}

func (n *recordingNotifier) notesFor(user primitive.ObjectID) []note {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []note
	for _, x := range n.notes {
		if x.user == user {
			out = append(out, x)
		}
	}
	return out
}

type memUsers map[primitive.ObjectID]*models.User

var errNoUser = errors.New("user not found")

func (m memUsers) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, errNoUser
	}
	return u, nil
}

type fixture struct {
	svc      *Service
	store    *memStore
	inv      *memInventory
	pay      *fakePayments
	notes    *recordingNotifier
	customer primitive.ObjectID
	farmer   primitive.ObjectID
	tomatoes *models.Product
	eggs     *models.Product
}

func newFixture() *fixture {
	customer := primitive.NewObjectID()
	farmer := primitive.NewObjectID()
	tomatoes := &models.Product{ID: primitive.NewObjectID(), Name: "Tomatoes", Price: 2.5, Quantity: 10, Farmer: farmer, IsAvailable: true}
	eggs := &models.Product{ID: primitive.NewObjectID(), Name: "Eggs", Price: 4.1, Quantity: 5, Farmer: farmer, IsAvailable: true}

	f := &fixture{
		store:    newMemStore(),
		inv:      newInventory(tomatoes, eggs),
		pay:      &fakePayments{},
		notes:    &recordingNotifier{},
		customer: customer,
		farmer:   farmer,
		tomatoes: tomatoes,
		eggs:     eggs,
	}
	users := memUsers{
		customer: {ID: customer, Role: models.RoleCustomer, Address: &models.Address{Street: "1 Main", City: "Davis", State: "CA", ZipCode: "95616"}},
		farmer:   {ID: farmer, Role: models.RoleFarmer},
	}
	f.svc = NewService(Deps{
		Store:     f.store,
		Inventory: f.inv,
		Payments:  f.pay,
		Notifier:  f.notes,
		Users:     users,
		Logger:    zap.NewNop(),
	})
	return f
}

func (f *fixture) customerCaller() Caller { return Caller{ID: f.customer, Role: models.RoleCustomer} }
func (f *fixture) farmerCaller() Caller   { return Caller{ID: f.farmer, Role: models.RoleFarmer} }

func (f *fixture) place(method models.PaymentMethod, items ...CreateItem) (*Result, error) {
	return f.svc.Create(context.Background(), f.customer, CreateRequest{Items: items, PaymentMethod: method})
}

func pageOf(page, limit int) utils.Page { return utils.Page{Page: page, Limit: limit} }
