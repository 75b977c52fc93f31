package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmstand/metrics"
	"farmstand/models"
	"farmstand/products"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrForbidden          = errors.New("not allowed to access this order")
	ErrPaymentStatusWrite = errors.New("payment status is managed by the payment processor")
	ErrNothingToUpdate    = errors.New("no valid update parameters provided")
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNoShippingAddress  = errors.New("shipping address is required")
	ErrPaymentsDisabled   = errors.New("card payments are not configured")
	ErrPaymentSetup       = errors.New("could not start payment")
)

// Inventory reserves and returns product stock.
type Inventory interface {
	Reserve(ctx context.Context, id primitive.ObjectID, qty int) (*models.Product, error)
	Release(ctx context.Context, id primitive.ObjectID, qty int) error
}

// Payments is the processor bridge.
type Payments interface {
	CreateIntent(ctx context.Context, amount float64, orderID string) (*models.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	CancelIntent(ctx context.Context, id string) error
	Refund(ctx context.Context, intentID string) error
}

// Notifier records a notification. It never fails its caller.
type Notifier interface {
	Append(ctx context.Context, user primitive.ObjectID, message, link string)
}

type UserLookup interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

type Deps struct {
	Store     Store
	Inventory Inventory
	Payments  Payments
	Notifier  Notifier
	Users     UserLookup
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Service struct {
	store    Store
	inv      Inventory
	payments Payments
	notify   Notifier
	users    UserLookup
	metrics  *metrics.Metrics
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService wires the order aggregate. Payments may be nil when the
// processor is not configured; card orders are then refused.
func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		inv:      d.Inventory,
		payments: d.Payments,
		notify:   d.Notifier,
		users:    d.Users,
		metrics:  d.Metrics,
		log:      d.Logger,
		tracer:   otel.Tracer("farmstand/orders"),
		now:      time.Now,
	}
}

// Caller identifies the authenticated user acting on an order.
type Caller struct {
	ID   primitive.ObjectID
	Role models.Role
}

type CreateItem struct {
	Product  string `json:"product" validate:"required,len=24,hexadecimal"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=10000"`
}

type CreateRequest struct {
	Items           []CreateItem         `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress *models.Address      `json:"shippingAddress" validate:"omitempty"`
	PaymentMethod   models.PaymentMethod `json:"paymentMethod" validate:"required,oneof=stripe cash"`
	Notes           string               `json:"notes" validate:"max=1000"`
}

type Result struct {
	Order         *models.Order         `json:"order"`
	PaymentIntent *models.PaymentIntent `json:"paymentIntent"`
}

func shortID(id primitive.ObjectID) string {
	h := id.Hex()
	return h[len(h)-6:]
}

func orderLink(id primitive.ObjectID) string {
	return "/orders/" + id.Hex()
}

func spanFail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type reservation struct {
	product primitive.ObjectID
	qty     int
}

func (s *Service) rollback(ctx context.Context, taken []reservation) {
	for _, r := range taken {
		if err := s.inv.Release(ctx, r.product, r.qty); err != nil {
			s.log.Error("release reservation failed",
				zap.String("productId", r.product.Hex()), zap.Int("qty", r.qty), zap.Error(err))
		}
	}
}

// Create reserves stock for every line, all or nothing, then persists the
// order and opens a payment intent for card orders.
func (s *Service) Create(ctx context.Context, customer primitive.ObjectID, req CreateRequest) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Create",
		trace.WithAttributes(attribute.String("payment_method", string(req.PaymentMethod)), attribute.Int("items", len(req.Items))))
	defer span.End()

	if req.PaymentMethod == models.PaymentStripe && s.payments == nil {
		return nil, ErrPaymentsDisabled
	}

	address := req.ShippingAddress
	if address == nil {
		u, err := s.users.FindByID(ctx, customer)
		if err != nil {
			spanFail(span, err)
			return nil, fmt.Errorf("load customer: %w", err)
		}
		if u.Address == nil {
			return nil, ErrNoShippingAddress
		}
		address = u.Address
	}

	bg := context.WithoutCancel(ctx)
	items := make([]models.OrderItem, 0, len(req.Items))
	taken := make([]reservation, 0, len(req.Items))
	for _, it := range req.Items {
		pid, err := primitive.ObjectIDFromHex(it.Product)
		if err != nil {
			s.rollback(bg, taken)
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.Product)
		}
		p, err := s.inv.Reserve(ctx, pid, it.Quantity)
		if err != nil {
			s.rollback(bg, taken)
			switch {
			case errors.Is(err, products.ErrNotFound):
				return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.Product)
			case errors.Is(err, products.ErrInsufficientStock), errors.Is(err, products.ErrUnavailable):
				return nil, fmt.Errorf("%w for product %s", ErrInsufficientStock, it.Product)
			default:
				spanFail(span, err)
				return nil, err
			}
		}
		taken = append(taken, reservation{product: pid, qty: it.Quantity})
		items = append(items, models.OrderItem{
			Product:  p.ID,
			Farmer:   p.Farmer,
			Name:     p.Name,
			Quantity: it.Quantity,
			Price:    p.Price,
		})
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:              primitive.NewObjectID(),
		Customer:        customer,
		Items:           items,
		TotalAmount:     models.ComputeTotal(items),
		Status:          models.StatusPending,
		PaymentStatus:   models.PaymentPending,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: *address,
		Notes:           req.Notes,
		StockReserved:   true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	span.SetAttributes(attribute.String("order_id", order.ID.Hex()))

	if err := s.store.Insert(ctx, order); err != nil {
		s.rollback(bg, taken)
		spanFail(span, err)
		return nil, err
	}

	var intent *models.PaymentIntent
	if order.PaymentMethod == models.PaymentStripe {
		var err error
		intent, err = s.payments.CreateIntent(ctx, order.TotalAmount, order.ID.Hex())
		if err == nil {
			if err = s.store.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
				if cerr := s.payments.CancelIntent(bg, intent.ID); cerr != nil {
					s.log.Error("cancel orphaned intent", zap.String("intentId", intent.ID), zap.Error(cerr))
				}
			}
		}
		if err != nil {
			s.log.Error("payment intent setup failed", zap.String("orderId", order.ID.Hex()), zap.Error(err))
			spanFail(span, err)
			if _, cerr := s.store.CompareAndSetStatus(bg, order.ID, models.StatusPending, models.StatusCancelled); cerr != nil {
				s.log.Error("cancel order after payment failure", zap.String("orderId", order.ID.Hex()), zap.Error(cerr))
			}
			s.releaseStock(bg, order)
			return nil, ErrPaymentSetup
		}
		order.PaymentIntentID = intent.ID
	}

	s.metrics.OrderCreated(string(order.PaymentMethod))
	s.log.Info("order created",
		zap.String("orderId", order.ID.Hex()),
		zap.String("customer", customer.Hex()),
		zap.Float64("total", order.TotalAmount),
		zap.String("paymentMethod", string(order.PaymentMethod)))

	link := orderLink(order.ID)
	for _, farmer := range order.Farmers() {
		s.notify.Append(bg, farmer,
			fmt.Sprintf("You have a new order (#%s) containing your products.", shortID(order.ID)), link)
	}
	s.notify.Append(bg, customer,
		fmt.Sprintf("Your order #%s has been placed successfully!", shortID(order.ID)), link)

	return &Result{Order: order, PaymentIntent: intent}, nil
}

func isParticipant(o *models.Order, id primitive.ObjectID) bool {
	return o.Customer == id || o.HasFarmer(id)
}

// Get returns the order to its customer or to a farmer with items in it.
// The customer of an unpaid card order also gets the current client secret.
func (s *Service) Get(ctx context.Context, caller Caller, id primitive.ObjectID) (*Result, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParticipant(o, caller.ID) {
		return nil, ErrForbidden
	}

	res := &Result{Order: o}
	if o.Customer == caller.ID && s.awaitingPayment(o) && s.payments != nil {
		intent, err := s.payments.RetrieveIntent(ctx, o.PaymentIntentID)
		if err != nil {
			s.log.Warn("retrieve payment intent", zap.String("orderId", o.ID.Hex()), zap.Error(err))
		} else {
			res.PaymentIntent = intent
		}
	}
	return res, nil
}

func (s *Service) awaitingPayment(o *models.Order) bool {
	return o.PaymentMethod == models.PaymentStripe &&
		o.PaymentIntentID != "" &&
		o.Status != models.StatusCancelled &&
		(o.PaymentStatus == models.PaymentPending || o.PaymentStatus == models.PaymentFailed)
}

type UpdateRequest struct {
	Status        *models.OrderStatus `json:"status" validate:"omitempty,oneof=pending confirmed processing shipped delivered cancelled"`
	Notes         *string             `json:"notes" validate:"omitempty,max=1000"`
	PaymentStatus *string             `json:"paymentStatus"`
}

// Update applies a status transition and/or a notes change. Every
// permission is checked before anything is written.
func (s *Service) Update(ctx context.Context, caller Caller, id primitive.ObjectID, req UpdateRequest) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Update", trace.WithAttributes(attribute.String("order_id", id.Hex())))
	defer span.End()

	if req.PaymentStatus != nil {
		return nil, ErrPaymentStatusWrite
	}
	if req.Status == nil && req.Notes == nil {
		return nil, ErrNothingToUpdate
	}

	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	isCustomer := o.Customer == caller.ID
	isFarmer := caller.Role == models.RoleFarmer && o.HasFarmer(caller.ID)
	if !isCustomer && !isFarmer {
		return nil, ErrForbidden
	}
	if req.Notes != nil && !isCustomer {
		return nil, ErrForbidden
	}

	if req.Status != nil {
		target := *req.Status
		if !isFarmer && !(target == models.StatusCancelled && o.Status == models.StatusPending) {
			return nil, ErrForbidden
		}
		if !CanTransition(o.Status, target) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
		}
		span.SetAttributes(attribute.String("from", string(o.Status)), attribute.String("to", string(target)))

		updated, err := s.store.CompareAndSetStatus(ctx, id, o.Status, target)
		if err != nil {
			spanFail(span, err)
			return nil, err
		}
		bg := context.WithoutCancel(ctx)
		if target == models.StatusCancelled {
			s.afterCancel(bg, updated)
		}
		s.log.Info("order status changed",
			zap.String("orderId", id.Hex()),
			zap.String("from", string(o.Status)),
			zap.String("to", string(target)),
			zap.String("by", caller.ID.Hex()))

		if isFarmer {
			s.notify.Append(bg, updated.Customer,
				fmt.Sprintf("Update: Your order #%s has been marked as '%s'.", shortID(id), target), orderLink(id))
		} else {
			for _, farmer := range updated.Farmers() {
				s.notify.Append(bg, farmer,
					fmt.Sprintf("Order #%s was cancelled by the customer.", shortID(id)), orderLink(id))
			}
		}
		o = updated
	}

	if req.Notes != nil {
		if o, err = s.store.SetNotes(ctx, id, *req.Notes); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// afterCancel returns stock and settles the payment side of a cancelled
// order. Failures are logged; the cancellation itself already stands.
func (s *Service) afterCancel(ctx context.Context, o *models.Order) {
	s.releaseStock(ctx, o)

	if o.PaymentIntentID == "" || s.payments == nil {
		return
	}
	switch o.PaymentStatus {
	case models.PaymentPending, models.PaymentFailed:
		if err := s.payments.CancelIntent(ctx, o.PaymentIntentID); err != nil {
			s.log.Warn("cancel payment intent", zap.String("orderId", o.ID.Hex()), zap.Error(err))
		}
	case models.PaymentPaid:
		s.refund(ctx, o.ID, o.PaymentIntentID)
	}
}

func (s *Service) releaseStock(ctx context.Context, o *models.Order) {
	won, err := s.store.ClaimStockRelease(ctx, o.ID)
	if err != nil {
		s.log.Error("claim stock release", zap.String("orderId", o.ID.Hex()), zap.Error(err))
		return
	}
	if !won {
		return
	}
	taken := make([]reservation, 0, len(o.Items))
	for _, it := range o.Items {
		taken = append(taken, reservation{product: it.Product, qty: it.Quantity})
	}
	s.rollback(ctx, taken)
}

func (s *Service) refund(ctx context.Context, orderID primitive.ObjectID, intentID string) bool {
	if err := s.payments.Refund(ctx, intentID); err != nil {
		s.log.Error("refund failed", zap.String("orderId", orderID.Hex()), zap.String("intentId", intentID), zap.Error(err))
		return false
	}
	if _, _, err := s.store.SetPaymentStatus(ctx, orderID,
		[]models.PaymentStatus{models.PaymentPaid}, models.PaymentRefunded); err != nil {
		s.log.Error("mark refunded", zap.String("orderId", orderID.Hex()), zap.Error(err))
	}
	return true
}

func parseOrderID(raw string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return id, ErrNotFound
	}
	return id, nil
}

// MarkPaid applies a successful payment exactly once: a single
// conditional write from pending or failed to paid. Redeliveries find
// nothing to change and report applied=false.
func (s *Service) MarkPaid(ctx context.Context, orderID, intentID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "orders.MarkPaid", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	id, err := parseOrderID(orderID)
	if err != nil {
		return false, err
	}
	o, applied, err := s.store.SetPaymentStatus(ctx, id,
		[]models.PaymentStatus{models.PaymentPending, models.PaymentFailed}, models.PaymentPaid)
	if err != nil {
		spanFail(span, err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("applied", applied))
	if !applied {
		s.log.Info("payment already recorded", zap.String("orderId", orderID))
		return false, nil
	}

	bg := context.WithoutCancel(ctx)
	if o.PaymentIntentID != "" && o.PaymentIntentID != intentID {
		s.log.Warn("payment intent mismatch",
			zap.String("orderId", orderID), zap.String("stored", o.PaymentIntentID), zap.String("received", intentID))
	}

	if o.Status == models.StatusCancelled {
		s.log.Warn("payment received for cancelled order, refunding", zap.String("orderId", orderID))
		if s.payments != nil && s.refund(bg, o.ID, intentID) {
			s.notify.Append(bg, o.Customer,
				fmt.Sprintf("Your payment for cancelled order #%s has been refunded.", shortID(o.ID)), orderLink(o.ID))
		}
		return true, nil
	}

	s.log.Info("order paid", zap.String("orderId", orderID), zap.Float64("total", o.TotalAmount))
	for _, farmer := range o.Farmers() {
		s.notify.Append(bg, farmer, fmt.Sprintf("You have a new sale! Order #%s", shortID(o.ID)), orderLink(o.ID))
	}
	s.notify.Append(bg, o.Customer,
		fmt.Sprintf("Payment received for order #%s. Thank you!", shortID(o.ID)), orderLink(o.ID))
	return true, nil
}

// MarkPaymentFailed records a failed attempt; the customer may retry.
func (s *Service) MarkPaymentFailed(ctx context.Context, orderID, _ string) (bool, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return false, err
	}
	o, applied, err := s.store.SetPaymentStatus(ctx, id,
		[]models.PaymentStatus{models.PaymentPending}, models.PaymentFailed)
	if err != nil || !applied {
		return applied, err
	}
	s.notify.Append(context.WithoutCancel(ctx), o.Customer,
		fmt.Sprintf("Payment for order #%s failed. You can retry from the order page.", shortID(o.ID)), orderLink(o.ID))
	return true, nil
}
