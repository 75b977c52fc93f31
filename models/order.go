package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentStripe PaymentMethod = "stripe"
	PaymentCash   PaymentMethod = "cash"
)

// OrderItem snapshots the product's price, name and farmer at order time.
type OrderItem struct {
	Product  primitive.ObjectID `json:"product" bson:"product"`
	Farmer   primitive.ObjectID `json:"farmer" bson:"farmer"`
	Name     string             `json:"name" bson:"name"`
	Quantity int                `json:"quantity" bson:"quantity"`
	Price    float64            `json:"price" bson:"price"`
}

type Order struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Customer        primitive.ObjectID `json:"customer" bson:"customer"`
	Items           []OrderItem        `json:"items" bson:"items"`
	TotalAmount     float64            `json:"totalAmount" bson:"totalAmount"`
	Status          OrderStatus        `json:"status" bson:"status"`
	PaymentStatus   PaymentStatus      `json:"paymentStatus" bson:"paymentStatus"`
	PaymentMethod   PaymentMethod      `json:"paymentMethod" bson:"paymentMethod"`
	PaymentIntentID string             `json:"paymentIntentId,omitempty" bson:"paymentIntentId,omitempty"`
	ShippingAddress Address            `json:"shippingAddress" bson:"shippingAddress"`
	DeliveryDate    *time.Time         `json:"deliveryDate,omitempty" bson:"deliveryDate,omitempty"`
	Notes           string             `json:"notes,omitempty" bson:"notes,omitempty"`
	StockReserved   bool               `json:"-" bson:"stockReserved"`
	CreatedAt       time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// ComputeTotal sums price x quantity in decimal and rounds to cents.
func ComputeTotal(items []OrderItem) float64 {
	total := decimal.Zero
	for _, it := range items {
		line := decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(line)
	}
	f, _ := total.Round(2).Float64()
	return f
}

// Farmers lists the distinct farmers represented in the order, in item order.
func (o *Order) Farmers() []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool, len(o.Items))
	var out []primitive.ObjectID
	for _, it := range o.Items {
		if !seen[it.Farmer] {
			seen[it.Farmer] = true
			out = append(out, it.Farmer)
		}
	}
	return out
}

// HasFarmer reports whether any line item belongs to the farmer.
func (o *Order) HasFarmer(id primitive.ObjectID) bool {
	for _, it := range o.Items {
		if it.Farmer == id {
			return true
		}
	}
	return false
}
