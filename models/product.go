package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Category string

const (
	CategoryFruits     Category = "fruits"
	CategoryVegetables Category = "vegetables"
	CategoryDairy      Category = "dairy"
	CategoryMeat       Category = "meat"
	CategoryGrains     Category = "grains"
	CategoryHerbs      Category = "herbs"
)

var Categories = []Category{
	CategoryFruits, CategoryVegetables, CategoryDairy,
	CategoryMeat, CategoryGrains, CategoryHerbs,
}

type Unit string

var Units = []Unit{"kg", "lb", "piece", "bunch", "dozen", "liter", "gallon", "pint"}

type Coordinates struct {
	Lat float64 `json:"lat" bson:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" bson:"lng" validate:"gte=-180,lte=180"`
}

type FarmLocation struct {
	City        string       `json:"city" bson:"city" validate:"required"`
	State       string       `json:"state" bson:"state" validate:"required"`
	Coordinates *Coordinates `json:"coordinates,omitempty" bson:"coordinates,omitempty" validate:"omitempty"`
}

type Review struct {
	ID      primitive.ObjectID `json:"id" bson:"_id"`
	User    primitive.ObjectID `json:"user" bson:"user"`
	Rating  int                `json:"rating" bson:"rating"`
	Comment string             `json:"comment" bson:"comment"`
	Date    time.Time          `json:"date" bson:"date"`
}

type Product struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name         string             `json:"name" bson:"name"`
	Description  string             `json:"description" bson:"description"`
	Price        float64            `json:"price" bson:"price"`
	Category     Category           `json:"category" bson:"category"`
	Quantity     int                `json:"quantity" bson:"quantity"`
	Unit         Unit               `json:"unit" bson:"unit"`
	FarmLocation FarmLocation       `json:"farmLocation" bson:"farmLocation"`
	Farmer       primitive.ObjectID `json:"farmer" bson:"farmer"`
	Images       []string           `json:"images" bson:"images"`
	IsAvailable  bool               `json:"isAvailable" bson:"isAvailable"`
	HarvestDate  time.Time          `json:"harvestDate" bson:"harvestDate"`
	ExpiryDate   *time.Time         `json:"expiryDate,omitempty" bson:"expiryDate,omitempty"`
	Organic      bool               `json:"organic" bson:"organic"`
	Rating       float64            `json:"rating" bson:"rating"`
	Reviews      []Review           `json:"reviews" bson:"reviews"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// ProductView is a product with its farmer joined in.
type ProductView struct {
	Product    `bson:",inline"`
	FarmerInfo *UserSummary `json:"farmerInfo,omitempty" bson:"farmerInfo,omitempty"`
}

// AverageRating is the arithmetic mean of the review ratings, 0 when empty.
func AverageRating(reviews []Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	return float64(sum) / float64(len(reviews))
}
