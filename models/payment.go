package models

// PaymentIntent is the processor-side payment the client completes.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Status       string `json:"-"`
}
