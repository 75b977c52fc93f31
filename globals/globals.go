package globals

// Context keys
type ContextKey string

const (
	ClaimsKey    ContextKey = "claims"
	RequestIDKey ContextKey = "requestId"
)

// Collection names shared by the stores and the index bootstrap.
const (
	UsersCollection         = "users"
	ProductsCollection      = "products"
	OrdersCollection        = "orders"
	NotificationsCollection = "notifications"
	IdempotencyCollection   = "idempotency"
)
