package events

// Queue names. Each event type gets its own durable queue.
const (
	BookingCreatedQueue   = "booking_created"
	DiscountResultQueue   = "discount_processed"
	DiscountProgressQueue = "discount_processing"
)

// Saga progress states carried on the diagnostic stream.
const (
	StateValidatingEligibility = "VALIDATING_ELIGIBILITY"
	StateCheckingQuota         = "CHECKING_QUOTA"
	StateApplyingDiscount      = "APPLYING_DISCOUNT"
	StateNoDiscount            = "NO_DISCOUNT"
	StateCompensating          = "COMPENSATING"
	StateSystemError           = "SYSTEM_ERROR"
)

type ServiceItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// BookingCreated is emitted once per booking after the PENDING row is persisted.
// Delivery is at-least-once; consumers must tolerate duplicates.
type BookingCreated struct {
	BookingID string        `json:"bookingId"`
	UserID    string        `json:"userId"`
	Gender    string        `json:"gender"`
	DOB       string        `json:"dob"` // YYYY-MM-DD
	Services  []ServiceItem `json:"services"`
	BasePrice float64       `json:"basePrice"`
	TraceID   string        `json:"traceId"`
}

// DiscountProcessed carries the saga outcome back to the booking service.
type DiscountProcessed struct {
	BookingID  string  `json:"bookingId"`
	IsAllowed  bool    `json:"isAllowed"`
	FinalPrice float64 `json:"finalPrice"`
	Reason     string  `json:"reason,omitempty"`
	TraceID    string  `json:"traceId"`
}

// DiscountProgress is an intermediate saga state, purely observational.
type DiscountProgress struct {
	BookingID string `json:"bookingId"`
	State     string `json:"state"`
	Message   string `json:"message"`
	TraceID   string `json:"traceId"`
}
