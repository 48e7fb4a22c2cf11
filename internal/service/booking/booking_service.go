package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mkurochkin/medbooking/internal/domain"
	"github.com/mkurochkin/medbooking/internal/events"
	"github.com/mkurochkin/medbooking/internal/rabbitmq"
	"github.com/mkurochkin/medbooking/internal/repository"
)

// TimeoutFailReason is recorded on bookings the sweeper force-rejects.
const TimeoutFailReason = "System timeout: Discount service did not respond."

// ErrInvalidRequest marks caller mistakes that never enter the saga.
var ErrInvalidRequest = errors.New("invalid booking request")

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*CreateBookingResult, error)
	GetStatus(ctx context.Context, id string) (*domain.Booking, error)
	HandleDiscountResult(ctx context.Context, result events.DiscountProcessed) error
	RejectStaleBookings(ctx context.Context) (int64, error)
}

type Producer interface {
	Publish(ctx context.Context, queue, key string, payload interface{}) error
}

type BookingService struct {
	bookings            repository.BookingRepository
	producer            Producer
	bookingCreatedQueue string
	pendingTimeout      time.Duration
}

type CreateBookingInput struct {
	UserID       string   `json:"userId"`
	Gender       string   `json:"gender"`
	DOB          string   `json:"dob"`
	ServiceNames []string `json:"serviceNames"`
}

type CreateBookingResult struct {
	BookingID string `json:"bookingId"`
	TraceID   string `json:"traceId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func NewBookingService(
	bookings repository.BookingRepository,
	producer Producer,
	bookingCreatedQueue string,
	pendingTimeout time.Duration,
) *BookingService {
	return &BookingService{
		bookings:            bookings,
		producer:            producer,
		bookingCreatedQueue: bookingCreatedQueue,
		pendingTimeout:      pendingTimeout,
	}
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*CreateBookingResult, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	switch input.Gender {
	case "Male", "Female", "Other":
	default:
		return nil, fmt.Errorf("%w: gender must be Male, Female, or Other", ErrInvalidRequest)
	}
	if _, err := time.Parse("2006-01-02", input.DOB); err != nil {
		return nil, fmt.Errorf("%w: dob must be a YYYY-MM-DD date", ErrInvalidRequest)
	}
	if len(input.ServiceNames) == 0 {
		return nil, fmt.Errorf("%w: at least one service must be selected", ErrInvalidRequest)
	}

	selected, basePrice, err := domain.SelectServices(input.Gender, input.ServiceNames)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	booking := &domain.Booking{
		ID:        uuid.NewString(),
		UserID:    input.UserID,
		Gender:    input.Gender,
		DOB:       input.DOB,
		Services:  selected,
		BasePrice: basePrice,
		History:   []string{historyEntry("Booking Created (Pending)")},
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, err
	}

	log.Printf("[TraceID: %s] booking %s saved, emitting event", traceID, booking.ID)

	event := events.BookingCreated{
		BookingID: booking.ID,
		UserID:    booking.UserID,
		Gender:    booking.Gender,
		DOB:       booking.DOB,
		Services:  toEventServices(booking.Services),
		BasePrice: booking.BasePrice,
		TraceID:   traceID,
	}

	if err := s.producer.Publish(ctx, s.bookingCreatedQueue, booking.ID, event); err != nil {
		// An un-advertised PENDING row would stay pending forever; deleting it
		// here is the local compensating action.
		log.Printf("[TraceID: %s] failed to emit booking_created, rolling back booking %s: %v", traceID, booking.ID, err)
		if delErr := s.bookings.Delete(ctx, booking.ID); delErr != nil {
			log.Printf("[TraceID: %s] rollback delete of booking %s failed: %v", traceID, booking.ID, delErr)
		}
		return nil, fmt.Errorf("emit booking_created: %w", err)
	}

	return &CreateBookingResult{
		BookingID: booking.ID,
		TraceID:   traceID,
		Status:    string(domain.BookingStatusPending),
		Message:   "Booking request received. Processing...",
	}, nil
}

func (s *BookingService) GetStatus(ctx context.Context, id string) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// HandleDiscountResult finalizes a PENDING booking from a saga outcome. The
// terminal transition is guarded by the conditional update in the repository,
// so duplicate deliveries and late outcomes after a timeout become no-ops.
func (s *BookingService) HandleDiscountResult(ctx context.Context, result events.DiscountProcessed) error {
	logPrefix := ""
	if result.TraceID != "" {
		logPrefix = fmt.Sprintf("[TraceID: %s] ", result.TraceID)
	}

	booking, err := s.bookings.GetByID(ctx, result.BookingID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		log.Printf("%scritical: discount result for unknown booking %s", logPrefix, result.BookingID)
		return nil
	}
	if err != nil {
		return err
	}
	if booking.Status != domain.BookingStatusPending {
		log.Printf("%sbooking %s is already %s, ignoring result", logPrefix, booking.ID, booking.Status)
		return nil
	}

	status := domain.BookingStatusRejected
	var finalPrice *float64
	var failReason *string
	var entry string
	if result.IsAllowed {
		status = domain.BookingStatusConfirmed
		finalPrice = &result.FinalPrice
		entry = historyEntry(fmt.Sprintf("Confirmed. Price: %v", result.FinalPrice))
	} else {
		reason := result.Reason
		failReason = &reason
		entry = historyEntry(fmt.Sprintf("Rejected: %s", result.Reason))
	}

	updated, err := s.bookings.FinalizeIfPending(ctx, booking.ID, status, finalPrice, failReason, entry)
	if err != nil {
		return err
	}
	if !updated {
		log.Printf("%sbooking %s was finalized concurrently, ignoring result", logPrefix, booking.ID)
		return nil
	}

	log.Printf("%sbooking %s updated to %s", logPrefix, booking.ID, status)
	return nil
}

// RejectStaleBookings resolves bookings orphaned by lost or never-sent
// messages: everything still PENDING past the timeout threshold is rejected
// in a single conditional bulk update.
func (s *BookingService) RejectStaleBookings(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.pendingTimeout)
	return s.bookings.RejectStalePending(ctx, cutoff, TimeoutFailReason, historyEntry("System Timeout."))
}

// DiscountResultHandler adapts HandleDiscountResult to a queue consumer.
// Unparseable payloads are discarded; persistence errors requeue so the booking
// is finalized on redelivery.
func (s *BookingService) DiscountResultHandler() rabbitmq.Handler {
	return func(ctx context.Context, body []byte) rabbitmq.Disposition {
		var result events.DiscountProcessed
		if err := json.Unmarshal(body, &result); err != nil {
			log.Printf("decode discount result: %v", err)
			return rabbitmq.NackDiscard
		}
		if err := s.HandleDiscountResult(ctx, result); err != nil {
			log.Printf("handle discount result for %s: %v", result.BookingID, err)
			return rabbitmq.NackRequeue
		}
		return rabbitmq.Ack
	}
}

func historyEntry(msg string) string {
	return fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), msg)
}

func toEventServices(items []domain.ServiceItem) []events.ServiceItem {
	out := make([]events.ServiceItem, 0, len(items))
	for _, it := range items {
		out = append(out, events.ServiceItem{Name: it.Name, Price: it.Price})
	}
	return out
}

var _ BookingUseCase = (*BookingService)(nil)
