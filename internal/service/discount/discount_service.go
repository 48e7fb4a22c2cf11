package discount

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/mkurochkin/medbooking/config"
	"github.com/mkurochkin/medbooking/internal/events"
	"github.com/mkurochkin/medbooking/internal/rabbitmq"
)

const (
	dayFormat          = "2006-01-02"
	discountMultiplier = 0.88

	bannedUserReason = "User is not authorized"
	quotaLimitReason = "Daily discount quota reached. Please try again tomorrow."
)

type QuotaStore interface {
	AcquireProcessedLock(ctx context.Context, bookingID string) (bool, error)
	ReleaseProcessedLock(ctx context.Context, bookingID string) error
	IncrQuota(ctx context.Context, day string) (int64, error)
	DecrQuota(ctx context.Context, day string) error
	CleanupQuotaKeys(ctx context.Context, today string) (int, error)
}

type Producer interface {
	Publish(ctx context.Context, queue, key string, payload interface{}) error
}

type DiscountService struct {
	store         QuotaStore
	producer      Producer
	resultQueue   string
	progressQueue string
	quotaLimit    int64
	bannedUser    string
	highValue     float64
	loc           *time.Location
}

func NewDiscountService(store QuotaStore, producer Producer, resultQueue, progressQueue string, cfg config.DiscountConfig) (*DiscountService, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
	}
	return &DiscountService{
		store:         store,
		producer:      producer,
		resultQueue:   resultQueue,
		progressQueue: progressQueue,
		quotaLimit:    cfg.DailyQuotaLimit,
		bannedUser:    cfg.BannedUser,
		highValue:     cfg.HighValueThreshold,
		loc:           loc,
	}, nil
}

// sagaState accumulates the decision while the saga runs, so compensation
// knows exactly which partial effects to undo.
type sagaState struct {
	finalPrice    float64
	isAllowed     bool
	reason        string
	quotaConsumed bool
	quotaDay      string
}

// ProcessDiscount runs the full saga for one booking_created event. A nil
// return means the message must be acknowledged: either the saga completed or
// the event was a duplicate or a terminal business rejection. A non-nil error
// means an infrastructure fault; partial effects have been compensated and the
// message should be redelivered.
func (s *DiscountService) ProcessDiscount(ctx context.Context, event events.BookingCreated) error {
	logPrefix := fmt.Sprintf("[TraceID: %s] ", event.TraceID)

	acquired, err := s.store.AcquireProcessedLock(ctx, event.BookingID)
	if err != nil {
		s.emitProgress(ctx, event, events.StateSystemError, "Quota store unavailable during idempotency check")
		return fmt.Errorf("acquire idempotency lock: %w", err)
	}
	if !acquired {
		log.Printf("%sduplicate booking_created for %s, skipping", logPrefix, event.BookingID)
		return nil
	}

	st := &sagaState{finalPrice: event.BasePrice, isAllowed: true}

	s.emitProgress(ctx, event, events.StateValidatingEligibility, "Validating discount eligibility...")
	if event.UserID == s.bannedUser {
		st.isAllowed = false
		st.reason = bannedUserReason
		if err := s.emitResult(ctx, event, st); err != nil {
			s.compensate(ctx, event, st)
			return err
		}
		// Terminal business rejection: no quota was touched, nothing to undo.
		return nil
	}

	if err := s.applyQuotaAndDiscount(ctx, event, st, logPrefix); err != nil {
		s.compensate(ctx, event, st)
		return err
	}

	if err := s.emitResult(ctx, event, st); err != nil {
		s.compensate(ctx, event, st)
		return err
	}
	return nil
}

func (s *DiscountService) applyQuotaAndDiscount(ctx context.Context, event events.BookingCreated, st *sagaState, logPrefix string) error {
	now := time.Now().In(s.loc)

	qualifies := (strings.EqualFold(event.Gender, "female") && s.birthdayMatches(event.DOB, now, logPrefix)) ||
		event.BasePrice > s.highValue

	if !qualifies {
		s.emitProgress(ctx, event, events.StateNoDiscount, "No discount applicable")
		return nil
	}

	s.emitProgress(ctx, event, events.StateCheckingQuota, "Checking daily discount quota availability...")

	day := now.Format(dayFormat)
	count, err := s.store.IncrQuota(ctx, day)
	if err != nil {
		s.emitProgress(ctx, event, events.StateSystemError, "Quota store unavailable during quota increment")
		return fmt.Errorf("increment quota: %w", err)
	}
	st.quotaConsumed = true
	st.quotaDay = day

	if count > s.quotaLimit {
		st.isAllowed = false
		st.reason = quotaLimitReason

		// The unit was consumed for nothing; release it right away. A failed
		// release only overcounts until the key expires, which is tolerable.
		s.emitProgress(ctx, event, events.StateCompensating, "Quota exceeded - rolling back quota")
		if err := s.store.DecrQuota(ctx, day); err != nil {
			log.Printf("%squota rollback for %s failed: %v", logPrefix, day, err)
		} else {
			st.quotaConsumed = false
		}
		return nil
	}

	s.emitProgress(ctx, event, events.StateApplyingDiscount, fmt.Sprintf("Applying 12%% discount (%d/%d)", count, s.quotaLimit))
	st.finalPrice = math.Round(event.BasePrice * discountMultiplier)
	return nil
}

// compensate undoes partial effects after an infrastructure fault: the
// consumed quota unit is released and the idempotency lock removed so a
// redelivered event can legitimately retry.
func (s *DiscountService) compensate(ctx context.Context, event events.BookingCreated, st *sagaState) {
	if st.quotaConsumed && st.quotaDay != "" {
		s.emitProgress(ctx, event, events.StateCompensating, "System error - rolling back quota")
		if err := s.store.DecrQuota(ctx, st.quotaDay); err != nil {
			log.Printf("[TraceID: %s] compensating quota decrement failed: %v", event.TraceID, err)
		}
	}
	if err := s.store.ReleaseProcessedLock(ctx, event.BookingID); err != nil {
		log.Printf("[TraceID: %s] releasing idempotency lock for %s failed: %v", event.TraceID, event.BookingID, err)
	}
}

func (s *DiscountService) emitResult(ctx context.Context, event events.BookingCreated, st *sagaState) error {
	result := events.DiscountProcessed{
		BookingID:  event.BookingID,
		IsAllowed:  st.isAllowed,
		FinalPrice: st.finalPrice,
		Reason:     st.reason,
		TraceID:    event.TraceID,
	}
	if err := s.producer.Publish(ctx, s.resultQueue, event.BookingID, result); err != nil {
		return fmt.Errorf("emit discount result: %w", err)
	}
	return nil
}

// emitProgress publishes an intermediate saga state. The stream is purely
// observational, so failures are logged and otherwise ignored.
func (s *DiscountService) emitProgress(ctx context.Context, event events.BookingCreated, state, message string) {
	progress := events.DiscountProgress{
		BookingID: event.BookingID,
		State:     state,
		Message:   message,
		TraceID:   event.TraceID,
	}
	if err := s.producer.Publish(ctx, s.progressQueue, event.BookingID, progress); err != nil {
		log.Printf("[TraceID: %s] emit progress %s failed: %v", event.TraceID, state, err)
	}
}

func (s *DiscountService) birthdayMatches(dob string, now time.Time, logPrefix string) bool {
	parsed, err := time.Parse(dayFormat, dob)
	if err != nil {
		log.Printf("%sinvalid dob %q, defaulting to no discount", logPrefix, dob)
		return false
	}
	return parsed.Month() == now.Month() && parsed.Day() == now.Day()
}

// CleanupQuota deletes quota counters for every day except the current one in
// the service timezone.
func (s *DiscountService) CleanupQuota(ctx context.Context) (int, error) {
	today := time.Now().In(s.loc).Format(dayFormat)
	return s.store.CleanupQuotaKeys(ctx, today)
}

// BookingCreatedHandler adapts ProcessDiscount to a queue consumer.
func (s *DiscountService) BookingCreatedHandler() rabbitmq.Handler {
	return func(ctx context.Context, body []byte) rabbitmq.Disposition {
		var event events.BookingCreated
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("decode booking_created: %v", err)
			return rabbitmq.NackDiscard
		}
		if err := s.ProcessDiscount(ctx, event); err != nil {
			log.Printf("process discount for %s: %v", event.BookingID, err)
			return rabbitmq.NackRequeue
		}
		return rabbitmq.Ack
	}
}
