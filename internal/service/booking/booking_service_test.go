package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mkurochkin/medbooking/internal/domain"
	"github.com/mkurochkin/medbooking/internal/events"
	"github.com/mkurochkin/medbooking/internal/rabbitmq"
)

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBookingRepository) FinalizeIfPending(ctx context.Context, id string, status domain.BookingStatus, finalPrice *float64, failReason *string, historyEntry string) (bool, error) {
	args := m.Called(ctx, id, status, finalPrice, failReason, historyEntry)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookingRepository) RejectStalePending(ctx context.Context, cutoff time.Time, reason, historyEntry string) (int64, error) {
	args := m.Called(ctx, cutoff, reason, historyEntry)
	return args.Get(0).(int64), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, queue, key string, payload interface{}) error {
	args := m.Called(ctx, queue, key, payload)
	return args.Error(0)
}

func newTestService(repo *MockBookingRepository, producer *MockProducer) *BookingService {
	return NewBookingService(repo, producer, "booking_created", 5*time.Minute)
}

func TestCreateBooking_Success(t *testing.T) {
	repo := &MockBookingRepository{}
	producer := &MockProducer{}
	service := newTestService(repo, producer)

	ctx := context.Background()
	input := CreateBookingInput{
		UserID:       "user-1",
		Gender:       "Female",
		DOB:          "1992-06-15",
		ServiceNames: []string{"General Consultation", "X-Ray"},
	}

	repo.On("Create", ctx, mock.AnythingOfType("*domain.Booking")).Return(nil).Once()
	producer.On("Publish", ctx, "booking_created", mock.Anything, mock.Anything).Return(nil).Once()

	result, err := service.CreateBooking(ctx, input)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.BookingID)
	assert.NotEmpty(t, result.TraceID)
	assert.Equal(t, string(domain.BookingStatusPending), result.Status)

	created := repo.Calls[0].Arguments.Get(1).(*domain.Booking)
	assert.Equal(t, float64(1700), created.BasePrice)
	assert.Len(t, created.Services, 2)
	require.Len(t, created.History, 1)
	assert.Contains(t, created.History[0], "Booking Created (Pending)")

	published := producer.Calls[0].Arguments.Get(3).(events.BookingCreated)
	assert.Equal(t, created.ID, published.BookingID)
	assert.Equal(t, float64(1700), published.BasePrice)
	assert.Equal(t, result.TraceID, published.TraceID)

	repo.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestCreateBooking_ValidationErrors(t *testing.T) {
	service := newTestService(&MockBookingRepository{}, &MockProducer{})
	ctx := context.Background()

	testCases := []struct {
		name  string
		input CreateBookingInput
	}{
		{
			name:  "missing user id",
			input: CreateBookingInput{Gender: "Male", DOB: "1990-01-01", ServiceNames: []string{"Blood Test"}},
		},
		{
			name:  "invalid gender",
			input: CreateBookingInput{UserID: "u", Gender: "unknown", DOB: "1990-01-01", ServiceNames: []string{"Blood Test"}},
		},
		{
			name:  "invalid dob",
			input: CreateBookingInput{UserID: "u", Gender: "Male", DOB: "01/01/1990", ServiceNames: []string{"Blood Test"}},
		},
		{
			name:  "no services",
			input: CreateBookingInput{UserID: "u", Gender: "Male", DOB: "1990-01-01"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := service.CreateBooking(ctx, tc.input)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestCreateBooking_ServiceNotInCatalogForGender(t *testing.T) {
	repo := &MockBookingRepository{}
	producer := &MockProducer{}
	service := newTestService(repo, producer)

	result, err := service.CreateBooking(context.Background(), CreateBookingInput{
		UserID:       "user-2",
		Gender:       "Male",
		DOB:          "1990-01-01",
		ServiceNames: []string{"Mammogram"},
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrUnknownService)
	repo.AssertNotCalled(t, "Create")
}

// If the event cannot be published the PENDING row is deleted again; otherwise
// it would stay pending forever with no saga ever seeing it.
func TestCreateBooking_PublishFailureRollsBack(t *testing.T) {
	repo := &MockBookingRepository{}
	producer := &MockProducer{}
	service := newTestService(repo, producer)

	ctx := context.Background()
	input := CreateBookingInput{
		UserID:       "user-3",
		Gender:       "Male",
		DOB:          "1990-01-01",
		ServiceNames: []string{"Blood Test"},
	}

	repo.On("Create", ctx, mock.AnythingOfType("*domain.Booking")).Return(nil).Once()
	producer.On("Publish", ctx, "booking_created", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	repo.On("Delete", ctx, mock.AnythingOfType("string")).Return(nil).Once()

	result, err := service.CreateBooking(ctx, input)

	assert.Nil(t, result)
	require.Error(t, err)

	created := repo.Calls[0].Arguments.Get(1).(*domain.Booking)
	deletedID := repo.Calls[1].Arguments.String(1)
	assert.Equal(t, created.ID, deletedID)

	repo.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestHandleDiscountResult_Confirms(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &MockProducer{})

	ctx := context.Background()
	pending := &domain.Booking{ID: "b-1", Status: domain.BookingStatusPending, BasePrice: 1200}

	repo.On("GetByID", ctx, "b-1").Return(pending, nil).Once()
	repo.On("FinalizeIfPending", ctx, "b-1", domain.BookingStatusConfirmed,
		mock.MatchedBy(func(p *float64) bool { return p != nil && *p == 1056 }),
		(*string)(nil),
		mock.AnythingOfType("string")).Return(true, nil).Once()

	err := service.HandleDiscountResult(ctx, events.DiscountProcessed{
		BookingID:  "b-1",
		IsAllowed:  true,
		FinalPrice: 1056,
		TraceID:    "t-1",
	})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestHandleDiscountResult_Rejects(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &MockProducer{})

	ctx := context.Background()
	pending := &domain.Booking{ID: "b-2", Status: domain.BookingStatusPending}

	repo.On("GetByID", ctx, "b-2").Return(pending, nil).Once()
	repo.On("FinalizeIfPending", ctx, "b-2", domain.BookingStatusRejected,
		(*float64)(nil),
		mock.MatchedBy(func(r *string) bool { return r != nil && *r == "quota reached" }),
		mock.AnythingOfType("string")).Return(true, nil).Once()

	err := service.HandleDiscountResult(ctx, events.DiscountProcessed{
		BookingID: "b-2",
		IsAllowed: false,
		Reason:    "quota reached",
		TraceID:   "t-2",
	})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

// An outcome for a booking that no longer exists is an anomaly: logged and
// acknowledged, since retrying cannot bring the row back.
func TestHandleDiscountResult_UnknownBooking(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &MockProducer{})

	ctx := context.Background()
	repo.On("GetByID", ctx, "gone").Return(nil, domain.ErrBookingNotFound).Once()

	err := service.HandleDiscountResult(ctx, events.DiscountProcessed{BookingID: "gone", IsAllowed: true})

	require.NoError(t, err)
	repo.AssertNotCalled(t, "FinalizeIfPending")
}

// Once a booking left PENDING, no outcome delivery may change it again.
func TestHandleDiscountResult_AlreadyTerminal(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &MockProducer{})

	ctx := context.Background()
	rejected := &domain.Booking{ID: "b-3", Status: domain.BookingStatusRejected}

	repo.On("GetByID", ctx, "b-3").Return(rejected, nil).Once()

	err := service.HandleDiscountResult(ctx, events.DiscountProcessed{BookingID: "b-3", IsAllowed: true, FinalPrice: 100})

	require.NoError(t, err)
	repo.AssertNotCalled(t, "FinalizeIfPending")
}

// The read can race the sweeper: the row was PENDING at fetch time but the
// conditional update lands on zero rows. That is a no-op, not an error.
func TestHandleDiscountResult_LostRaceIsNoOp(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &MockProducer{})

	ctx := context.Background()
	pending := &domain.Booking{ID: "b-4", Status: domain.BookingStatusPending}

	repo.On("GetByID", ctx, "b-4").Return(pending, nil).Once()
	repo.On("FinalizeIfPending", ctx, "b-4", domain.BookingStatusConfirmed,
		mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()

	err := service.HandleDiscountResult(ctx, events.DiscountProcessed{BookingID: "b-4", IsAllowed: true, FinalPrice: 99})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestHandleDiscountResult_PersistenceError(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &MockProducer{})

	ctx := context.Background()
	pending := &domain.Booking{ID: "b-5", Status: domain.BookingStatusPending}

	repo.On("GetByID", ctx, "b-5").Return(pending, nil).Once()
	repo.On("FinalizeIfPending", ctx, "b-5", domain.BookingStatusConfirmed,
		mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("db down")).Once()

	err := service.HandleDiscountResult(ctx, events.DiscountProcessed{BookingID: "b-5", IsAllowed: true, FinalPrice: 99})

	require.Error(t, err)
	repo.AssertExpectations(t)
}

func TestRejectStaleBookings(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newTestService(repo, &MockProducer{})

	ctx := context.Background()
	before := time.Now().Add(-5 * time.Minute)

	repo.On("RejectStalePending", ctx,
		mock.MatchedBy(func(cutoff time.Time) bool {
			// cutoff is now minus the threshold, within test scheduling slack
			return !cutoff.Before(before.Add(-time.Minute)) && !cutoff.After(time.Now())
		}),
		TimeoutFailReason,
		mock.AnythingOfType("string")).Return(int64(2), nil).Once()

	count, err := service.RejectStaleBookings(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	repo.AssertExpectations(t)
}

func TestDiscountResultHandler_Dispositions(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed payload is discarded", func(t *testing.T) {
		service := newTestService(&MockBookingRepository{}, &MockProducer{})
		handler := service.DiscountResultHandler()
		assert.Equal(t, rabbitmq.NackDiscard, handler(ctx, []byte("not json")))
	})

	t.Run("persistence error requeues", func(t *testing.T) {
		repo := &MockBookingRepository{}
		service := newTestService(repo, &MockProducer{})

		repo.On("GetByID", mock.Anything, "b-6").Return(nil, errors.New("db down")).Once()

		handler := service.DiscountResultHandler()
		assert.Equal(t, rabbitmq.NackRequeue, handler(ctx, []byte(`{"bookingId":"b-6","isAllowed":true,"finalPrice":10}`)))
	})

	t.Run("finalized booking acks", func(t *testing.T) {
		repo := &MockBookingRepository{}
		service := newTestService(repo, &MockProducer{})

		pending := &domain.Booking{ID: "b-7", Status: domain.BookingStatusPending}
		repo.On("GetByID", mock.Anything, "b-7").Return(pending, nil).Once()
		repo.On("FinalizeIfPending", mock.Anything, "b-7", domain.BookingStatusConfirmed,
			mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()

		handler := service.DiscountResultHandler()
		assert.Equal(t, rabbitmq.Ack, handler(ctx, []byte(`{"bookingId":"b-7","isAllowed":true,"finalPrice":10}`)))
	})
}
