package domain

import (
	"errors"
	"time"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusRejected  BookingStatus = "REJECTED"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrUnknownService  = errors.New("service is not available")
)

type ServiceItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type Booking struct {
	ID         string
	UserID     string
	Gender     string
	DOB        string
	Services   []ServiceItem
	BasePrice  float64
	FinalPrice *float64
	Status     BookingStatus
	FailReason *string
	History    []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
