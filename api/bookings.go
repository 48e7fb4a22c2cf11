package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkurochkin/medbooking/internal/domain"
	"github.com/mkurochkin/medbooking/internal/service/booking"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

type createBookingRequest struct {
	UserID       string   `json:"userId"`
	Gender       string   `json:"gender"`
	DOB          string   `json:"dob"`
	ServiceNames []string `json:"serviceNames"`
}

type bookingStatusResponse struct {
	BookingID  string               `json:"bookingId"`
	Status     string               `json:"status"`
	BasePrice  float64              `json:"basePrice"`
	FinalPrice *float64             `json:"finalPrice,omitempty"`
	FailReason *string              `json:"failReason,omitempty"`
	Services   []domain.ServiceItem `json:"services"`
	History    []string             `json:"history"`
	CreatedAt  string               `json:"createdAt"`
	UpdatedAt  string               `json:"updatedAt"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.GET("/:id", h.status)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		UserID:       req.UserID,
		Gender:       req.Gender,
		DOB:          req.DOB,
		ServiceNames: req.ServiceNames,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownService) || errors.Is(err, booking.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *BookingHandler) status(c *gin.Context) {
	id := c.Param("id")
	b, err := h.service.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, bookingStatusResponse{
		BookingID:  b.ID,
		Status:     string(b.Status),
		BasePrice:  b.BasePrice,
		FinalPrice: b.FinalPrice,
		FailReason: b.FailReason,
		Services:   b.Services,
		History:    b.History,
		CreatedAt:  b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  b.UpdatedAt.Format(time.RFC3339),
	})
}
