package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkurochkin/medbooking/internal/domain"
)

type ServicesHandler struct{}

type catalogServiceResponse struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func NewServicesHandler() *ServicesHandler {
	return &ServicesHandler{}
}

func (h *ServicesHandler) Register(router *gin.RouterGroup) {
	router.GET("/", h.list)
}

// list returns the catalog entries bookable for the given gender. Without a
// gender query only the unrestricted services are returned.
func (h *ServicesHandler) list(c *gin.Context) {
	gender := c.Query("gender")

	available := domain.AvailableServices(gender)
	out := make([]catalogServiceResponse, 0, len(available))
	for _, s := range available {
		out = append(out, catalogServiceResponse{Name: s.Name, Price: s.Price})
	}

	c.JSON(http.StatusOK, gin.H{"services": out})
}
