package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkurochkin/medbooking/api"
	"github.com/mkurochkin/medbooking/config"
	"github.com/mkurochkin/medbooking/internal/service/booking"
)

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails.
func Run(ctx context.Context, cfg *config.Config, bookingSvc booking.BookingUseCase) error {
	router := gin.Default()

	bookingHandler := api.NewBookingHandler(bookingSvc)
	bookingHandler.Register(router.Group("/booking"))

	servicesHandler := api.NewServicesHandler()
	servicesHandler.Register(router.Group("/services"))

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}
