package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkurochkin/medbooking/config"
	"github.com/mkurochkin/medbooking/internal/bootstrap"
	"github.com/mkurochkin/medbooking/internal/events"
	"github.com/mkurochkin/medbooking/internal/rabbitmq"
	"github.com/mkurochkin/medbooking/internal/repository"
	"github.com/mkurochkin/medbooking/internal/service/booking"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	producer, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.BookingCreatedQueue)
	if err != nil {
		log.Fatalf("connect rabbitmq publisher: %v", err)
	}
	defer producer.Close()

	bookingRepo := repository.NewBookingRepository(pool)
	bookingService := booking.NewBookingService(
		bookingRepo,
		producer,
		cfg.RabbitMQ.BookingCreatedQueue,
		time.Duration(cfg.Worker.PendingTimeoutMinutes)*time.Minute,
	)

	resultConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.DiscountResultQueue)
	if err != nil {
		log.Fatalf("connect rabbitmq consumer: %v", err)
	}
	defer resultConsumer.Close()

	go func() {
		if err := resultConsumer.Consume(ctx, bookingService.DiscountResultHandler()); err != nil {
			log.Printf("discount result consumer stopped: %v", err)
		}
	}()

	progressConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.DiscountProgressQueue)
	if err != nil {
		log.Fatalf("connect rabbitmq consumer: %v", err)
	}
	defer progressConsumer.Close()

	go func() {
		if err := progressConsumer.Consume(ctx, logProgress); err != nil {
			log.Printf("progress consumer stopped: %v", err)
		}
	}()

	sweep := time.NewTicker(time.Duration(cfg.Worker.TimeoutSweepMinutes) * time.Minute)
	defer sweep.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				count, err := bookingService.RejectStaleBookings(ctx)
				if err != nil {
					log.Printf("timeout sweep error: %v", err)
					continue
				}
				if count > 0 {
					log.Printf("timed out %d stale bookings", count)
				}
			}
		}
	}()

	if err := bootstrap.Run(ctx, cfg, bookingService); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// logProgress mirrors the saga's diagnostic stream into the service log.
func logProgress(_ context.Context, body []byte) rabbitmq.Disposition {
	var p events.DiscountProgress
	if err := json.Unmarshal(body, &p); err != nil {
		log.Printf("decode progress event: %v", err)
		return rabbitmq.NackDiscard
	}
	log.Printf("[TraceID: %s] booking %s: %s - %s", p.TraceID, p.BookingID, p.State, p.Message)
	return rabbitmq.Ack
}
