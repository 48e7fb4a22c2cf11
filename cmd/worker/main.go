package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkurochkin/medbooking/config"
	"github.com/mkurochkin/medbooking/internal/cache"
	"github.com/mkurochkin/medbooking/internal/rabbitmq"
	"github.com/mkurochkin/medbooking/internal/service/discount"
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

	store := cache.NewRedisStore(cfg.Redis)
	defer store.Close()

	producer, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL,
		cfg.RabbitMQ.DiscountResultQueue, cfg.RabbitMQ.DiscountProgressQueue)
	if err != nil {
		log.Fatalf("connect rabbitmq publisher: %v", err)
	}
	defer producer.Close()

	discountService, err := discount.NewDiscountService(
		store,
		producer,
		cfg.RabbitMQ.DiscountResultQueue,
		cfg.RabbitMQ.DiscountProgressQueue,
		cfg.Discount,
	)
	if err != nil {
		log.Fatalf("build discount service: %v", err)
	}

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.BookingCreatedQueue)
	if err != nil {
		log.Fatalf("connect rabbitmq consumer: %v", err)
	}
	defer consumer.Close()

	go func() {
		if err := consumer.Consume(ctx, discountService.BookingCreatedHandler()); err != nil {
			log.Printf("booking_created consumer stopped: %v", err)
		}
	}()

	cleanup := time.NewTicker(time.Duration(cfg.Worker.QuotaCleanupHours) * time.Hour)
	defer cleanup.Stop()

	log.Println("Discount worker is listening for events...")

	for {
		select {
		case <-cleanup.C:
			deleted, err := discountService.CleanupQuota(ctx)
			if err != nil {
				log.Printf("quota cleanup error: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("deleted %d stale quota keys", deleted)
			}
		case <-ctx.Done():
			log.Println("shutting down")
			return
		}
	}
}
