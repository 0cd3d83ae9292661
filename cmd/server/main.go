package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/paypass/wash-service/internal/api"
	"github.com/paypass/wash-service/internal/config"
	"github.com/paypass/wash-service/internal/gateway"
	"github.com/paypass/wash-service/internal/handler"
	"github.com/paypass/wash-service/internal/infrastructure/kafka"
	"github.com/paypass/wash-service/internal/infrastructure/redis"
	"github.com/paypass/wash-service/internal/observability"
	core "github.com/paypass/wash-service/internal/repository/postgres"
	service "github.com/paypass/wash-service/internal/services"
)

func main() {
	shutdown, _ := observability.Setup("wash-service")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	packageRepo := core.NewPostgresPackageRepository(db)
	paymentRepo := core.NewPostgresPaymentRepository(db)
	userPackageRepo := core.NewPostgresUserPackageRepository(db)
	washRepo := core.NewPostgresWashRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	gatewayClient := gateway.NewClient(
		cfg.GatewayBaseURL,
		cfg.GatewayAccessToken,
		cfg.GatewayEntityCard,
		cfg.GatewayEntityApplePay,
		cfg.GatewayCurrency,
		cfg.GatewayTimeout,
	)

	paymentSvc := service.NewPaymentService(
		packageRepo, paymentRepo, userPackageRepo,
		gatewayClient, redisClient, producer,
		cfg.MinAmount, cfg.MaxAmount, cfg.GatewayCurrency,
	)
	redemptionSvc := service.NewRedemptionService(userPackageRepo, washRepo, redisClient, producer)

	statsConsumer := kafka.NewStatsConsumer(cfg.KafkaBrokers, "washes", "wash-service-stats", redisClient)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go statsConsumer.Consume(consumerCtx)
	defer statsConsumer.Close()
	defer stopConsumer()

	h := handler.NewHandler(paymentSvc, redemptionSvc)
	router := api.SetupRouter(h, cfg.JWTSecret)

	server := &http.Server{
		Addr:    ":8080",
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on :8080")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
