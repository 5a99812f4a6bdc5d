package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"bloomcore/internal/checkout"
	"bloomcore/internal/domain"
	"bloomcore/internal/handler"
	"bloomcore/internal/inventory"
	"bloomcore/internal/ledger"
	"bloomcore/internal/middleware"
	"bloomcore/internal/network"
	"bloomcore/internal/notification"
	"bloomcore/pkg/cache"
	"bloomcore/pkg/config"
	"bloomcore/pkg/logger"
	"bloomcore/pkg/validator"
)

func domainCurrency(code string) domain.Currency {
	return domain.Currency(code)
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("bloomcore")
	val := validator.New()

	// Engines are constructed once and passed by handle; no hidden globals.
	allocator := inventory.NewAllocator(cfg.Inventory.ReservationTTL, log)
	ledgerService := ledger.NewService(domainCurrency(cfg.Ledger.Currency), cfg.Ledger.TaxRate, log)
	networkService := network.NewService(log)
	notifier := notification.NewService(log)
	checkoutService := checkout.NewService(allocator, ledgerService, networkService, notifier, log)

	checkoutHandler := handler.NewCheckoutHandler(checkoutService, val, log)
	inventoryHandler := handler.NewInventoryHandler(allocator, val, log)
	ledgerHandler := handler.NewLedgerHandler(ledgerService, log)
	networkHandler := handler.NewNetworkHandler(networkService, val, log)

	r := mux.NewRouter()

	// Global middleware
	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)

	r.HandleFunc("/health", handler.Health).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Checkout flow; guarded by redis-backed idempotency when configured.
	checkoutRoute := api.PathPrefix("/checkout").Subrouter()
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to redis", map[string]interface{}{
				"error": err.Error(),
				"url":   cfg.Redis.URL,
			})
		}
		defer redisCache.Close()

		limiter := middleware.NewRateLimiter(redisCache.Client(), cfg.RateLimit.Requests, cfg.RateLimit.Window, log)
		checkoutRoute.Use(limiter.Limit)

		idem := middleware.NewIdempotencyMiddleware(redisCache.Client(), cfg.Inventory.ReservationTTL, log)
		checkoutRoute.Use(idem.Require)
		log.Info("Idempotency and rate limit guards enabled", map[string]interface{}{"redis": cfg.Redis.URL})
	} else {
		log.Warn("REDIS_URL not set; checkout idempotency guard disabled", nil)
	}
	checkoutRoute.HandleFunc("", checkoutHandler.Checkout).Methods("POST")

	// Read-only reporting surfaces.
	api.HandleFunc("/inventory/{productId}/stock", inventoryHandler.GetStock).Methods("GET")
	api.HandleFunc("/inventory/{productId}/health", inventoryHandler.GetHealthIndex).Methods("GET")
	api.HandleFunc("/inventory/{productId}/batches", inventoryHandler.GetBatches).Methods("GET")
	api.HandleFunc("/ledger/history", ledgerHandler.GetHistory).Methods("GET")
	api.HandleFunc("/ledger/balance", ledgerHandler.GetAuditBalance).Methods("GET")
	api.HandleFunc("/network/{resellerId}/stats", networkHandler.GetStats).Methods("GET")

	// Admin mutations behind the JWT gate.
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.NewAdminAuth(cfg.Admin.JWTSecret).Require)
	admin.HandleFunc("/inventory/batches", inventoryHandler.AddBatch).Methods("POST")
	admin.HandleFunc("/inventory/{productId}/batches/{batchId}/write-off", inventoryHandler.WriteOffBatch).Methods("POST")
	admin.HandleFunc("/network/resellers", networkHandler.Enroll).Methods("POST")
	admin.HandleFunc("/network/{resellerId}/recalculate", networkHandler.Recalculate).Methods("POST")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("bloomcore started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Stopped gracefully", nil)
}
