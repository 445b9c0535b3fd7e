package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-marketplace/internal/domain/cart"
	"github.com/xenking/kart-marketplace/internal/domain/checkout"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/outbox"
	"github.com/xenking/kart-marketplace/internal/domain/pricing"
	"github.com/xenking/kart-marketplace/internal/domain/report"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
	"github.com/xenking/kart-marketplace/internal/handler"
	"github.com/xenking/kart-marketplace/internal/messaging/kafka"
	"github.com/xenking/kart-marketplace/internal/storage/cartcache"
	"github.com/xenking/kart-marketplace/pkg/health"
	"github.com/xenking/kart-marketplace/pkg/httpmiddleware"
)

const serviceName = "market-api"

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage))

	b, err := openBackend(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	pepper := []byte(cfg.APIKeyPepper)
	if cfg.BootstrapAdminKey != "" {
		if err := b.bootstrapAdmin(ctx, pepper, cfg.BootstrapAdminKey); err != nil {
			return errors.Wrap(err, "bootstrap admin key")
		}
		lg.Info("Bootstrap admin key registered")
	}

	// Health check service.
	healthSvc := health.New()
	if b.ping != nil {
		healthSvc.Add(health.Check{Name: "postgres", Kind: health.Readiness, Run: b.ping})
	}
	healthSvc.Add(health.Check{Name: "outbox", Kind: health.Readiness, Run: health.MaxAge(b.outboxLag(time.Now), cfg.Outbox.MaxLag)})
	healthSvc.Add(health.Check{Name: "goroutines", Kind: health.Liveness, Timeout: time.Second, Run: health.MaxGoroutines(10000)})
	healthSvc.Start(ctx, 10*time.Second)

	// Cart reads go through Redis when configured. Writers use the
	// invalidating repository so a cached cart never outlives a change.
	carts := b.carts
	var cartOpts []cart.Option
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		cache := cartcache.New(rdb, b.carts, cfg.Redis.CartTTL)
		carts = cache.Repository()
		cartOpts = append(cartOpts, cart.WithReader(cache))
		lg.Info("Cart cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.CartTTL))
	}

	// Outbox relay.
	relayLg := lg.Named("outbox")
	var publisher outbox.Publisher = outbox.NewLogPublisher(relayLg)
	workerOpts := []outbox.WorkerOption{
		outbox.WithLogger(relayLg),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithClaimLease(cfg.Outbox.ClaimLease),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return errors.Wrap(err, "create kafka producer")
		}
		defer func() {
			if err := producer.Close(); err != nil {
				lg.Error("Close kafka producer", zap.Error(err))
			}
		}()
		publisher = kafka.NewPublisher(producer, cfg.Kafka.Topic)
		workerOpts = append(workerOpts, outbox.WithDLQ(kafka.NewPublisher(producer, cfg.Kafka.DLQTopic)))
		lg.Info("Publishing events to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	worker := outbox.NewWorker(b.outbox, publisher, workerOpts...)

	// Domain services.
	taxRate, err := cfg.Tax()
	if err != nil {
		return err
	}
	engine, err := checkout.NewEngine(checkout.Deps{
		Carts:     carts,
		Addresses: b.addresses,
		Coupons:   b.coupons,
		Catalog:   b.catalog,
		Stock:     b.stock,
		Orders:    b.orders,
		Outbox:    b.outbox,
		Tx:        b.tx,
	}, pricing.NewCalculator(taxRate),
		checkout.WithTimeout(cfg.CheckoutTimeout),
		checkout.WithTracerProvider(m.TracerProvider()),
		checkout.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout engine")
	}

	// HTTP handlers.
	h := handler.NewHandler(handler.Deps{
		Carts:     cart.NewService(carts, b.catalog, b.tx, cartOpts...),
		Checkout:  engine,
		Orders:    order.NewManager(b.orders, b.outbox, b.tx),
		Reports:   report.NewAggregator(b.orders, b.tx),
		Stock:     stock.NewService(b.stock, b.tx, nil),
		Products:  b.catalog,
		Inventory: b.stock,
	})
	securityHandler := handler.NewSecurityHandler(b.apikeys, pepper)

	// Router: health endpoints + API routes on one server. Route-aware
	// middlewares run inside chi to see the matched pattern.
	router := chi.NewRouter()
	router.Use(httpmiddleware.RouteLabeler(), httpmiddleware.LogRequests())
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.Mount(router, h, securityHandler)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.CheckoutTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(outbox.WithCorrelationID),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:     cfg.CORS.Origins,
				Credentials: cfg.CORS.AllowCredentials,
				MaxAge:      24 * time.Hour,
				Headers:     []string{handler.APIKeyHeader},
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.KeyByHeader(handler.APIKeyHeader),
			}),
			httpmiddleware.Instrument(serviceName, m),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
