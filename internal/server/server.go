package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/realtimebid/auctionserver/config"
	"github.com/realtimebid/auctionserver/internal/admission"
	"github.com/realtimebid/auctionserver/internal/cache"
	"github.com/realtimebid/auctionserver/internal/db"
	"github.com/realtimebid/auctionserver/internal/gateway"
	"github.com/realtimebid/auctionserver/internal/handlers"
	"github.com/realtimebid/auctionserver/internal/logging"
	"github.com/realtimebid/auctionserver/internal/mq"
	"github.com/realtimebid/auctionserver/internal/processor"
	"github.com/realtimebid/auctionserver/internal/services"
	"github.com/realtimebid/auctionserver/internal/storage"
	"github.com/realtimebid/auctionserver/internal/store"
)

// Server wraps the HTTP server, the Gateway's Hub, and the Bid
// Processor's consumer loop, with a single Start/Shutdown lifecycle.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux

	db         *sql.DB
	cacheClient *cache.Client
	queue      mq.Backend
	mqClient   *mq.MQ

	hub       *gateway.Hub
	processor *processor.Processor

	cancel context.CancelFunc
}

// New wires every component in dependency order (Store, Cache, Queue,
// then the Admission Controller, Processor and Gateway that depend on
// them) and returns a Server ready for Start.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("server: open store: %w", err)
	}

	cacheClient, err := cache.Open(ctx, cfg.Redis)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("server: open cache: %w", err)
	}

	queueBackend := openQueueBackend(ctx, cfg)
	mqClient := mq.New(queueBackend)

	mediaBackend, err := openMediaBackend(ctx, cfg.Media)
	if err != nil {
		logging.Warn("server: media backend unavailable", logging.Fields{"error": err.Error()})
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		jwtSecret = cfg.JWT.Secret
	}
	if jwtSecret == "" {
		_ = dbConn.Close()
		_ = cacheClient.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	userRepo := store.NewUserRepository(dbConn)
	auctionRepo := store.NewAuctionRepository(dbConn)
	bidRepo := store.NewBidRepository(dbConn)
	bidUnitOfWork := store.NewUnitOfWork(dbConn)

	userService := services.NewUserService(userRepo)
	auctionService := services.NewAuctionService(auctionRepo, bidRepo)

	var mediaService *services.MediaService
	if mediaBackend != nil {
		mediaService = services.NewMediaService(storage.NewStorage(mediaBackend))
	}

	admissionController := admission.New(cacheClient, cfg.Admission)

	bidProcessor := processor.New(auctionRepo, userRepo, bidUnitOfWork, cacheClient, cacheClient, cacheClient, mqClient)

	hub := gateway.NewHub(cacheClient, auctionService, mqClient, mq.QueueBidPlaced)
	authenticator := gateway.NewJWTAuthenticator(jwtSecret, userService)
	gatewayHandler := gateway.NewHandler(hub, admissionController, authenticator)

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Get("/readyz", handlers.Readyz(map[string]handlers.Prober{
		"store": dbProber{dbConn},
		"cache": cacheClient,
	}))
	router.Handle("/ws", gatewayHandler)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, jwtSecret)
	})
	router.Route("/bids", func(r chi.Router) {
		bidHandler := handlers.NewBidHandler(bidProcessor, userService)
		handlers.BidRouter(r, bidHandler, authMiddleware)
	})
	router.Route("/auctions", func(r chi.Router) {
		handlers.AuctionRouter(r, handlers.NewAuctionHandler(auctionService))
		if mediaService != nil {
			handlers.MediaRouter(r, handlers.NewMediaHandler(mediaService, userService), authMiddleware)
		}
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer:  httpServer,
		router:      router,
		db:          dbConn,
		cacheClient: cacheClient,
		queue:       queueBackend,
		mqClient:    mqClient,
		hub:         hub,
		processor:   bidProcessor,
	}, nil
}

// Router exposes the chi router for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start launches the Gateway's Hub subscriber, the Bid Processor's
// consumer loop, and the HTTP listener. It blocks until the HTTP
// server exits.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.hub.Start(ctx)

	go func() {
		if err := s.mqClient.Subscribe(ctx, mq.QueueBidPlaced, s.processor.HandleBidPlaced); err != nil && ctx.Err() == nil {
			logging.Error("server: bid-placed consumer stopped", logging.Fields{"error": err.Error()})
		}
	}()

	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown of every owned resource.
func (s *Server) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.cacheClient != nil {
		_ = s.cacheClient.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}

// openQueueBackend connects to the configured broker. If the broker is
// unreachable at startup, it falls back to a disabled backend per
// spec.md §4.3's degradation policy instead of failing process startup.
func openQueueBackend(ctx context.Context, cfg config.Config) mq.Backend {
	switch cfg.QueueName {
	case config.QueueBackendPubSub:
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			logging.Warn("server: pubsub unreachable at startup, queue disabled", logging.Fields{"error": err.Error()})
			return mq.NewDisabledBackend(err.Error())
		}
		return client
	default:
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			logging.Warn("server: rabbitmq unreachable at startup, queue disabled", logging.Fields{"error": err.Error()})
			return mq.NewDisabledBackend(err.Error())
		}
		return client
	}
}

func openMediaBackend(ctx context.Context, cfg config.MediaConfig) (storage.ObjectStorage, error) {
	var backend storage.ObjectStorage
	var err error
	switch cfg.Backend {
	case "gcs":
		backend, err = storage.NewGCSClient(ctx, cfg.GCS)
	default:
		backend, err = storage.NewMinioClient(cfg.Minio)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return backend, nil
}

type dbProber struct{ db *sql.DB }

func (p dbProber) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
