package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-gateway/internal/config"
	"chat-gateway/internal/handlers"
	"chat-gateway/internal/middleware"
	"chat-gateway/internal/repository"
	"chat-gateway/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Server holds the wired services behind the router
type Server struct {
	Config      *config.Config
	Sessions    *services.SessionRegistry
	Conns       *services.ConnectionManager
	Gate        *services.FriendshipGate
	Filter      *services.ModerationFilter
	Store       *services.MessageStore
	Broadcaster *services.Broadcaster
	Users       *services.UserService
	Admin       *services.AdminService
	Files       *services.FileService
}

func Run() {
	ctx := context.Background()

	cfg, db, err := bootstrap(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	friendRepo := repository.NewFriendshipRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	flaggedRepo := repository.NewFlaggedRepository(db)
	wordRepo := repository.NewCriticalWordRepository(db)
	fileRepo := repository.NewFileRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	// Initialize services
	conns := services.NewConnectionManager()
	sessions := services.NewSessionRegistry(sessionRepo, userRepo, conns, cfg.Gateway.SessionTTL)
	gate := services.NewFriendshipGate(friendRepo, userRepo)
	filter := services.NewModerationFilter(wordRepo)
	if err := filter.Seed(ctx, cfg.Moderation.SeedWords); err != nil {
		log.Fatal().Err(err).Msg("Failed to load critical words")
	}
	store := services.NewMessageStore(messageRepo, cfg.Gateway.MaxMessageLength, cfg.Gateway.HistoryLimit)
	broadcaster := services.NewBroadcaster(conns, gate, filter, store)

	if cfg.APNS.PushEnabled() {
		client, err := services.NewAPNSClient(services.APNSOptions{
			KeyFile:    cfg.APNS.KeyFile,
			KeyID:      cfg.APNS.KeyID,
			TeamID:     cfg.APNS.TeamID,
			Topic:      cfg.APNS.Topic,
			Production: cfg.APNS.Production,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create APNs client")
		}
		broadcaster.WithNotifier(services.NewPushService(userRepo, client, cfg.APNS.Topic))
		log.Info().Bool("production", cfg.APNS.Production).Msg("Push notifications enabled")
	}

	var fileService *services.FileService
	if cfg.AWS.FilesEnabled() {
		objects, err := services.NewS3Store(ctx, services.S3Options{
			Region:    cfg.AWS.Region,
			Bucket:    cfg.AWS.S3Bucket,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
			Endpoint:  cfg.AWS.Endpoint,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		fileService = services.NewFileService(fileRepo, gate, objects, cfg.Files.TTL, cfg.Files.MaxSize, cfg.Files.URLExpiry)
		broadcaster.WithFileVerifier(fileService)
	}

	srv := &Server{
		Config:      cfg,
		Sessions:    sessions,
		Conns:       conns,
		Gate:        gate,
		Filter:      filter,
		Store:       store,
		Broadcaster: broadcaster,
		Users:       services.NewUserService(userRepo, sessions, cfg.Gateway.TrialPeriod),
		Admin: services.NewAdminService(
			adminRepo, userRepo, flaggedRepo, store, sessions, filter,
			cfg.JWT.Secret, cfg.JWT.TTL,
		),
		Files: fileService,
	}

	// Background jobs
	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	go services.RunEvery(jobCtx, cfg.Gateway.SessionSweep, "session_purge", sessions.PurgeExpired)
	go services.RunEvery(jobCtx, cfg.Moderation.RefreshInterval, "critical_word_refresh", filter.Reload)
	if fileService != nil {
		go services.RunEvery(jobCtx, cfg.Files.SweepPeriod, "file_sweep", fileService.SweepExpired)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopJobs()

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server
	closed := conns.CloseAll(services.CloseGoingAway, "Server shutting down")
	log.Info().Int("connections", closed).Msg("WebSocket connections closed")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	userHandler := handlers.NewUserHandler(s.Users)
	friendHandler := handlers.NewFriendHandler(s.Gate)
	messageHandler := handlers.NewMessageHandler(s.Gate, s.Store)
	adminHandler := handlers.NewAdminHandler(s.Admin)
	wsHandler := handlers.NewWebSocketHandler(
		s.Sessions, s.Conns, s.Broadcaster,
		s.Config.Server.AllowedOrigins, s.Config.Gateway.SendBuffer,
	)

	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	if s.Config.Server.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	limits := s.Config.RateLimit
	authLimit := middleware.RateLimit(limits.AuthRequests, limits.AuthWindow)
	adminLoginLimit := middleware.RateLimit(limits.AuthRequests, limits.AuthWindow)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(limits.APIRequests, limits.APIWindow))

		// Public routes
		r.Get("/health", handlers.Health)
		r.With(authLimit).Post("/users", userHandler.Register)
		r.With(authLimit).Post("/sessions", userHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(s.Sessions))
			r.Delete("/sessions", userHandler.Logout)
			r.Get("/users/me", userHandler.Me)
			r.Put("/users/push-token", userHandler.UpdatePushToken)
			r.Get("/friends", friendHandler.ListFriends)
			r.Post("/friends", friendHandler.AddFriend)
			r.Delete("/friends/{friend_id}", friendHandler.RemoveFriend)
			r.Get("/messages/{contact_id}", messageHandler.History)

			if s.Files != nil {
				fileHandler := handlers.NewFileHandler(s.Files)
				r.Post("/files/upload", fileHandler.Upload)
				r.Get("/files/{file_id}", fileHandler.Download)
			}
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.IPAllowlist(s.Config.Admin.AllowedIPs))
			r.With(adminLoginLimit).Post("/login", adminHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminMiddleware(s.Admin))
				r.Get("/flagged", adminHandler.ListFlagged)
				r.Post("/flagged/{flag_id}/review", adminHandler.MarkReviewed)
				r.Post("/users/block", adminHandler.BlockUsers)
				r.Post("/users/{user_id}/block", adminHandler.BlockUser)
				r.Post("/users/{user_id}/unblock", adminHandler.UnblockUser)
				r.Post("/users/{user_id}/subscription", adminHandler.ExtendSubscription)
				r.Delete("/users/{user_id}/subscription", adminHandler.RevokeSubscription)
				r.Get("/conversations/{user_a}/{user_b}", adminHandler.Conversation)
				r.Put("/messages/{message_id}", adminHandler.EditMessage)
				r.Get("/critical-words", adminHandler.ListWords)
				r.Post("/critical-words", adminHandler.AddWord)
				r.Delete("/critical-words/{word_id}", adminHandler.DeleteWord)
				r.Get("/stats", adminHandler.Stats)
			})
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	return r
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
