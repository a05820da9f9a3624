package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bouclier/residence-access/internal/audit"
	"github.com/bouclier/residence-access/internal/database"
	"github.com/bouclier/residence-access/internal/domain"
	"github.com/bouclier/residence-access/internal/http/handlers"
	imw "github.com/bouclier/residence-access/internal/http/middleware"
	"github.com/bouclier/residence-access/internal/platform/mailer"
	"github.com/bouclier/residence-access/internal/repo/mongodb"
	"github.com/bouclier/residence-access/internal/sweep"
	"github.com/bouclier/residence-access/pkg/config"
	"github.com/bouclier/residence-access/pkg/events"
	"github.com/bouclier/residence-access/pkg/logger"
	pmw "github.com/bouclier/residence-access/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment")
	}

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
	db, err := database.Connect(ctx, cfg.Mongo)
	cancel()
	if err != nil {
		logger.Error("failed to connect to mongodb", "error", err)
		os.Exit(1)
	}
	defer db.Client().Disconnect(context.Background())

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	err = database.EnsureIndexes(ctx, db)
	cancel()
	if err != nil {
		logger.Error("failed to ensure indexes", "error", err)
		os.Exit(1)
	}

	redisClient := newRedisClient(cfg.Redis)
	defer redisClient.Close()

	var bus events.Publisher
	natsBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Warn("event bus unavailable, events disabled", "error", err)
		bus = events.NoopPublisher{}
	} else {
		bus = natsBus
		if err := audit.Register(natsBus); err != nil {
			logger.Warn("failed to register gate audit log", "error", err)
		}
	}
	defer bus.Close()

	users := mongodb.NewUsersRepo(db)
	otps := mongodb.NewOtpRepo(db)
	visitors := mongodb.NewVisitorsRepo(db)

	authHandler := handlers.NewAuthHandler(users, otps, newMailer(cfg.Email), bus, cfg)
	visitorHandler := handlers.NewVisitorHandler(visitors, bus)

	otpLimiter := imw.NewRateLimiter(redisClient, "otp_send", imw.RateLimitConfig{
		Requests: cfg.Auth.OtpSendLimit,
		Window:   cfg.Auth.OtpSendWindow,
		KeyFunc:  imw.OtpSendKeyFunc,
	})

	r := chi.NewRouter()
	r.Use(pmw.RequestID)
	r.Use(pmw.Logging)
	r.Use(pmw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkEmail", authHandler.CheckEmail)
		r.With(otpLimiter.Middleware()).Post("/sendOtp", authHandler.SendOtp)
		r.Post("/verifyOtp", authHandler.VerifyOtp)
		r.Post("/setPassword", authHandler.SetPassword)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh-token", authHandler.RefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(imw.RequireAuth(cfg.Auth.JWTSecret))

			r.Post("/update-profile", authHandler.UpdateProfile)
			r.Get("/user/me", authHandler.Me)
			r.Post("/user/building", authHandler.AssignResidence)

			// Preview never consumes the pass, so any authenticated caller
			// (the issuing resident included) may look one up.
			r.Get("/visitors/{accessID}", visitorHandler.GetByAccessID)
		})

		r.Group(func(r chi.Router) {
			r.Use(imw.RequireAuth(cfg.Auth.JWTSecret))
			r.Use(imw.RequireRole(users, domain.RoleResident, domain.RoleAdmin))

			r.Post("/visitors/group", visitorHandler.CreateGroup)
			r.Get("/visitors", visitorHandler.List)
			r.Get("/visitors/group/{groupID}", visitorHandler.GetGroup)
		})

		r.Group(func(r chi.Router) {
			r.Use(imw.RequireAuth(cfg.Auth.JWTSecret))
			r.Use(imw.RequireRole(users, domain.RoleSecurity, domain.RoleAdmin))

			r.Post("/visitors/{accessID}/redeem", visitorHandler.Redeem)
		})

		r.Group(func(r chi.Router) {
			r.Use(imw.RequireAuth(cfg.Auth.JWTSecret))
			r.Use(imw.RequireRole(users, domain.RoleSecurity, domain.RoleAdmin))

			r.Post("/cleanup/visitors", visitorHandler.Cleanup)
		})
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweep.New(visitors, otps, bus, 5*time.Minute).Run(sweepCtx)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}

	logger.Info("server stopped")
}

func newRedisClient(cfg config.Redis) *redis.Client {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		logger.Warn("invalid redis url, using defaults", "error", err)
		opt = &redis.Options{Addr: "localhost:6379"}
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	return redis.NewClient(opt)
}

func newMailer(cfg config.Email) mailer.Service {
	switch {
	case cfg.DevMode:
		return mailer.NewDevMailer()
	case cfg.MailerSendKey != "":
		return mailer.NewMailer(cfg.MailerSendKey, cfg.FromName, cfg.SMTPFrom)
	default:
		return mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}
