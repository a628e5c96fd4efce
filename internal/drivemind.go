package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drivemind-app/drivemind/internal/config"
	"github.com/drivemind-app/drivemind/internal/crypto"
	"github.com/drivemind-app/drivemind/internal/drive"
	"github.com/drivemind-app/drivemind/internal/log"
	"github.com/drivemind-app/drivemind/internal/oauth"
	"github.com/drivemind-app/drivemind/internal/proposal"
	"github.com/drivemind-app/drivemind/internal/ratelimit"
	"github.com/drivemind-app/drivemind/internal/server"
	"github.com/drivemind-app/drivemind/internal/session"
	"github.com/drivemind-app/drivemind/internal/storage"
)

const stateCleanupInterval = time.Minute

// DriveMind represents the complete application
type DriveMind struct {
	config     config.Config
	httpServer *server.HTTPServer
	cleanup    *storage.CleanupManager
	store      storage.Store
}

// NewDriveMind creates the application with all dependencies built
func NewDriveMind(ctx context.Context, cfg config.Config) (*DriveMind, error) {
	log.LogInfoWithFields("drivemind", "Building application", map[string]any{
		"baseURL": cfg.Server.BaseURL,
		"storage": cfg.Server.Auth.Storage,
	})

	baseURL, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	authConfig := *cfg.Server.Auth

	flow, err := oauth.NewFlow(authConfig, store)
	if err != nil {
		return nil, fmt.Errorf("failed to setup OAuth flow: %w", err)
	}

	sessions := session.NewMaterializer(store, authConfig.AccessCookieTTL, authConfig.RefreshCookieTTL)
	crawler := drive.NewGoogleCrawler(authConfig, store)
	proposer := proposal.NewRuleBased()

	requestsPerMinute := config.DefaultRequestsPerMin
	if cfg.Server.RateLimit != nil && cfg.Server.RateLimit.RequestsPerMinute > 0 {
		requestsPerMinute = cfg.Server.RateLimit.RequestsPerMinute
	}
	limiter := ratelimit.NewLimiter(requestsPerMinute)

	mux := buildHTTPHandler(cfg, store, flow, sessions, crawler, proposer, limiter, baseURL.String())
	httpServer := server.NewHTTPServer(mux, cfg.Server.Addr)

	cleanup := storage.NewCleanupManager(store, stateCleanupInterval)
	cleanup.AddTask("ratelimit", limiter.Cleanup)

	return &DriveMind{
		config:     cfg,
		httpServer: httpServer,
		cleanup:    cleanup,
		store:      store,
	}, nil
}

// Run starts the application and blocks until shutdown
func (d *DriveMind) Run() error {
	log.LogInfoWithFields("drivemind", "Starting application", map[string]any{
		"addr": d.config.Server.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		if err := d.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	d.cleanup.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("drivemind", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("drivemind", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	case <-ctx.Done():
		shutdownReason = "context cancelled"
	}

	log.LogInfoWithFields("drivemind", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	d.cleanup.Stop()

	if err := d.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("drivemind", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("drivemind", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

// setupStorage creates storage based on configuration
func setupStorage(ctx context.Context, cfg config.Config) (storage.Store, error) {
	authConfig := cfg.Server.Auth

	if authConfig.Storage == "firestore" {
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    authConfig.GCPProject,
			"database":   authConfig.FirestoreDatabase,
			"collection": authConfig.FirestoreCollection,
		})
		encryptor, err := crypto.NewEncryptor([]byte(authConfig.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		firestoreStore, err := storage.NewFirestoreStore(
			ctx,
			authConfig.GCPProject,
			authConfig.FirestoreDatabase,
			authConfig.FirestoreCollection,
			encryptor,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return firestoreStore, nil
	}

	log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
	return storage.NewMemoryStore(), nil
}

// buildHTTPHandler creates the complete HTTP handler with all routing and middleware
func buildHTTPHandler(
	cfg config.Config,
	store storage.Store,
	flow *oauth.Flow,
	sessions *session.Materializer,
	crawler drive.Crawler,
	proposer proposal.Proposer,
	limiter *ratelimit.Limiter,
	baseURL string,
) http.Handler {
	mux := http.NewServeMux()

	corsMiddleware := server.NewCORSMiddleware(cfg.Server.AllowedOrigins)
	securityHeaders := server.NewSecurityHeadersMiddleware()
	authLogger := server.NewLoggerMiddleware("auth")
	driveLogger := server.NewLoggerMiddleware("drive")
	adminLogger := server.NewLoggerMiddleware("admin")
	authRecover := server.NewRecoverMiddleware("auth")
	driveRecover := server.NewRecoverMiddleware("drive")
	rateLimiter := server.NewRateLimitMiddleware(limiter)

	mux.Handle("/health", server.NewHealthHandler())

	authHandlers := server.NewAuthHandlers(flow, sessions, store, baseURL, cfg.Server.Auth.StateTTL)

	// Begin is rate limited; the callback is not, Google controls how
	// often it redirects back.
	beginMiddleware := []server.MiddlewareFunc{
		securityHeaders,
		corsMiddleware,
		rateLimiter,
		authLogger,
		authRecover,
	}
	authMiddleware := []server.MiddlewareFunc{
		securityHeaders,
		corsMiddleware,
		authLogger,
		authRecover,
	}

	mux.Handle("/api/auth/drive/begin", server.ChainMiddleware(http.HandlerFunc(authHandlers.BeginHandler), beginMiddleware...))
	mux.Handle("/api/auth/drive/callback", server.ChainMiddleware(http.HandlerFunc(authHandlers.CallbackHandler), authMiddleware...))
	mux.Handle("/api/auth/drive/status", server.ChainMiddleware(http.HandlerFunc(authHandlers.StatusHandler), authMiddleware...))
	mux.Handle("/api/auth/drive/disconnect", server.ChainMiddleware(http.HandlerFunc(authHandlers.DisconnectHandler), authMiddleware...))

	driveHandlers := server.NewDriveHandlers(crawler, proposer)
	driveMiddleware := []server.MiddlewareFunc{
		securityHeaders,
		corsMiddleware,
		driveLogger,
		driveRecover,
	}
	mux.Handle("/api/drive/scan", server.ChainMiddleware(http.HandlerFunc(driveHandlers.ScanHandler), driveMiddleware...))
	mux.Handle("/api/drive/proposals", server.ChainMiddleware(http.HandlerFunc(driveHandlers.ProposalsHandler), driveMiddleware...))

	if cfg.Server.Admin != nil && cfg.Server.Admin.Enabled {
		log.LogInfoWithFields("server", "Admin endpoints enabled", nil)

		adminHandlers := server.NewAdminHandlers(store)
		adminMiddleware := []server.MiddlewareFunc{
			securityHeaders,
			adminLogger,
			server.NewAdminAuthMiddleware(*cfg.Server.Admin),
			authRecover,
		}
		mux.Handle("/api/admin/users", server.ChainMiddleware(http.HandlerFunc(adminHandlers.UsersHandler), adminMiddleware...))
	}

	log.LogInfoWithFields("server", "HTTP handler initialized", nil)
	return mux
}
