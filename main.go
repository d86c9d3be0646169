package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/harborview/mailsync/internal/auth"
	"github.com/harborview/mailsync/internal/config"
	"github.com/harborview/mailsync/internal/logging"
	natsjs "github.com/harborview/mailsync/internal/nats"
	"github.com/harborview/mailsync/internal/providers/drive"
	"github.com/harborview/mailsync/internal/providers/gmail"
	"github.com/harborview/mailsync/internal/store"
	"github.com/harborview/mailsync/internal/sync"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	if dir := filepath.Dir(cfg.DB.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("creating data directory", zap.Error(err))
		}
	}

	db, err := store.Open(cfg.DB.Path)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}
	defer db.Close()

	credentials := auth.NewCredentialClient(cfg.Auth.CredentialURL, cfg.Auth.ServiceToken)

	runner := &sync.Runner{
		Store:       db,
		Credentials: credentials,
		NewSource: func(ctx context.Context, tok *auth.Token) (sync.Source, error) {
			return gmail.New(ctx, tok, cfg.Sync.CallTimeout)
		},
		NewBlobStore: func(ctx context.Context, tok *auth.Token) (sync.BlobStore, error) {
			return drive.New(ctx, tok, cfg.Sync.CallTimeout)
		},
		Log: logger,
		Opts: sync.Options{
			Label:            cfg.Sync.Label,
			Window:           syncWindow(cfg.Sync.WindowDays),
			MaxListResults:   cfg.Sync.MaxListResults,
			PageSize:         int64(cfg.Sync.PageSize),
			BatchSize:        cfg.Sync.BatchSize,
			FetchConcurrency: cfg.Sync.FetchConcurrency,
			CallTimeout:      cfg.Sync.CallTimeout,
			AttachmentFolder: cfg.Sync.AttachmentFolder,
			MarkRead:         cfg.Sync.MarkRead,
			HoldOnPartial:    !cfg.Sync.AdvanceOnPartial,
		},
	}
	manager := sync.NewManager(runner, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NATS.URL != "" {
		publisher, err := natsjs.NewPublisher(cfg.NATS.URL)
		if err != nil {
			logger.Fatal("connecting to NATS", zap.Error(err))
		}
		defer publisher.Close()

		if err := publisher.EnsureStream(); err != nil {
			logger.Fatal("ensuring NATS stream", zap.Error(err))
		}

		dispatcher := &sync.Dispatcher{Store: db, Publisher: publisher, Log: logger}
		go dispatcher.Run(ctx)
	} else {
		logger.Warn("NATS disabled, synced-message events stay queued in the outbox")
	}

	r := gin.Default()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/")
	if cfg.Auth.JWKSURL != "" {
		verifier, err := auth.NewJWTVerifier(cfg.Auth.JWKSURL)
		if err != nil {
			logger.Fatal("initializing JWT verifier", zap.Error(err))
		}
		api.Use(jwtMiddleware(verifier))
	} else {
		logger.Warn("JWKS URL not configured, trigger surface is unauthenticated")
	}

	registerRoutes(api, db, manager)

	logger.Info("starting mailsync", zap.String("addr", cfg.Server.Addr))
	if err := r.Run(cfg.Server.Addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func syncWindow(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

type PrincipalRequest struct {
	ID    string `json:"id" binding:"required"`
	Email string `json:"email"`
}

func registerRoutes(g *gin.RouterGroup, db *store.Store, manager *sync.Manager) {
	// Register a principal. The credential supplier must already hold a
	// token for it before the first sync.
	g.POST("/principals", func(c *gin.Context) {
		var req PrincipalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := db.UpsertPrincipal(c.Request.Context(), req.ID, req.Email); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": req.ID})
	})

	// Run one synchronous sync. Returns only after the run finishes.
	g.POST("/sync/:principal", func(c *gin.Context) {
		summary, err := manager.RunSync(c.Request.Context(), c.Param("principal"))
		if err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, sync.ErrAlreadyRunning):
				status = http.StatusConflict
			case errors.Is(err, store.ErrNotFound):
				status = http.StatusNotFound
			case sync.IsCredentialError(err):
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{
				"error":           err.Error(),
				"reauth_required": sync.IsCredentialError(err),
			})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	// Run all registered principals in parallel.
	g.POST("/sync", func(c *gin.Context) {
		results, err := manager.RunSyncAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	// Latest run record and checkpoint for one principal.
	g.GET("/principals/:principal/status", func(c *gin.Context) {
		ctx := c.Request.Context()
		principalID := c.Param("principal")

		checkpoint, ok, err := db.Checkpoint(ctx, principalID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		resp := gin.H{
			"principal_id": principalID,
			"running":      manager.IsRunning(principalID),
		}
		if ok {
			resp["checkpoint"] = checkpoint.Unix()
		}

		if run, err := db.LatestSyncRun(ctx, principalID); err == nil {
			resp["last_run"] = run
		}

		c.JSON(http.StatusOK, resp)
	})
}

func jwtMiddleware(verifier *auth.JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := verifier.CallerFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("caller_id", caller.ID)
		c.Next()
	}
}
