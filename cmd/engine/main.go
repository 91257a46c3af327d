package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/entropy-scorer/internal/api"
	"github.com/rawblock/entropy-scorer/internal/config"
	"github.com/rawblock/entropy-scorer/internal/db"
	"github.com/rawblock/entropy-scorer/internal/hilite"
	"github.com/rawblock/entropy-scorer/internal/logging"
	"github.com/rawblock/entropy-scorer/internal/node"
)

func main() {
	cfg, err := config.Load(os.Getenv("ENTROPY_CONFIG"))
	if err != nil {
		// logging is not up yet
		os.Stderr.WriteString("FATAL: " + err.Error() + "\n")
		os.Exit(1)
	}
	if _, err := logging.Init(cfg.LogLevel); err != nil {
		os.Stderr.WriteString("FATAL: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logging.Sync()
	log := logging.L()

	log.Infof("Starting Entropy Scorer (reference=%q clustering=%q)...",
		cfg.Node.ReferenceColumn, cfg.Node.ClusteringColumn)

	// ─── Optional run archive ───────────────────────────────────────────
	// Without DATABASE_URL the engine runs file-only; the /runs endpoints
	// then answer 503.
	// ────────────────────────────────────────────────────────────────────
	var store *db.PostgresStore
	if cfg.Database.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err = db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			log.Warnf("Failed to connect to PostgreSQL, continuing without the run archive. Error: %v", err)
			store = nil
		} else {
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				log.Warnf("DB schema init failed: %v", err)
			}
		}
		cancel()
	}

	left, err := hilite.ParseUniverse(cfg.Selection.Left)
	if err != nil {
		log.Fatalf("selection.left: %v", err)
	}
	right, err := hilite.ParseUniverse(cfg.Selection.Right)
	if err != nil {
		log.Fatalf("selection.right: %v", err)
	}
	translator := hilite.NewTranslator(left, right)
	scorer := node.New(cfg.Node, translator)

	// Setup WebSocket Hub and relay translated selections to it
	wsHub := api.NewHub()
	go wsHub.Run()
	defer api.BroadcastSelections(translator, wsHub)()

	limiter := api.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	defer limiter.Close()

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	r := api.SetupRouter(cfg, scorer, store, wsHub, limiter)

	log.Infof("Engine running on :%s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
