// Package signet wires the signing service: storage, signer, audit, and the
// orchestrator behind the platform entrypoint helpers.
package signet

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/signethq/signet/internal/audit"
	"github.com/signethq/signet/internal/objectstore"
	platformcmd "github.com/signethq/signet/internal/platform/cmd"
	"github.com/signethq/signet/internal/ratelimit"
	"github.com/signethq/signet/internal/requests"
	"github.com/signethq/signet/internal/sharelink"
	"github.com/signethq/signet/internal/signer"
	"github.com/signethq/signet/internal/signing"
	"github.com/signethq/signet/internal/storage/sqlite"
)

// Config holds signing service configuration. Environment values provide
// defaults; flags override.
type Config struct {
	DBPath            string        `env:"SIGNET_DB_PATH" envDefault:"signet.db"`
	ObjectStoreURL    string        `env:"SIGNET_OBJECT_STORE_URL" envDefault:"https://objects.signet.local"`
	ObjectStoreKey    string        `env:"SIGNET_OBJECT_STORE_KEY"`
	SigningAlgorithm  string        `env:"SIGNET_SIGNING_ALGORITHM" envDefault:"ecdsa-p256-sha256"`
	AllowedAlgorithms []string      `env:"SIGNET_ALLOWED_ALGORITHMS" envSeparator:"," envDefault:"ecdsa-p256-sha256,ed25519"`
	PruneInterval     time.Duration `env:"SIGNET_LIMITER_PRUNE_INTERVAL" envDefault:"5m"`
}

// ParseConfig loads environment defaults and parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the sqlite database file")
	fs.StringVar(&cfg.ObjectStoreURL, "object-store-url", cfg.ObjectStoreURL, "Base URL for presigned document URLs")
	fs.StringVar(&cfg.SigningAlgorithm, "signing-algorithm", cfg.SigningAlgorithm, "Algorithm for the local signing key")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Platform is the assembled service: the request lifecycle, the signing
// orchestrator, and their shared store.
type Platform struct {
	Requests     *requests.Service
	Orchestrator *signing.Orchestrator
	Limiter      *ratelimit.Limiter
	store        *sqlite.Store
}

// Close releases the platform's storage handle.
func (p *Platform) Close() error {
	if p == nil || p.store == nil {
		return nil
	}
	return p.store.Close()
}

// Build assembles the platform from configuration.
func Build(cfg Config) (*Platform, error) {
	if cfg.ObjectStoreKey == "" {
		return nil, errors.New("object store signing key is required (SIGNET_OBJECT_STORE_KEY)")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	localSigner, err := signer.NewLocal(cfg.SigningAlgorithm)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init signer: %w", err)
	}
	presigner, err := objectstore.NewLocal(cfg.ObjectStoreURL, []byte(cfg.ObjectStoreKey))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}
	grants, err := sharelink.LoadConfigFromEnv(time.Now)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load share grant config: %w", err)
	}

	emitter := audit.NewEmitter(store)
	limiter := ratelimit.NewLimiter()
	orchestrator := signing.NewOrchestrator(store, localSigner, presigner, emitter, cfg.AllowedAlgorithms).
		WithLimiter(limiter)
	lifecycle := requests.NewService(store, emitter, grants).WithLimiter(limiter)

	return &Platform{
		Requests:     lifecycle,
		Orchestrator: orchestrator,
		Limiter:      limiter,
		store:        store,
	}, nil
}

// Run builds the platform and serves until the context is cancelled. The
// limiter is pruned on a fixed interval to keep idle windows from
// accumulating.
func Run(ctx context.Context, cfg Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceSigner, func(ctx context.Context) error {
		platform, err := Build(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := platform.Close(); err != nil {
				log.Printf("close store: %v", err)
			}
		}()

		pruneInterval := cfg.PruneInterval
		if pruneInterval <= 0 {
			pruneInterval = 5 * time.Minute
		}
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		log.Printf("signet serving with db %s", cfg.DBPath)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				platform.Limiter.Prune(pruneInterval)
			}
		}
	})
}
