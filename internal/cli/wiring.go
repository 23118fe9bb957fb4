package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/denisbrodbeck/machineid"

	"okx-core/internal/store"
	"okx-core/pkg/config"
	"okx-core/pkg/db"
	"okx-core/pkg/exchanges/okx"
)

// openStore loads config and opens the migrated state store. The caller closes the database.
func openStore() (*config.Config, *db.Database, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	database, err := db.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return cfg, database, store.New(database), nil
}

func newOKXClient(cfg *config.Config) *okx.Client {
	return okx.NewClient(okx.Config{
		APIKey:     cfg.OKXAPIKey,
		SecretKey:  cfg.OKXSecretKey,
		Passphrase: cfg.OKXPassphrase,
		Demo:       cfg.Demo,
		BaseURL:    cfg.RESTBaseURL,
	})
}

// instanceID identifies this host as the store owner. The raw machine id never leaves
// the process.
func instanceID() string {
	id, err := machineid.ProtectedID("okx-core")
	if err == nil {
		return id
	}
	host, herr := os.Hostname()
	if herr != nil {
		host = "unknown"
	}
	log.Printf("⚠️ machine id unavailable (%v); owning store as host %s", err, host)
	return "host:" + host
}

// priceCache holds the latest close per instrument for the simulated gateway.
type priceCache struct {
	mu sync.RWMutex
	m  map[string]float64
}

func (p *priceCache) set(instID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]float64)
	}
	p.m[instID] = price
}

func (p *priceCache) get(instID string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.m[instID]
}

func withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return fn(ctx)
}
