// Package firestore implements the run ledger using Google Cloud Firestore Native Mode.
package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/dwsmith1983/feedrun/internal/provider"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*FirestoreProvider)(nil)

const (
	defaultCollection     = "ingestion_runs"
	defaultLockCollection = "ingestion_locks"
	activeDocID           = "active"

	// txAttempts allows extra retries under trigger contention.
	txAttempts = 20
)

// FirestoreProvider implements the run ledger backed by Firestore Native Mode.
type FirestoreProvider struct {
	client         *firestore.Client
	collection     string
	lockCollection string
	logger         *slog.Logger
	retentionTTL   time.Duration
}

// New creates a new FirestoreProvider.
func New(cfg *Config) (*FirestoreProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("firestore config is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore projectId is required")
	}

	// Support the Firestore emulator via FIRESTORE_EMULATOR_HOST or config.
	if cfg.Emulator != "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Emulator)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(context.Background(), cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Firestore client: %w", err)
	}

	p := &FirestoreProvider{
		client:         client,
		collection:     cfg.Collection,
		lockCollection: cfg.LockCollection,
		logger:         slog.Default(),
	}
	if p.collection == "" {
		p.collection = defaultCollection
	}
	if p.lockCollection == "" {
		p.lockCollection = defaultLockCollection
	}
	if cfg.RetentionTTL != "" {
		d, err := time.ParseDuration(cfg.RetentionTTL)
		if err != nil {
			return nil, fmt.Errorf("parsing firestore retentionTtl: %w", err)
		}
		p.retentionTTL = d
	}
	return p, nil
}

func (p *FirestoreProvider) runs() *firestore.CollectionRef {
	return p.client.Collection(p.collection)
}

func (p *FirestoreProvider) activeDoc() *firestore.DocumentRef {
	return p.client.Collection(p.lockCollection).Doc(activeDocID)
}

// Start initializes the provider.
func (p *FirestoreProvider) Start(ctx context.Context) error {
	return p.Ping(ctx)
}

// Stop closes the Firestore client.
func (p *FirestoreProvider) Stop(_ context.Context) error {
	return p.client.Close()
}

// Ping checks connectivity by reading a non-existent document.
func (p *FirestoreProvider) Ping(ctx context.Context) error {
	_, err := p.runs().Doc("__ping__").Get(ctx)
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("firestore ping failed: %w", err)
}
