//go:build integration

package firestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dwsmith1983/feedrun/internal/provider/providertest"
)

func setupTestProvider(t *testing.T) *FirestoreProvider {
	t.Helper()
	ctx := context.Background()
	suffix := time.Now().UnixNano()
	cfg := &Config{
		ProjectID:      "test-project",
		Collection:     fmt.Sprintf("feedrun-runs-%d", suffix),
		LockCollection: fmt.Sprintf("feedrun-locks-%d", suffix),
		Emulator:       "localhost:8681",
	}
	prov, err := New(cfg)
	if err != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}
	if err := prov.Start(ctx); err != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}
	t.Cleanup(func() {
		_ = prov.Stop(context.Background())
	})
	return prov
}

func TestConformance(t *testing.T) {
	prov := setupTestProvider(t)
	providertest.RunAll(t, prov)
}
