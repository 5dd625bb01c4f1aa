package authflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/cloudguard/domain"
)

func TestMemorySessionStore_ConsumeIsSingleUse(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Stop()
	ctx := context.Background()

	session := &domain.PkceSession{
		State:        "state-1",
		ProviderID:   "github",
		CodeVerifier: "verifier",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.Save(ctx, session))

	got, err := store.Consume(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "github", got.ProviderID)
	assert.Equal(t, "verifier", got.CodeVerifier)

	_, err = store.Consume(ctx, "state-1")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredState, "replay must fail")
}

func TestMemorySessionStore_UnknownState(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Stop()

	_, err := store.Consume(context.Background(), "never-issued")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredState)
}
