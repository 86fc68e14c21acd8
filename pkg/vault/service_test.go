package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demiarch/orchestrator/pkg/config"
	"github.com/demiarch/orchestrator/pkg/store"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	cfg.SetDefaults()
	db, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	keyStore := NewMasterKeyStore("demiarch-orchestrator-test", t.TempDir()+"/master.key")
	v := New(db, "sqlite", keyStore, nil)
	require.NoError(t, v.Initialize())
	return v
}

func TestVault_StoreAndGet(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	info, err := v.Store(ctx, "openai", "primary key", NewSecureString("sk-abcd1234"))
	require.NoError(t, err)
	assert.Equal(t, "openai", info.Name)
	assert.Equal(t, "***1234", info.Preview)
	assert.Nil(t, info.LastUsedAt)

	secret, err := v.Get(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-abcd1234", secret.AsStr())
}

func TestVault_StoreDuplicateNameFails(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "openai", "", NewSecureString("sk-1"))
	require.NoError(t, err)

	_, err = v.Store(ctx, "openai", "", NewSecureString("sk-2"))
	require.Error(t, err)
}

func TestVault_GetMissingKeyFails(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Get(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestVault_Update(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "anthropic", "", NewSecureString("sk-old"))
	require.NoError(t, err)

	newDesc := "rotated by hand"
	info, err := v.Update(ctx, "anthropic", NewSecureString("sk-new"), &newDesc)
	require.NoError(t, err)
	assert.Equal(t, newDesc, info.Description)

	secret, err := v.Get(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-new", secret.AsStr())
}

func TestVault_DeleteAndExists(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "cohere", "", NewSecureString("sk-xyz"))
	require.NoError(t, err)

	exists, err := v.Exists(ctx, "cohere")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, v.Delete(ctx, "cohere"))

	exists, err = v.Exists(ctx, "cohere")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestVault_List(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "a-provider", "", NewSecureString("sk-a"))
	require.NoError(t, err)
	_, err = v.Store(ctx, "b-provider", "", NewSecureString("sk-b"))
	require.NoError(t, err)

	keys, err := v.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "a-provider", keys[0].Name)
	assert.Equal(t, "b-provider", keys[1].Name)
}

func TestVault_RotateMasterKeyPreservesSecrets(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "openai", "", NewSecureString("sk-rotation-test"))
	require.NoError(t, err)

	require.NoError(t, v.RotateMasterKey(ctx))

	secret, err := v.Get(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-rotation-test", secret.AsStr())
}

func TestSecureString_ZeroClearsValue(t *testing.T) {
	s := NewSecureString("top-secret")
	s.Zero()
	assert.Equal(t, "\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00", s.AsStr())
}

func TestRedactedPreview(t *testing.T) {
	assert.Equal(t, "***cdef", redactedPreview("abcdef"))
	assert.Equal(t, "***ab", redactedPreview("ab"))
}
