package dapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumwallet/vellum/pkg/repo"
	"github.com/vellumwallet/vellum/pkg/types"
	tf "github.com/vellumwallet/vellum/testhelpers/testflags"
)

func TestAuthorizeAndGet(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()
	r := NewRegistry(repo.NewInMemoryRepo().MetaDatastore())

	_, err := r.Get(ctx, "https://dapp.example")
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, r.Authorize(ctx, "https://dapp.example", "Example DApp", []string{"acc1"}))

	s, err := r.Get(ctx, "https://dapp.example")
	require.NoError(t, err)
	assert.Equal(t, "Example DApp", s.AppName)
	assert.Equal(t, []string{"acc1"}, s.GrantedAccountIDs)
	assert.False(t, s.CreatedAt.IsZero())

	t.Log("re-authorizing extends the grant without duplicating entries")
	require.NoError(t, r.Authorize(ctx, "https://dapp.example", "", []string{"acc1", "acc2"}))
	s, err = r.Get(ctx, "https://dapp.example")
	require.NoError(t, err)
	assert.Equal(t, "Example DApp", s.AppName)
	assert.Equal(t, []string{"acc1", "acc2"}, s.GrantedAccountIDs)
}

func TestCanSignIsPerOrigin(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()
	r := NewRegistry(repo.NewInMemoryRepo().MetaDatastore())

	require.NoError(t, r.Authorize(ctx, "https://a.example", "A", []string{"acc1"}))
	require.NoError(t, r.Authorize(ctx, "https://b.example", "B", []string{"acc2"}))

	ok, err := r.CanSign(ctx, "https://a.example", "acc1")
	require.NoError(t, err)
	assert.True(t, ok)

	t.Log("a session never confers access to accounts granted to another origin")
	ok, err = r.CanSign(ctx, "https://a.example", "acc2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.CanSign(ctx, "https://unknown.example", "acc1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveReturnsRemaining(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()
	r := NewRegistry(repo.NewInMemoryRepo().MetaDatastore())

	require.NoError(t, r.Authorize(ctx, "https://a.example", "A", []string{"acc1"}))
	require.NoError(t, r.Authorize(ctx, "https://b.example", "B", []string{"acc1"}))

	remaining, err := r.Remove(ctx, "https://a.example")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "https://b.example", remaining[0].Origin)

	_, err = r.Remove(ctx, "https://a.example")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSessionsPersistAcrossRegistries(t *testing.T) {
	tf.UnitTest(t)
	ctx := context.Background()
	rp := repo.NewInMemoryRepo()

	r := NewRegistry(rp.MetaDatastore())
	require.NoError(t, r.Authorize(ctx, "https://a.example", "A", []string{"acc1"}))

	t.Log("a fresh registry over the same datastore sees the grant")
	r2 := NewRegistry(rp.MetaDatastore())
	all, err := r2.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "https://a.example", all[0].Origin)
}
