package accounts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/shared"
)

type countingRepo struct {
	accounts map[string]Account
	reads    int
}

func (r *countingRepo) List(ctx context.Context) ([]Account, error) { return nil, nil }

func (r *countingRepo) GetByCode(ctx context.Context, code string) (Account, error) {
	r.reads++
	acc, ok := r.accounts[code]
	if !ok {
		return Account{}, fmt.Errorf("accounts: %w", shared.ErrNotFound)
	}
	return acc, nil
}

func (r *countingRepo) GetByCodes(ctx context.Context, codes []string) ([]Account, error) {
	return nil, nil
}

func (r *countingRepo) Create(ctx context.Context, acc Account) (Account, error) {
	r.accounts[acc.Code] = acc
	return acc, nil
}

func TestCachedLookupServesFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &countingRepo{accounts: map[string]Account{"1.1.1.01": {ID: 1, Code: "1.1.1.01", Name: "Caja"}}}
	lookup := NewCachedLookup(repo, client, time.Minute)
	ctx := context.Background()

	acc, err := lookup.GetByCode(ctx, "1.1.1.01")
	require.NoError(t, err)
	require.Equal(t, "Caja", acc.Name)
	_, err = lookup.GetByCode(ctx, "1.1.1.01")
	require.NoError(t, err)
	require.Equal(t, 1, repo.reads)

	repo.accounts["1.1.1.01"] = Account{ID: 1, Code: "1.1.1.01", Name: "Caja pesos"}
	require.NoError(t, lookup.Invalidate(ctx))
	acc, err = lookup.GetByCode(ctx, "1.1.1.01")
	require.NoError(t, err)
	require.Equal(t, "Caja pesos", acc.Name)
	require.Equal(t, 2, repo.reads)
}

func TestCachedLookupExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &countingRepo{accounts: map[string]Account{"1": {ID: 1, Code: "1"}}}
	lookup := NewCachedLookup(repo, client, time.Minute)
	ctx := context.Background()

	_, err := lookup.GetByCode(ctx, "1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = lookup.GetByCode(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, 2, repo.reads)
}

func TestCachedLookupDoesNotCacheMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &countingRepo{accounts: map[string]Account{}}
	lookup := NewCachedLookup(repo, client, time.Minute)

	_, err := lookup.GetByCode(context.Background(), "9")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = lookup.GetByCode(context.Background(), "9")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, 2, repo.reads)
}
