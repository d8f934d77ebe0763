package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestPostgresMirror(t *testing.T) {
	dsn := os.Getenv("GIFTRELAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GIFTRELAY_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	ns := "test-" + time.Now().Format("150405.000000")
	p, err := NewPostgres[product](pool, WithNamespace(ns))
	require.NoError(t, err)
	require.NoError(t, p.EnsureSchema(ctx))
	defer func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM `+DefaultTable+` WHERE namespace = $1`, ns)
	}()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, p.WriteAll(ctx, map[string]Entry[product]{
		"a": {Value: product{ASIN: "A", Price: 12.5}, Timestamp: now},
		"b": {Value: product{ASIN: "B"}, Timestamp: now},
	}))
	require.NoError(t, p.WriteAll(ctx, map[string]Entry[product]{
		"a": {Value: product{ASIN: "A2", Price: 13}, Timestamp: now},
	}))

	out, err := p.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "A2", out["a"].Value.ASIN)
	require.True(t, now.Equal(out["a"].Timestamp))
	require.NoError(t, p.Close())
}

func TestNewPostgresNilPool(t *testing.T) {
	_, err := NewPostgres[product](nil)
	require.Error(t, err)
}
