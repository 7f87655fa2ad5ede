package utils

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	assert.Equal(t, 5, got.MaxOpenConns)
	assert.Equal(t, 25, got.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, got.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, got.PingTimeout)
}

func TestWithTx_SignatureMatchesTxFunc(t *testing.T) {
	// Behavior needs a live Postgres; this pins the helper's contract.
	var fn TxFunc = func(ctx context.Context, tx *sql.Tx) error { return nil }
	_ = fn
	var _ func(context.Context, *sql.DB, *sql.TxOptions, TxFunc) error = WithTx
}
