package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx records lifecycle calls. The embedded interface covers the methods
// WithTx never touches.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx  *fakeTx
	err error
}

func (b *fakeBeginner) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithTxCommits(t *testing.T) {
	tx := &fakeTx{}
	err := WithTx(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, tx.committed)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	sentinel := errors.New("boom")
	tx := &fakeTx{}
	err := WithTx(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) error {
		return sentinel
	})
	assert.True(t, errors.Is(err, sentinel), "fn error passes through unwrapped")
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	tx := &fakeTx{}
	require.Panics(t, func() {
		_ = WithTx(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) error {
			panic("callback blew up")
		})
	})
	assert.True(t, tx.rolledBack, "deferred rollback must run during unwind")
	assert.False(t, tx.committed)
}

func TestWithTxWrapsCommitFailure(t *testing.T) {
	tx := &fakeTx{commitErr: errors.New("connection gone")}
	err := WithTx(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit tx")
	assert.True(t, tx.rolledBack)
}

func TestWithTxBeginFailure(t *testing.T) {
	err := WithTx(context.Background(), &fakeBeginner{err: errors.New("pool closed")}, func(pgx.Tx) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}
