package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed   bool
	rolledBack  bool
	commitErr   error
	rollbackErr error
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return f.commitErr
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return f.rollbackErr
}

type fakeBeginner struct {
	tx  *fakeTx
	err error
}

func (b *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestTransact_Commit(t *testing.T) {
	tx := &fakeTx{}
	got, err := Transact(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestTransact_RollbackOnError(t *testing.T) {
	tx := &fakeTx{}
	cause := errors.New("insert failed")

	got, err := Transact(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) (string, error) {
		return "partial", cause
	})
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, got)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestTransact_RollbackFailureKeepsCause(t *testing.T) {
	tx := &fakeTx{rollbackErr: errors.New("conn closed")}
	cause := errors.New("insert failed")

	_, err := Transact(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) (struct{}, error) {
		return struct{}{}, cause
	})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "conn closed")
}

func TestTransact_BeginFailure(t *testing.T) {
	called := false
	_, err := Transact(context.Background(), &fakeBeginner{err: errors.New("pool exhausted")}, func(pgx.Tx) (int, error) {
		called = true
		return 0, nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestConfig_ConnString(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", cfg.ConnString())
}
