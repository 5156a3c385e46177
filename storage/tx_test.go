package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(db, logger), mock
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO source_cursors").
		WithArgs("videos").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT last_post_time, last_comment_time FROM source_cursors").
		WithArgs("videos").
		WillReturnRows(sqlmock.NewRows([]string{"last_post_time", "last_comment_time"}).AddRow(0, 0))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		_, err := tx.Cursor(context.Background(), "videos")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackAndReturnsError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("publish failed")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(*Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	require.Panics(t, func() {
		_ = s.WithTx(context.Background(), func(*Tx) error { panic("unexpected") })
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	err := s.WithTx(context.Background(), func(*Tx) error { return nil })
	require.ErrorContains(t, err, "commit transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	called := false
	err := s.WithTx(context.Background(), func(*Tx) error {
		called = true
		return nil
	})
	require.ErrorContains(t, err, "begin transaction")
	require.False(t, called)
}
