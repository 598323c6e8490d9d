package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "secrets.db")
	s, err := Open(path, "test-passphrase", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "secrets.db")

	s, err := Open(path, "passphrase", testLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, path)
}

func TestOpen_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.db")

	s, err := Open(path, "correct-passphrase", testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path, "wrong-passphrase", testLogger())
	assert.ErrorIs(t, err, ErrDatabaseLocked)
}

func TestOpen_ReopenWithSamePassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.db")

	s, err := Open(path, "passphrase", testLogger())
	require.NoError(t, err)

	payload := "super-secret"
	require.NoError(t, s.InsertSecret(ctx, &Secret{
		ARN:       "arn:aws:secretsmanager:us-east-1:000000000000:secret:reopen-AbCdEf",
		Name:      "reopen",
		CreatedAt: 1700000000,
	}))
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN:    "arn:aws:secretsmanager:us-east-1:000000000000:secret:reopen-AbCdEf",
		VersionID:    "v1",
		SecretString: &payload,
		CreatedAt:    1700000000,
	}))
	require.NoError(t, s.Close())

	s, err = Open(path, "passphrase", testLogger())
	require.NoError(t, err)
	defer s.Close()

	v, err := s.GetVersion(ctx, "arn:aws:secretsmanager:us-east-1:000000000000:secret:reopen-AbCdEf", "v1")
	require.NoError(t, err)
	require.NotNil(t, v.SecretString)
	assert.Equal(t, payload, *v.SecretString)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sentinel := assert.AnError
	err := s.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertSecret(ctx, &Secret{
			ARN:       "arn:aws:secretsmanager:us-east-1:000000000000:secret:rollback-AbCdEf",
			Name:      "rollback",
			CreatedAt: 1700000000,
		}))
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = s.GetSecret(ctx, "rollback")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTx_Commit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertSecret(ctx, &Secret{
			ARN:       "arn:aws:secretsmanager:us-east-1:000000000000:secret:commit-AbCdEf",
			Name:      "commit",
			CreatedAt: 1700000000,
		})
	})
	require.NoError(t, err)

	got, err := s.GetSecret(ctx, "commit")
	require.NoError(t, err)
	assert.Equal(t, "commit", got.Name)
}
