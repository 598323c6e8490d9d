package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustInsertSecret(t *testing.T, s *Store, name string, createdAt int64) string {
	t.Helper()
	arn := fmt.Sprintf("arn:aws:secretsmanager:us-east-1:000000000000:secret:%s-AbCdEf", name)
	require.NoError(t, s.InsertSecret(context.Background(), &Secret{
		ARN:       arn,
		Name:      name,
		CreatedAt: createdAt,
	}))
	return arn
}

func TestInsertSecret_DuplicateName(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mustInsertSecret(t, s, "dup", 100)
	err := s.InsertSecret(ctx, &Secret{
		ARN:       "arn:aws:secretsmanager:us-east-1:000000000000:secret:dup-ZzZzZz",
		Name:      "dup",
		CreatedAt: 200,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetSecret_ByNameAndARN(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "lookup", 100)

	byName, err := s.GetSecret(ctx, "lookup")
	require.NoError(t, err)
	assert.Equal(t, arn, byName.ARN)

	byARN, err := s.GetSecret(ctx, arn)
	require.NoError(t, err)
	assert.Equal(t, "lookup", byARN.Name)

	_, err = s.GetSecret(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "lifecycle", 100)

	require.NoError(t, s.SoftDeleteSecret(ctx, arn, 200, 200+30*86400))

	got, err := s.GetSecret(ctx, arn)
	require.NoError(t, err)
	assert.True(t, got.Deleted())
	require.NotNil(t, got.ScheduledDeleteAt)
	assert.Equal(t, int64(200+30*86400), *got.ScheduledDeleteAt)

	require.NoError(t, s.RestoreSecret(ctx, arn))

	got, err = s.GetSecret(ctx, arn)
	require.NoError(t, err)
	assert.False(t, got.Deleted())
	assert.Nil(t, got.ScheduledDeleteAt)
}

func TestDeleteSecret_CascadesVersionsAndTags(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "cascade", 100)
	payload := "value"
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN:    arn,
		VersionID:    "v1",
		SecretString: &payload,
		CreatedAt:    100,
	}))
	require.NoError(t, s.AddStage(ctx, arn, "v1", "AWSCURRENT", 100))
	require.NoError(t, s.UpsertTag(ctx, arn, "env", "prod", 100))

	require.NoError(t, s.DeleteSecret(ctx, arn))

	_, err := s.GetVersion(ctx, arn, "v1")
	assert.ErrorIs(t, err, ErrNotFound)

	tags, err := s.ListTags(ctx, arn)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestPurgeExpired(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	expired := mustInsertSecret(t, s, "expired", 100)
	pending := mustInsertSecret(t, s, "pending", 100)
	mustInsertSecret(t, s, "live", 100)

	require.NoError(t, s.SoftDeleteSecret(ctx, expired, 100, 500))
	require.NoError(t, s.SoftDeleteSecret(ctx, pending, 100, 5000))

	n, err := s.PurgeExpired(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSecret(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetSecret(ctx, "pending")
	assert.NoError(t, err)
}

func TestInsertVersion_SealsPayloadAtRest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "sealed", 100)
	payload := "plaintext-password"
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN:    arn,
		VersionID:    "v1",
		SecretString: &payload,
		CreatedAt:    100,
	}))

	var raw []byte
	err := s.db.QueryRow(
		"SELECT secret_string FROM secrets_versions WHERE secret_arn = ? AND version_id = ?",
		arn, "v1",
	).Scan(&raw)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), payload)

	v, err := s.GetVersion(ctx, arn, "v1")
	require.NoError(t, err)
	require.NotNil(t, v.SecretString)
	assert.Equal(t, payload, *v.SecretString)
	assert.Nil(t, v.SecretBinary)
}

func TestInsertVersion_Binary(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "binary", 100)
	payload := []byte{0x00, 0x01, 0xff, 0xfe}
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN:    arn,
		VersionID:    "v1",
		SecretBinary: payload,
		CreatedAt:    100,
	}))

	v, err := s.GetVersion(ctx, arn, "v1")
	require.NoError(t, err)
	assert.Nil(t, v.SecretString)
	assert.Equal(t, payload, v.SecretBinary)
}

func TestStages_UniquePerSecret(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "stages", 100)
	payload := "v"
	for _, id := range []string{"v1", "v2"} {
		require.NoError(t, s.InsertVersion(ctx, &Version{
			SecretARN:    arn,
			VersionID:    id,
			SecretString: &payload,
			CreatedAt:    100,
		}))
	}

	require.NoError(t, s.AddStage(ctx, arn, "v1", "AWSCURRENT", 100))

	// A label can only be held by one version at a time.
	err := s.AddStage(ctx, arn, "v2", "AWSCURRENT", 200)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRemoveStageAny(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "rotate", 100)
	payload := "v"
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN: arn, VersionID: "v1", SecretString: &payload, CreatedAt: 100,
	}))
	require.NoError(t, s.AddStage(ctx, arn, "v1", "AWSCURRENT", 100))

	holder, err := s.RemoveStageAny(ctx, arn, "AWSCURRENT")
	require.NoError(t, err)
	assert.Equal(t, "v1", holder)

	holder, err = s.RemoveStageAny(ctx, arn, "AWSCURRENT")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestGetVersionByStage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "bystage", 100)
	payload := "current-value"
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN: arn, VersionID: "v1", SecretString: &payload, CreatedAt: 100,
	}))
	require.NoError(t, s.AddStage(ctx, arn, "v1", "AWSCURRENT", 100))

	v, err := s.GetVersionByStage(ctx, arn, "AWSCURRENT")
	require.NoError(t, err)
	assert.Equal(t, "v1", v.VersionID)
	assert.Equal(t, []string{"AWSCURRENT"}, v.Stages)

	_, err = s.GetVersionByStage(ctx, arn, "AWSPREVIOUS")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListVersions_ExcludesDeprecatedByDefault(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "listver", 100)
	payload := "v"
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN: arn, VersionID: "staged", SecretString: &payload, CreatedAt: 100,
	}))
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN: arn, VersionID: "stageless", SecretString: &payload, CreatedAt: 200,
	}))
	require.NoError(t, s.AddStage(ctx, arn, "staged", "AWSCURRENT", 100))

	versions, err := s.ListVersions(ctx, arn, false, 100, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "staged", versions[0].VersionID)

	versions, err = s.ListVersions(ctx, arn, true, 100, 0)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	// Newest first.
	assert.Equal(t, "stageless", versions[0].VersionID)
}

func TestPruneExcessVersions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "prune", 100)
	payload := "v"
	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertVersion(ctx, &Version{
			SecretARN:    arn,
			VersionID:    fmt.Sprintf("v%d", i),
			SecretString: &payload,
			CreatedAt:    int64(100 + i),
		}))
	}

	// Keep the 3 newest; only versions older than the cutoff go.
	n, err := s.PruneExcessVersions(ctx, 102, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := s.CountVersions(ctx, arn, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	_, err = s.GetVersion(ctx, arn, "v0")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetVersion(ctx, arn, "v4")
	assert.NoError(t, err)
}

func TestListSecrets_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	prodARN := mustInsertSecret(t, s, "prod/db-password", 100)
	mustInsertSecret(t, s, "staging/db-password", 200)
	require.NoError(t, s.UpsertTag(ctx, prodARN, "team", "platform", 100))

	list, err := s.ListSecrets(ctx, ListQuery{
		Filters: []Filter{{Key: FilterName, Values: []string{"prod/"}}},
		Limit:   100,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "prod/db-password", list[0].Name)

	list, err = s.ListSecrets(ctx, ListQuery{
		Filters: []Filter{{Key: FilterTagKey, Values: []string{"team"}}},
		Limit:   100,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, prodARN, list[0].ARN)

	list, err = s.ListSecrets(ctx, ListQuery{
		Filters: []Filter{{Key: FilterAll, Values: []string{"staging"}}},
		Limit:   100,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "staging/db-password", list[0].Name)

	_, err = s.ListSecrets(ctx, ListQuery{
		Filters: []Filter{{Key: "bogus", Values: []string{"x"}}},
		Limit:   100,
	})
	assert.Error(t, err)
}

func TestListSecrets_ExcludesDeletedByDefault(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	deleted := mustInsertSecret(t, s, "deleted", 100)
	mustInsertSecret(t, s, "live", 200)
	require.NoError(t, s.SoftDeleteSecret(ctx, deleted, 300, 3000))

	list, err := s.ListSecrets(ctx, ListQuery{Limit: 100})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "live", list[0].Name)

	count, err := s.CountSecrets(ctx, ListQuery{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestListSecrets_Pagination(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustInsertSecret(t, s, fmt.Sprintf("page-%d", i), int64(100+i))
	}

	page, err := s.ListSecrets(ctx, ListQuery{Limit: 2, Offset: 2, Ascending: true})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "page-2", page[0].Name)
	assert.Equal(t, "page-3", page[1].Name)
}

func TestTags_UpsertAndDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "tagged", 100)

	require.NoError(t, s.UpsertTag(ctx, arn, "env", "staging", 100))
	require.NoError(t, s.UpsertTag(ctx, arn, "env", "prod", 200))
	require.NoError(t, s.UpsertTag(ctx, arn, "team", "platform", 200))

	tags, err := s.ListTags(ctx, arn)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "env", tags[0].Key)
	assert.Equal(t, "prod", tags[0].Value)
	require.NotNil(t, tags[0].UpdatedAt)

	require.NoError(t, s.DeleteTag(ctx, arn, "env"))
	tags, err = s.ListTags(ctx, arn)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "team", tags[0].Key)
}

func TestTouchVersionAccess(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "touched", 100)
	payload := "v"
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN: arn, VersionID: "v1", SecretString: &payload, CreatedAt: 100,
	}))

	require.NoError(t, s.TouchVersionAccess(ctx, arn, "v1", 86400))

	v, err := s.GetVersion(ctx, arn, "v1")
	require.NoError(t, err)
	require.NotNil(t, v.LastAccessedAt)
	assert.Equal(t, int64(86400), *v.LastAccessedAt)
}

func TestAllStages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	arn := mustInsertSecret(t, s, "allstages", 100)
	payload := "v"
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN: arn, VersionID: "v1", SecretString: &payload, CreatedAt: 100,
	}))
	require.NoError(t, s.InsertVersion(ctx, &Version{
		SecretARN: arn, VersionID: "v2", SecretString: &payload, CreatedAt: 200,
	}))
	require.NoError(t, s.AddStage(ctx, arn, "v1", "AWSPREVIOUS", 100))
	require.NoError(t, s.AddStage(ctx, arn, "v2", "AWSCURRENT", 200))
	require.NoError(t, s.AddStage(ctx, arn, "v2", "custom", 200))

	stages, err := s.AllStages(ctx, arn)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"v1": {"AWSPREVIOUS"},
		"v2": {"AWSCURRENT", "custom"},
	}, stages)
}
