package secrets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokerhq/loker/internal/awserr"
	"github.com/lokerhq/loker/internal/clock"
	"github.com/lokerhq/loker/internal/store"
)

var testTime = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	st, err := store.Open(filepath.Join(t.TempDir(), "secrets.db"), "test-passphrase", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return NewManager(st, clock.Fixed(testTime), logger, "us-east-1", "000000000000")
}

func strPtr(s string) *string { return &s }

func mustCreate(t *testing.T, m *Manager, name, value string) *CreateOutput {
	t.Helper()
	out, err := m.Create(context.Background(), CreateInput{
		Name:         name,
		SecretString: strPtr(value),
	})
	require.NoError(t, err)
	return out
}

func assertAwsError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	aerr := awserr.From(err)
	assert.Equal(t, code, aerr.Code)
}

func TestCreate_MintsARNAndCurrentStage(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	out := mustCreate(t, m, "db/pw", "hunter2")

	assert.Regexp(t, `^arn:aws:secretsmanager:us-east-1:000000000000:secret:db/pw-[A-Za-z0-9]{6}$`, out.ARN)
	assert.Equal(t, "db/pw", out.Name)
	assert.NotEmpty(t, out.VersionID)

	value, err := m.GetValue(ctx, GetInput{SecretID: "db/pw"})
	require.NoError(t, err)
	require.NotNil(t, value.SecretString)
	assert.Equal(t, "hunter2", *value.SecretString)
	assert.Equal(t, []string{StageCurrent}, value.VersionStages)
	assert.Equal(t, out.VersionID, value.VersionID)
}

func TestCreate_Validation(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
		code string
	}{
		{
			name: "invalid name characters",
			in:   CreateInput{Name: "bad name!", SecretString: strPtr("v")},
			code: "InvalidParameterException",
		},
		{
			name: "no payload",
			in:   CreateInput{Name: "ok"},
			code: "InvalidParameterException",
		},
		{
			name: "both payloads",
			in:   CreateInput{Name: "ok", SecretString: strPtr("v"), SecretBinary: []byte("b")},
			code: "InvalidParameterException",
		},
		{
			name: "short client request token",
			in:   CreateInput{Name: "ok", SecretString: strPtr("v"), ClientRequestToken: strPtr("short")},
			code: "InvalidParameterException",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(ctx, tt.in)
			assertAwsError(t, err, tt.code)
		})
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "dup", "v1")

	_, err := m.Create(ctx, CreateInput{Name: "dup", SecretString: strPtr("v2")})
	assertAwsError(t, err, "ResourceExistsException")
}

func TestCreate_NameScheduledForDeletion(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "doomed", "v1")
	_, err := m.Delete(ctx, DeleteInput{SecretID: "doomed"})
	require.NoError(t, err)

	_, err = m.Create(ctx, CreateInput{Name: "doomed", SecretString: strPtr("v2")})
	assertAwsError(t, err, "InvalidRequestException")
}

func TestPutValue_IdempotentToken(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "db/pw", "v0")

	token := strPtr("tok-00000000-0000-0000-0000-000000000001")

	first, err := m.PutValue(ctx, PutInput{SecretID: "db/pw", ClientRequestToken: token, SecretString: strPtr("a")})
	require.NoError(t, err)

	// Same token, same payload: no-op returning the existing version.
	second, err := m.PutValue(ctx, PutInput{SecretID: "db/pw", ClientRequestToken: token, SecretString: strPtr("a")})
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, second.VersionID)

	// Same token, different payload: conflict.
	_, err = m.PutValue(ctx, PutInput{SecretID: "db/pw", ClientRequestToken: token, SecretString: strPtr("b")})
	assertAwsError(t, err, "ResourceExistsException")
}

func TestPutValue_StageRotation(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	created := mustCreate(t, m, "db/pw", "v0")

	second, err := m.PutValue(ctx, PutInput{SecretID: "db/pw", SecretString: strPtr("v1")})
	require.NoError(t, err)

	desc, err := m.Describe(ctx, "db/pw")
	require.NoError(t, err)
	assert.Equal(t, []string{StagePrevious}, desc.VersionIDsToStage[created.VersionID])
	assert.Equal(t, []string{StageCurrent}, desc.VersionIDsToStage[second.VersionID])

	third, err := m.PutValue(ctx, PutInput{SecretID: "db/pw", SecretString: strPtr("v2")})
	require.NoError(t, err)

	desc, err = m.Describe(ctx, "db/pw")
	require.NoError(t, err)
	assert.NotContains(t, desc.VersionIDsToStage, created.VersionID)
	assert.Equal(t, []string{StagePrevious}, desc.VersionIDsToStage[second.VersionID])
	assert.Equal(t, []string{StageCurrent}, desc.VersionIDsToStage[third.VersionID])
}

func TestPutValue_CustomStages(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	created := mustCreate(t, m, "db/pw", "v0")

	out, err := m.PutValue(ctx, PutInput{
		SecretID:      "db/pw",
		SecretString:  strPtr("v1"),
		VersionStages: []string{"AWSPENDING"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AWSPENDING"}, out.VersionStages)

	// AWSCURRENT was not moved, so no AWSPREVIOUS handoff happened.
	desc, err := m.Describe(ctx, "db/pw")
	require.NoError(t, err)
	assert.Equal(t, []string{StageCurrent}, desc.VersionIDsToStage[created.VersionID])
}

func TestPutValue_EmptyStageList(t *testing.T) {
	m := setupTestManager(t)
	mustCreate(t, m, "db/pw", "v0")

	_, err := m.PutValue(context.Background(), PutInput{
		SecretID:      "db/pw",
		SecretString:  strPtr("v1"),
		VersionStages: []string{},
	})
	assertAwsError(t, err, "InvalidRequestException")
}

func TestPutValue_UnknownSecret(t *testing.T) {
	m := setupTestManager(t)

	_, err := m.PutValue(context.Background(), PutInput{SecretID: "missing", SecretString: strPtr("v")})
	assertAwsError(t, err, "ResourceNotFoundException")
}

func TestGetValue_ByVersionAndStage(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	created := mustCreate(t, m, "db/pw", "v0")
	second, err := m.PutValue(ctx, PutInput{SecretID: "db/pw", SecretString: strPtr("v1")})
	require.NoError(t, err)

	byID, err := m.GetValue(ctx, GetInput{SecretID: "db/pw", VersionID: &created.VersionID})
	require.NoError(t, err)
	assert.Equal(t, "v0", *byID.SecretString)

	byStage, err := m.GetValue(ctx, GetInput{SecretID: "db/pw", VersionStage: strPtr(StagePrevious)})
	require.NoError(t, err)
	assert.Equal(t, created.VersionID, byStage.VersionID)

	// Both provided and agreeing.
	both, err := m.GetValue(ctx, GetInput{
		SecretID:     "db/pw",
		VersionID:    &second.VersionID,
		VersionStage: strPtr(StageCurrent),
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", *both.SecretString)

	// Both provided but disagreeing.
	_, err = m.GetValue(ctx, GetInput{
		SecretID:     "db/pw",
		VersionID:    &created.VersionID,
		VersionStage: strPtr(StageCurrent),
	})
	assertAwsError(t, err, "ResourceNotFoundException")
}

func TestGetValue_TouchesLastAccessedAtMidnight(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "db/pw", "v0")

	_, err := m.GetValue(ctx, GetInput{SecretID: "db/pw"})
	require.NoError(t, err)

	desc, err := m.Describe(ctx, "db/pw")
	require.NoError(t, err)
	require.NotNil(t, desc.LastAccessedAt)

	midnight := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, midnight, *desc.LastAccessedAt)
}

func TestDeleteRestoreLifecycle(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "db/pw", "hunter2")

	del, err := m.Delete(ctx, DeleteInput{SecretID: "db/pw"})
	require.NoError(t, err)
	assert.Equal(t, testTime.Unix()+30*86400, del.DeletionDate)

	// Value reads fail while scheduled for deletion.
	_, err = m.GetValue(ctx, GetInput{SecretID: "db/pw"})
	assertAwsError(t, err, "ResourceNotFoundException")

	// Describe still works and reports the deletion date.
	desc, err := m.Describe(ctx, "db/pw")
	require.NoError(t, err)
	require.NotNil(t, desc.DeletedAt)
	assert.Equal(t, testTime.Unix(), *desc.DeletedAt)

	// Delete again is idempotent, reporting the original date.
	again, err := m.Delete(ctx, DeleteInput{SecretID: "db/pw"})
	require.NoError(t, err)
	assert.Equal(t, del.DeletionDate, again.DeletionDate)

	_, err = m.Restore(ctx, "db/pw")
	require.NoError(t, err)

	value, err := m.GetValue(ctx, GetInput{SecretID: "db/pw"})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", *value.SecretString)
}

func TestDelete_RecoveryWindowBounds(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "db/pw", "v")

	short := int64(3)
	_, err := m.Delete(ctx, DeleteInput{SecretID: "db/pw", RecoveryWindowInDays: &short})
	assertAwsError(t, err, "InvalidParameterException")

	window := int64(7)
	_, err = m.Delete(ctx, DeleteInput{SecretID: "db/pw", RecoveryWindowInDays: &window, Force: true})
	assertAwsError(t, err, "InvalidParameterCombination")
}

func TestDelete_Force(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "db/pw", "v")

	out, err := m.Delete(ctx, DeleteInput{SecretID: "db/pw", Force: true})
	require.NoError(t, err)
	assert.Equal(t, testTime.Unix(), out.DeletionDate)

	_, err = m.Describe(ctx, "db/pw")
	assertAwsError(t, err, "ResourceNotFoundException")
}

func TestRestore_LiveSecretIsNoOp(t *testing.T) {
	m := setupTestManager(t)

	created := mustCreate(t, m, "db/pw", "v")

	out, err := m.Restore(context.Background(), "db/pw")
	require.NoError(t, err)
	assert.Equal(t, created.ARN, out.ARN)
}

func TestUpdate_DescriptionAndValue(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	created := mustCreate(t, m, "db/pw", "v0")

	out, err := m.Update(ctx, UpdateInput{
		SecretID:     "db/pw",
		Description:  strPtr("rotated nightly"),
		SecretString: strPtr("v1"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.VersionID)
	assert.NotEqual(t, created.VersionID, out.VersionID)

	desc, err := m.Describe(ctx, "db/pw")
	require.NoError(t, err)
	require.NotNil(t, desc.Description)
	assert.Equal(t, "rotated nightly", *desc.Description)
	assert.Equal(t, []string{StageCurrent}, desc.VersionIDsToStage[out.VersionID])
	assert.Equal(t, []string{StagePrevious}, desc.VersionIDsToStage[created.VersionID])
}

func TestUpdate_SoftDeletedFails(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "db/pw", "v")
	_, err := m.Delete(ctx, DeleteInput{SecretID: "db/pw"})
	require.NoError(t, err)

	_, err = m.Update(ctx, UpdateInput{SecretID: "db/pw", Description: strPtr("nope")})
	assertAwsError(t, err, "InvalidRequestException")
}

func TestTags_UpsertNotDuplicate(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "db/pw", "v")

	require.NoError(t, m.TagResource(ctx, "db/pw", []Tag{{Key: "env", Value: "staging"}}))
	require.NoError(t, m.TagResource(ctx, "db/pw", []Tag{{Key: "env", Value: "prod"}}))

	desc, err := m.Describe(ctx, "db/pw")
	require.NoError(t, err)
	assert.Equal(t, []Tag{{Key: "env", Value: "prod"}}, desc.Tags)

	require.NoError(t, m.UntagResource(ctx, "db/pw", []string{"env"}))

	desc, err = m.Describe(ctx, "db/pw")
	require.NoError(t, err)
	assert.Empty(t, desc.Tags)
}

func TestTags_SoftDeletedFails(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	mustCreate(t, m, "db/pw", "v")
	_, err := m.Delete(ctx, DeleteInput{SecretID: "db/pw"})
	require.NoError(t, err)

	err = m.TagResource(ctx, "db/pw", []Tag{{Key: "env", Value: "prod"}})
	assertAwsError(t, err, "InvalidRequestException")

	err = m.UntagResource(ctx, "db/pw", []string{"env"})
	assertAwsError(t, err, "InvalidRequestException")
}
