// Package secrets implements the Secrets Manager entity model: secret
// lifecycle, version staging, tagging, and the AWSCURRENT/AWSPREVIOUS
// rotation invariants.
package secrets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lokerhq/loker/internal/awserr"
	"github.com/lokerhq/loker/internal/clock"
	"github.com/lokerhq/loker/internal/store"
)

// Reserved stage labels managed automatically by the server.
const (
	StageCurrent  = "AWSCURRENT"
	StagePrevious = "AWSPREVIOUS"
)

const (
	defaultRecoveryWindowDays = 30
	minRecoveryWindowDays     = 7
	maxRecoveryWindowDays     = 30
)

// Manager executes secret model operations against the store. Every
// mutating operation runs in a single store transaction.
type Manager struct {
	store     *store.Store
	clock     clock.Clock
	logger    *logrus.Logger
	region    string
	accountID string
}

func NewManager(st *store.Store, clk clock.Clock, logger *logrus.Logger, region, accountID string) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store:     st,
		clock:     clk,
		logger:    logger,
		region:    region,
		accountID: accountID,
	}
}

func (m *Manager) now() int64 {
	return m.clock.Now().Unix()
}

// midnightUTC truncates t to the start of its UTC day, the granularity
// AWS uses for LastAccessedDate.
func midnightUTC(t time.Time) int64 {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC).Unix()
}

// Tag is a key/value pair attached to a secret.
type Tag struct {
	Key   string
	Value string
}

func validateTags(tags []Tag) error {
	for _, tag := range tags {
		if len(tag.Key) == 0 || len(tag.Key) > maxTagKeyLen {
			return awserr.InvalidParameter("Tag keys must be between 1 and 128 characters.")
		}
		if len(tag.Value) > maxTagValueLen {
			return awserr.InvalidParameter("Tag values must be at most 256 characters.")
		}
	}
	return nil
}

// payload carries the exactly-one-of secret material pair.
type payload struct {
	SecretString *string
	SecretBinary []byte
}

func (p payload) present() bool {
	return p.SecretString != nil || p.SecretBinary != nil
}

func (p payload) validate() error {
	if p.SecretString != nil && p.SecretBinary != nil {
		return awserr.InvalidParameter("You must provide either SecretString or SecretBinary, not both.")
	}
	if !p.present() {
		return awserr.InvalidParameter("You must provide either SecretString or SecretBinary.")
	}
	if p.SecretString != nil && (len(*p.SecretString) == 0 || len(*p.SecretString) > maxSecretLen) {
		return awserr.InvalidParameter("SecretString must be between 1 and 65536 characters.")
	}
	if p.SecretBinary != nil && (len(p.SecretBinary) == 0 || len(p.SecretBinary) > maxSecretLen) {
		return awserr.InvalidParameter("SecretBinary must be between 1 and 65536 bytes.")
	}
	return nil
}

func (p payload) equal(v *store.Version) bool {
	switch {
	case p.SecretString != nil:
		return v.SecretString != nil && *v.SecretString == *p.SecretString
	case p.SecretBinary != nil:
		return v.SecretBinary != nil && string(v.SecretBinary) == string(p.SecretBinary)
	default:
		return false
	}
}

// resolveVersionID validates an optional client request token, minting a
// fresh UUIDv4 when absent.
func resolveVersionID(token *string) (string, error) {
	if token == nil {
		return uuid.NewString(), nil
	}
	if len(*token) < minTokenLen || len(*token) > maxTokenLen {
		return "", awserr.InvalidParameter("ClientRequestToken must be between 32 and 64 characters.")
	}
	return *token, nil
}

// CreateInput are the CreateSecret parameters.
type CreateInput struct {
	Name               string
	Description        *string
	ClientRequestToken *string
	SecretString       *string
	SecretBinary       []byte
	Tags               []Tag
}

// CreateOutput identifies the created secret and its initial version.
type CreateOutput struct {
	ARN       string
	Name      string
	VersionID string
}

// Create mints a new secret with one version staged AWSCURRENT.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*CreateOutput, error) {
	if !validSecretName(in.Name) {
		return nil, awserr.InvalidParameter("The secret name can contain only alphanumeric characters and /_+=.@- up to 512 characters.")
	}
	if in.Description != nil && len(*in.Description) > maxDescriptionLen {
		return nil, awserr.InvalidParameter("Description must be at most 2048 characters.")
	}
	p := payload{SecretString: in.SecretString, SecretBinary: in.SecretBinary}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := validateTags(in.Tags); err != nil {
		return nil, err
	}

	versionID, err := resolveVersionID(in.ClientRequestToken)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.GetSecret(ctx, in.Name)
	switch {
	case err == nil && existing.Deleted():
		return nil, awserr.InvalidRequest("You can't create this secret because a secret with this name is already scheduled for deletion.")
	case err == nil:
		return nil, awserr.ResourceExists("The operation failed because the secret " + in.Name + " already exists.")
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	arn, err := mintARN(m.region, m.accountID, in.Name)
	if err != nil {
		return nil, err
	}

	now := m.now()
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertSecret(ctx, &store.Secret{
			ARN:         arn,
			Name:        in.Name,
			Description: in.Description,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if err := tx.InsertVersion(ctx, &store.Version{
			SecretARN:    arn,
			VersionID:    versionID,
			SecretString: in.SecretString,
			SecretBinary: in.SecretBinary,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		if err := tx.AddStage(ctx, arn, versionID, StageCurrent, now); err != nil {
			return err
		}
		for _, tag := range in.Tags {
			if err := tx.UpsertTag(ctx, arn, tag.Key, tag.Value, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, awserr.ResourceExists("The operation failed because the secret " + in.Name + " already exists.")
		}
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"secret_name": in.Name,
		"version_id":  versionID,
	}).Info("Created secret")

	return &CreateOutput{ARN: arn, Name: in.Name, VersionID: versionID}, nil
}

// PutInput are the PutSecretValue parameters.
type PutInput struct {
	SecretID           string
	ClientRequestToken *string
	SecretString       *string
	SecretBinary       []byte
	VersionStages      []string
}

// PutOutput identifies the stored version and its stages.
type PutOutput struct {
	ARN           string
	Name          string
	VersionID     string
	VersionStages []string
}

// PutValue appends a version to an existing secret and moves the
// requested stage labels onto it. When AWSCURRENT moves, the version
// that held it receives AWSPREVIOUS.
func (m *Manager) PutValue(ctx context.Context, in PutInput) (*PutOutput, error) {
	p := payload{SecretString: in.SecretString, SecretBinary: in.SecretBinary}
	if err := p.validate(); err != nil {
		return nil, err
	}

	stages := in.VersionStages
	if stages == nil {
		stages = []string{StageCurrent}
	}
	if len(stages) == 0 {
		return nil, awserr.InvalidRequest("VersionStages must contain at least one stage label.")
	}

	versionID, err := resolveVersionID(in.ClientRequestToken)
	if err != nil {
		return nil, err
	}

	secret, err := m.getLiveSecret(ctx, in.SecretID)
	if err != nil {
		return nil, err
	}

	// Idempotency on the client request token: an identical payload is a
	// no-op returning the existing version, a different one is a conflict.
	if in.ClientRequestToken != nil {
		existing, err := m.store.GetVersion(ctx, secret.ARN, versionID)
		if err == nil {
			if !p.equal(existing) {
				return nil, awserr.ResourceExists("A version with this ClientRequestToken already exists with different secret material.")
			}
			return &PutOutput{
				ARN:           secret.ARN,
				Name:          secret.Name,
				VersionID:     existing.VersionID,
				VersionStages: existing.Stages,
			}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	now := m.now()
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertVersion(ctx, &store.Version{
			SecretARN:    secret.ARN,
			VersionID:    versionID,
			SecretString: in.SecretString,
			SecretBinary: in.SecretBinary,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		if err := moveStages(ctx, tx, secret.ARN, versionID, stages, now); err != nil {
			return err
		}
		return tx.TouchSecret(ctx, secret.ARN, now)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, awserr.ResourceExists("A version with this ClientRequestToken already exists with different secret material.")
		}
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"secret_name": secret.Name,
		"version_id":  versionID,
		"stages":      stages,
	}).Info("Stored secret value")

	return &PutOutput{
		ARN:           secret.ARN,
		Name:          secret.Name,
		VersionID:     versionID,
		VersionStages: stages,
	}, nil
}

// moveStages detaches each label from its current holder and attaches it
// to versionID. Moving AWSCURRENT hands AWSPREVIOUS to the displaced
// version; this is the only automatic stage transition.
func moveStages(ctx context.Context, tx *store.Tx, arn, versionID string, stages []string, now int64) error {
	for _, stage := range stages {
		holder, err := tx.RemoveStageAny(ctx, arn, stage)
		if err != nil {
			return err
		}

		if stage == StageCurrent && holder != "" && holder != versionID {
			if _, err := tx.RemoveStageAny(ctx, arn, StagePrevious); err != nil {
				return err
			}
			if err := tx.AddStage(ctx, arn, holder, StagePrevious, now); err != nil {
				return err
			}
		}

		if err := tx.AddStage(ctx, arn, versionID, stage, now); err != nil {
			return err
		}
	}
	return nil
}

// getLiveSecret resolves a name or ARN to a secret that is not
// soft-deleted.
func (m *Manager) getLiveSecret(ctx context.Context, secretID string) (*store.Secret, error) {
	secret, err := m.store.GetSecret(ctx, secretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, awserr.ResourceNotFound()
		}
		return nil, err
	}
	if secret.Deleted() {
		return nil, awserr.ResourceNotFound()
	}
	return secret, nil
}

// GetInput are the GetSecretValue parameters.
type GetInput struct {
	SecretID     string
	VersionID    *string
	VersionStage *string
}

// Value is retrieved secret material.
type Value struct {
	ARN           string
	Name          string
	VersionID     string
	SecretString  *string
	SecretBinary  []byte
	VersionStages []string
	CreatedAt     int64
}

// GetValue retrieves secret material by version id, stage, or both
// (which must agree). Default stage is AWSCURRENT.
func (m *Manager) GetValue(ctx context.Context, in GetInput) (*Value, error) {
	secret, err := m.getLiveSecret(ctx, in.SecretID)
	if err != nil {
		return nil, err
	}

	var version *store.Version
	switch {
	case in.VersionID != nil:
		version, err = m.store.GetVersion(ctx, secret.ARN, *in.VersionID)
		if err == nil && in.VersionStage != nil && !containsStage(version.Stages, *in.VersionStage) {
			return nil, awserr.ResourceNotFound()
		}
	case in.VersionStage != nil:
		version, err = m.store.GetVersionByStage(ctx, secret.ARN, *in.VersionStage)
	default:
		version, err = m.store.GetVersionByStage(ctx, secret.ARN, StageCurrent)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, awserr.ResourceNotFound()
		}
		return nil, err
	}

	if err := m.store.TouchVersionAccess(ctx, secret.ARN, version.VersionID, midnightUTC(m.clock.Now())); err != nil {
		return nil, err
	}

	return &Value{
		ARN:           secret.ARN,
		Name:          secret.Name,
		VersionID:     version.VersionID,
		SecretString:  version.SecretString,
		SecretBinary:  version.SecretBinary,
		VersionStages: version.Stages,
		CreatedAt:     version.CreatedAt,
	}, nil
}

func containsStage(stages []string, label string) bool {
	for _, s := range stages {
		if s == label {
			return true
		}
	}
	return false
}

// Description is the DescribeSecret result: all metadata, no material.
type Description struct {
	ARN               string
	Name              string
	Description       *string
	CreatedAt         int64
	LastChangedAt     *int64
	LastAccessedAt    *int64
	DeletedAt         *int64
	ScheduledDeleteAt *int64
	VersionIDsToStage map[string][]string
	Tags              []Tag
}

// Describe returns secret metadata. Soft-deleted secrets remain
// describable, reporting their deletion dates.
func (m *Manager) Describe(ctx context.Context, secretID string) (*Description, error) {
	secret, err := m.store.GetSecret(ctx, secretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, awserr.ResourceNotFound()
		}
		return nil, err
	}

	stages, err := m.store.AllStages(ctx, secret.ARN)
	if err != nil {
		return nil, err
	}

	storeTags, err := m.store.ListTags(ctx, secret.ARN)
	if err != nil {
		return nil, err
	}
	tags := make([]Tag, 0, len(storeTags))
	for _, t := range storeTags {
		tags = append(tags, Tag{Key: t.Key, Value: t.Value})
	}

	lastAccessed, err := m.store.LastAccessed(ctx, secret.ARN)
	if err != nil {
		return nil, err
	}

	return &Description{
		ARN:               secret.ARN,
		Name:              secret.Name,
		Description:       secret.Description,
		CreatedAt:         secret.CreatedAt,
		LastChangedAt:     secret.UpdatedAt,
		LastAccessedAt:    lastAccessed,
		DeletedAt:         secret.DeletedAt,
		ScheduledDeleteAt: secret.ScheduledDeleteAt,
		VersionIDsToStage: stages,
		Tags:              tags,
	}, nil
}

// UpdateInput are the UpdateSecret parameters.
type UpdateInput struct {
	SecretID           string
	Description        *string
	ClientRequestToken *string
	SecretString       *string
	SecretBinary       []byte
}

// UpdateOutput identifies the secret and, when material was supplied,
// the new version.
type UpdateOutput struct {
	ARN       string
	Name      string
	VersionID string
}

// Update changes the description and/or stores a new AWSCURRENT version.
func (m *Manager) Update(ctx context.Context, in UpdateInput) (*UpdateOutput, error) {
	secret, err := m.store.GetSecret(ctx, in.SecretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, awserr.ResourceNotFound()
		}
		return nil, err
	}
	if secret.Deleted() {
		return nil, awserr.InvalidRequest("You can't perform this operation on a secret that's scheduled for deletion.")
	}

	if in.Description != nil && len(*in.Description) > maxDescriptionLen {
		return nil, awserr.InvalidParameter("Description must be at most 2048 characters.")
	}

	out := &UpdateOutput{ARN: secret.ARN, Name: secret.Name}

	p := payload{SecretString: in.SecretString, SecretBinary: in.SecretBinary}
	if p.present() {
		put, err := m.PutValue(ctx, PutInput{
			SecretID:           in.SecretID,
			ClientRequestToken: in.ClientRequestToken,
			SecretString:       in.SecretString,
			SecretBinary:       in.SecretBinary,
		})
		if err != nil {
			return nil, err
		}
		out.VersionID = put.VersionID
	}

	if in.Description != nil {
		if err := m.store.UpdateSecretDescription(ctx, secret.ARN, *in.Description, m.now()); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// DeleteInput are the DeleteSecret parameters.
type DeleteInput struct {
	SecretID             string
	RecoveryWindowInDays *int64
	Force                bool
}

// DeleteOutput reports when the secret is (scheduled to be) gone.
type DeleteOutput struct {
	ARN          string
	Name         string
	DeletionDate int64
}

// Delete soft-deletes a secret with a recovery window, or hard-deletes
// it when Force is set. Force and an explicit window are incompatible.
func (m *Manager) Delete(ctx context.Context, in DeleteInput) (*DeleteOutput, error) {
	if in.Force && in.RecoveryWindowInDays != nil {
		return nil, awserr.InvalidParameterCombination("You can't use ForceDeleteWithoutRecovery in conjunction with RecoveryWindowInDays.")
	}

	secret, err := m.store.GetSecret(ctx, in.SecretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, awserr.ResourceNotFound()
		}
		return nil, err
	}

	now := m.now()

	if in.Force {
		err := m.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.DeleteSecret(ctx, secret.ARN)
		})
		if err != nil {
			return nil, err
		}

		m.logger.WithField("secret_name", secret.Name).Info("Force deleted secret")
		return &DeleteOutput{ARN: secret.ARN, Name: secret.Name, DeletionDate: now}, nil
	}

	// Already scheduled: report the existing deletion date.
	if secret.Deleted() {
		return &DeleteOutput{ARN: secret.ARN, Name: secret.Name, DeletionDate: *secret.ScheduledDeleteAt}, nil
	}

	days := int64(defaultRecoveryWindowDays)
	if in.RecoveryWindowInDays != nil {
		days = *in.RecoveryWindowInDays
		if days < minRecoveryWindowDays || days > maxRecoveryWindowDays {
			return nil, awserr.InvalidParameter("RecoveryWindowInDays must be a number between 7 and 30.")
		}
	}

	scheduledAt := now + days*86400
	if err := m.store.SoftDeleteSecret(ctx, secret.ARN, now, scheduledAt); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"secret_name":   secret.Name,
		"deletion_date": scheduledAt,
	}).Info("Scheduled secret for deletion")

	return &DeleteOutput{ARN: secret.ARN, Name: secret.Name, DeletionDate: scheduledAt}, nil
}

// RestoreOutput identifies the restored secret.
type RestoreOutput struct {
	ARN  string
	Name string
}

// Restore clears the soft-delete marks. Restoring a live secret is a
// no-op success.
func (m *Manager) Restore(ctx context.Context, secretID string) (*RestoreOutput, error) {
	secret, err := m.store.GetSecret(ctx, secretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, awserr.ResourceNotFound()
		}
		return nil, err
	}

	if secret.Deleted() {
		if err := m.store.RestoreSecret(ctx, secret.ARN); err != nil {
			return nil, err
		}
		m.logger.WithField("secret_name", secret.Name).Info("Restored secret")
	}

	return &RestoreOutput{ARN: secret.ARN, Name: secret.Name}, nil
}

// TagResource upserts tags on a live secret.
func (m *Manager) TagResource(ctx context.Context, secretID string, tags []Tag) error {
	if err := validateTags(tags); err != nil {
		return err
	}

	secret, err := m.store.GetSecret(ctx, secretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return awserr.ResourceNotFound()
		}
		return err
	}
	if secret.Deleted() {
		return awserr.InvalidRequest("You can't perform this operation on a secret that's scheduled for deletion.")
	}

	now := m.now()
	return m.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, tag := range tags {
			if err := tx.UpsertTag(ctx, secret.ARN, tag.Key, tag.Value, now); err != nil {
				return err
			}
		}
		return tx.TouchSecret(ctx, secret.ARN, now)
	})
}

// UntagResource removes tags by key from a live secret.
func (m *Manager) UntagResource(ctx context.Context, secretID string, keys []string) error {
	secret, err := m.store.GetSecret(ctx, secretID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return awserr.ResourceNotFound()
		}
		return err
	}
	if secret.Deleted() {
		return awserr.InvalidRequest("You can't perform this operation on a secret that's scheduled for deletion.")
	}

	now := m.now()
	return m.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, key := range keys {
			if err := tx.DeleteTag(ctx, secret.ARN, key); err != nil {
				return err
			}
		}
		return tx.TouchSecret(ctx, secret.ARN, now)
	})
}
