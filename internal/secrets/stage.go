package secrets

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/lokerhq/loker/internal/awserr"
	"github.com/lokerhq/loker/internal/store"
)

// StageInput are the UpdateSecretVersionStage parameters.
type StageInput struct {
	SecretID            string
	VersionStage        string
	MoveToVersionID     *string
	RemoveFromVersionID *string
}

// StageOutput identifies the secret whose staging changed.
type StageOutput struct {
	ARN  string
	Name string
}

// UpdateVersionStage moves a stage label between versions and/or removes
// it. Moving AWSCURRENT triggers the same automatic AWSPREVIOUS handoff
// as PutSecretValue; AWSCURRENT can never be removed outright.
func (m *Manager) UpdateVersionStage(ctx context.Context, in StageInput) (*StageOutput, error) {
	if in.VersionStage == "" {
		return nil, awserr.InvalidParameter("VersionStage is required.")
	}
	if in.MoveToVersionID == nil && in.RemoveFromVersionID == nil {
		return nil, awserr.InvalidParameter("You must provide MoveToVersionId, RemoveFromVersionId, or both.")
	}

	secret, err := m.getLiveSecret(ctx, in.SecretID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		if in.RemoveFromVersionID != nil {
			from, err := tx.GetVersion(ctx, secret.ARN, *in.RemoveFromVersionID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return awserr.ResourceNotFound()
				}
				return err
			}
			if !containsStage(from.Stages, in.VersionStage) {
				return awserr.InvalidParameter("The version " + from.VersionID + " is not attached to the staging label " + in.VersionStage + ".")
			}
		}

		if in.MoveToVersionID == nil {
			if in.VersionStage == StageCurrent {
				return awserr.InvalidParameter("You can't remove the AWSCURRENT staging label without moving it to another version.")
			}
			return tx.RemoveStage(ctx, secret.ARN, *in.RemoveFromVersionID, in.VersionStage)
		}

		if _, err := tx.GetVersion(ctx, secret.ARN, *in.MoveToVersionID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return awserr.ResourceNotFound()
			}
			return err
		}

		if err := moveStages(ctx, tx, secret.ARN, *in.MoveToVersionID, []string{in.VersionStage}, now); err != nil {
			return err
		}
		return tx.TouchSecret(ctx, secret.ARN, now)
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"secret_name": secret.Name,
		"stage":       in.VersionStage,
	}).Info("Updated secret version stage")

	return &StageOutput{ARN: secret.ARN, Name: secret.Name}, nil
}
