// Package api dispatches secretsmanager protocol requests: it parses the
// X-Amz-Target header, decodes the JSON body for the named action, runs
// the operation and renders the response or error envelope.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lokerhq/loker/internal/awserr"
	"github.com/lokerhq/loker/internal/secrets"
)

const targetPrefix = "secretsmanager."

// Handler routes secretsmanager actions to the secret model.
type Handler struct {
	manager *secrets.Manager
	logger  *logrus.Logger
}

func NewHandler(manager *secrets.Manager, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{manager: manager, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Amz-Target")
	action, ok := strings.CutPrefix(target, targetPrefix)
	if !ok || action == "" {
		awserr.Write(w, awserr.InvalidAction(target))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		awserr.Write(w, awserr.MalformedRequest())
		return
	}

	response, err := h.dispatch(r.Context(), action, body)
	if err != nil {
		aerr := awserr.From(err)
		if aerr.Status >= http.StatusInternalServerError {
			h.logger.WithError(err).WithField("action", action).Error("Request failed")
		}
		awserr.Write(w, err)
		return
	}

	writeJSON(w, response)
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		awserr.Write(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// decode unmarshals body into T, rejecting invalid JSON with the AWS
// malformed-request error. An empty body decodes to the zero request.
func decode[T any](body []byte) (*T, error) {
	var v T
	if len(bytes.TrimSpace(body)) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, awserr.MalformedRequest()
	}
	return &v, nil
}

func (h *Handler) dispatch(ctx context.Context, action string, body []byte) (any, error) {
	switch action {
	case "CreateSecret":
		return h.createSecret(ctx, body)
	case "PutSecretValue":
		return h.putSecretValue(ctx, body)
	case "GetSecretValue":
		return h.getSecretValue(ctx, body)
	case "DescribeSecret":
		return h.describeSecret(ctx, body)
	case "UpdateSecret":
		return h.updateSecret(ctx, body)
	case "DeleteSecret":
		return h.deleteSecret(ctx, body)
	case "RestoreSecret":
		return h.restoreSecret(ctx, body)
	case "TagResource":
		return h.tagResource(ctx, body)
	case "UntagResource":
		return h.untagResource(ctx, body)
	case "ListSecrets":
		return h.listSecrets(ctx, body)
	case "ListSecretVersionIds":
		return h.listSecretVersionIds(ctx, body)
	case "BatchGetSecretValue":
		return h.batchGetSecretValue(ctx, body)
	case "UpdateSecretVersionStage":
		return h.updateSecretVersionStage(ctx, body)
	case "GetRandomPassword":
		return h.getRandomPassword(body)
	default:
		return nil, awserr.InvalidAction(targetPrefix + action)
	}
}

func toModelTags(tags []Tag) []secrets.Tag {
	out := make([]secrets.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, secrets.Tag{Key: t.Key, Value: t.Value})
	}
	return out
}

func toWireTags(tags []secrets.Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, Tag{Key: t.Key, Value: t.Value})
	}
	return out
}

func (h *Handler) createSecret(ctx context.Context, body []byte) (any, error) {
	req, err := decode[CreateSecretRequest](body)
	if err != nil {
		return nil, err
	}

	out, err := h.manager.Create(ctx, secrets.CreateInput{
		Name:               req.Name,
		Description:        req.Description,
		ClientRequestToken: req.ClientRequestToken,
		SecretString:       req.SecretString,
		SecretBinary:       req.SecretBinary,
		Tags:               toModelTags(req.Tags),
	})
	if err != nil {
		return nil, err
	}

	return CreateSecretResponse{ARN: out.ARN, Name: out.Name, VersionID: out.VersionID}, nil
}

func (h *Handler) putSecretValue(ctx context.Context, body []byte) (any, error) {
	req, err := decode[PutSecretValueRequest](body)
	if err != nil {
		return nil, err
	}

	out, err := h.manager.PutValue(ctx, secrets.PutInput{
		SecretID:           req.SecretID,
		ClientRequestToken: req.ClientRequestToken,
		SecretString:       req.SecretString,
		SecretBinary:       req.SecretBinary,
		VersionStages:      req.VersionStages,
	})
	if err != nil {
		return nil, err
	}

	return PutSecretValueResponse{
		ARN:           out.ARN,
		Name:          out.Name,
		VersionID:     out.VersionID,
		VersionStages: out.VersionStages,
	}, nil
}

func toWireValue(v *secrets.Value) GetSecretValueResponse {
	return GetSecretValueResponse{
		ARN:           v.ARN,
		Name:          v.Name,
		VersionID:     v.VersionID,
		SecretString:  v.SecretString,
		SecretBinary:  v.SecretBinary,
		VersionStages: v.VersionStages,
		CreatedDate:   epochSeconds(v.CreatedAt),
	}
}

func (h *Handler) getSecretValue(ctx context.Context, body []byte) (any, error) {
	req, err := decode[GetSecretValueRequest](body)
	if err != nil {
		return nil, err
	}

	value, err := h.manager.GetValue(ctx, secrets.GetInput{
		SecretID:     req.SecretID,
		VersionID:    req.VersionID,
		VersionStage: req.VersionStage,
	})
	if err != nil {
		return nil, err
	}

	return toWireValue(value), nil
}

func (h *Handler) describeSecret(ctx context.Context, body []byte) (any, error) {
	req, err := decode[DescribeSecretRequest](body)
	if err != nil {
		return nil, err
	}

	desc, err := h.manager.Describe(ctx, req.SecretID)
	if err != nil {
		return nil, err
	}

	return DescribeSecretResponse{
		ARN:                desc.ARN,
		Name:               desc.Name,
		Description:        desc.Description,
		CreatedDate:        epochSeconds(desc.CreatedAt),
		LastChangedDate:    optEpochSeconds(desc.LastChangedAt),
		LastAccessedDate:   optEpochSeconds(desc.LastAccessedAt),
		DeletedDate:        optEpochSeconds(desc.DeletedAt),
		VersionIDsToStages: desc.VersionIDsToStage,
		Tags:               toWireTags(desc.Tags),
	}, nil
}

func (h *Handler) updateSecret(ctx context.Context, body []byte) (any, error) {
	req, err := decode[UpdateSecretRequest](body)
	if err != nil {
		return nil, err
	}

	out, err := h.manager.Update(ctx, secrets.UpdateInput{
		SecretID:           req.SecretID,
		Description:        req.Description,
		ClientRequestToken: req.ClientRequestToken,
		SecretString:       req.SecretString,
		SecretBinary:       req.SecretBinary,
	})
	if err != nil {
		return nil, err
	}

	return UpdateSecretResponse{ARN: out.ARN, Name: out.Name, VersionID: out.VersionID}, nil
}

func (h *Handler) deleteSecret(ctx context.Context, body []byte) (any, error) {
	req, err := decode[DeleteSecretRequest](body)
	if err != nil {
		return nil, err
	}

	out, err := h.manager.Delete(ctx, secrets.DeleteInput{
		SecretID:             req.SecretID,
		RecoveryWindowInDays: req.RecoveryWindowInDays,
		Force:                req.ForceDeleteWithoutRecovery,
	})
	if err != nil {
		return nil, err
	}

	return DeleteSecretResponse{
		ARN:          out.ARN,
		Name:         out.Name,
		DeletionDate: epochSeconds(out.DeletionDate),
	}, nil
}

func (h *Handler) restoreSecret(ctx context.Context, body []byte) (any, error) {
	req, err := decode[RestoreSecretRequest](body)
	if err != nil {
		return nil, err
	}

	out, err := h.manager.Restore(ctx, req.SecretID)
	if err != nil {
		return nil, err
	}

	return RestoreSecretResponse{ARN: out.ARN, Name: out.Name}, nil
}

func (h *Handler) tagResource(ctx context.Context, body []byte) (any, error) {
	req, err := decode[TagResourceRequest](body)
	if err != nil {
		return nil, err
	}

	if err := h.manager.TagResource(ctx, req.SecretID, toModelTags(req.Tags)); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (h *Handler) untagResource(ctx context.Context, body []byte) (any, error) {
	req, err := decode[UntagResourceRequest](body)
	if err != nil {
		return nil, err
	}

	if err := h.manager.UntagResource(ctx, req.SecretID, req.TagKeys); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (h *Handler) listSecrets(ctx context.Context, body []byte) (any, error) {
	req, err := decode[ListSecretsRequest](body)
	if err != nil {
		return nil, err
	}

	ascending := false
	if req.SortOrder != nil {
		switch *req.SortOrder {
		case "asc":
			ascending = true
		case "desc":
		default:
			return nil, awserr.InvalidParameter("SortOrder must be asc or desc.")
		}
	}

	filters := make([]secrets.Filter, 0, len(req.Filters))
	for _, f := range req.Filters {
		filters = append(filters, secrets.Filter{Key: f.Key, Values: f.Values})
	}

	out, err := h.manager.List(ctx, secrets.ListInput{
		Filters:                filters,
		IncludePlannedDeletion: req.IncludePlannedDeletion,
		MaxResults:             req.MaxResults,
		NextToken:              req.NextToken,
		SortAscending:          ascending,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]SecretListEntry, 0, len(out.Secrets))
	for _, s := range out.Secrets {
		entries = append(entries, SecretListEntry{
			ARN:                    s.ARN,
			Name:                   s.Name,
			Description:            s.Description,
			CreatedDate:            epochSeconds(s.CreatedAt),
			LastChangedDate:        optEpochSeconds(s.LastChangedAt),
			LastAccessedDate:       optEpochSeconds(s.LastAccessedAt),
			DeletedDate:            optEpochSeconds(s.DeletedAt),
			SecretVersionsToStages: s.VersionIDsToStage,
			Tags:                   toWireTags(s.Tags),
		})
	}

	return ListSecretsResponse{SecretList: entries, NextToken: out.NextToken}, nil
}

func (h *Handler) listSecretVersionIds(ctx context.Context, body []byte) (any, error) {
	req, err := decode[ListSecretVersionIdsRequest](body)
	if err != nil {
		return nil, err
	}

	out, err := h.manager.ListVersionIds(ctx, secrets.VersionsInput{
		SecretID:          req.SecretID,
		IncludeDeprecated: req.IncludeDeprecated,
		MaxResults:        req.MaxResults,
		NextToken:         req.NextToken,
	})
	if err != nil {
		return nil, err
	}

	versions := make([]SecretVersionEntry, 0, len(out.Versions))
	for _, v := range out.Versions {
		versions = append(versions, SecretVersionEntry{
			VersionID:        v.VersionID,
			CreatedDate:      epochSeconds(v.CreatedAt),
			LastAccessedDate: optEpochSeconds(v.LastAccessedAt),
			VersionStages:    v.Stages,
		})
	}

	return ListSecretVersionIdsResponse{
		ARN:       out.ARN,
		Name:      out.Name,
		Versions:  versions,
		NextToken: out.NextToken,
	}, nil
}

func (h *Handler) batchGetSecretValue(ctx context.Context, body []byte) (any, error) {
	req, err := decode[BatchGetSecretValueRequest](body)
	if err != nil {
		return nil, err
	}

	out, err := h.manager.BatchGetValue(ctx, req.SecretIDList)
	if err != nil {
		return nil, err
	}

	resp := BatchGetSecretValueResponse{
		SecretValues: make([]GetSecretValueResponse, 0, len(out.Values)),
		Errors:       make([]BatchGetSecretValueError, 0, len(out.Errors)),
	}
	for i := range out.Values {
		resp.SecretValues = append(resp.SecretValues, toWireValue(&out.Values[i]))
	}
	for _, e := range out.Errors {
		resp.Errors = append(resp.Errors, BatchGetSecretValueError{
			SecretID:  e.SecretID,
			ErrorCode: e.ErrorCode,
			Message:   e.Message,
		})
	}

	return resp, nil
}

func (h *Handler) updateSecretVersionStage(ctx context.Context, body []byte) (any, error) {
	req, err := decode[UpdateSecretVersionStageRequest](body)
	if err != nil {
		return nil, err
	}

	out, err := h.manager.UpdateVersionStage(ctx, secrets.StageInput{
		SecretID:            req.SecretID,
		VersionStage:        req.VersionStage,
		MoveToVersionID:     req.MoveToVersionID,
		RemoveFromVersionID: req.RemoveFromVersionID,
	})
	if err != nil {
		return nil, err
	}

	return UpdateSecretVersionStageResponse{ARN: out.ARN, Name: out.Name}, nil
}

func (h *Handler) getRandomPassword(body []byte) (any, error) {
	req, err := decode[GetRandomPasswordRequest](body)
	if err != nil {
		return nil, err
	}

	password, err := secrets.GeneratePassword(secrets.PasswordOptions{
		ExcludeCharacters:       req.ExcludeCharacters,
		ExcludeLowercase:        req.ExcludeLowercase,
		ExcludeNumbers:          req.ExcludeNumbers,
		ExcludePunctuation:      req.ExcludePunctuation,
		ExcludeUppercase:        req.ExcludeUppercase,
		IncludeSpace:            req.IncludeSpace,
		PasswordLength:          req.PasswordLength,
		RequireEachIncludedType: req.RequireEachIncludedType,
	})
	if err != nil {
		return nil, err
	}

	return GetRandomPasswordResponse{RandomPassword: password}, nil
}
