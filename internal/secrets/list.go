package secrets

import (
	"context"
	"errors"

	"github.com/lokerhq/loker/internal/awserr"
	"github.com/lokerhq/loker/internal/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 100
	maxFilterValues = 10
	maxBatchSize    = 20
)

// Filter narrows ListSecrets results; values are prefix matches.
type Filter struct {
	Key    string
	Values []string
}

// Filter keys AWS accepts but that never match anything here: Loker has
// no replication regions and no service-owned secrets.
var inertFilterKeys = map[string]bool{
	"primary-region": true,
	"owning-service": true,
}

var storeFilterKeys = map[string]bool{
	store.FilterName:        true,
	store.FilterDescription: true,
	store.FilterTagKey:      true,
	store.FilterTagValue:    true,
	store.FilterAll:         true,
}

// translateFilters validates filters and converts them to store form.
// The bool result is true when an inert filter key guarantees an empty
// result set.
func translateFilters(filters []Filter) ([]store.Filter, bool, error) {
	var out []store.Filter
	for _, f := range filters {
		if len(f.Values) == 0 || len(f.Values) > maxFilterValues {
			return nil, false, awserr.InvalidParameter("Filter values must contain between 1 and 10 entries.")
		}
		switch {
		case storeFilterKeys[f.Key]:
			out = append(out, store.Filter{Key: f.Key, Values: f.Values})
		case inertFilterKeys[f.Key]:
			return nil, true, nil
		default:
			return nil, false, awserr.InvalidParameter("Invalid filter key: " + f.Key + ".")
		}
	}
	return out, false, nil
}

// ListInput are the ListSecrets parameters.
type ListInput struct {
	Filters                []Filter
	IncludePlannedDeletion bool
	MaxResults             *int64
	NextToken              *string
	SortAscending          bool
}

// ListEntry is one secret in a ListSecrets page.
type ListEntry struct {
	ARN               string
	Name              string
	Description       *string
	CreatedAt         int64
	LastChangedAt     *int64
	LastAccessedAt    *int64
	DeletedAt         *int64
	VersionIDsToStage map[string][]string
	Tags              []Tag
}

// ListOutput is a page of secrets plus the cursor for the next one.
type ListOutput struct {
	Secrets   []ListEntry
	NextToken *string
}

// List returns a page of secrets, newest first unless SortAscending.
func (m *Manager) List(ctx context.Context, in ListInput) (*ListOutput, error) {
	token, err := m.resolvePageToken(in.NextToken, in.MaxResults)
	if err != nil {
		return nil, err
	}

	filters, empty, err := translateFilters(in.Filters)
	if err != nil {
		return nil, err
	}
	if empty {
		return &ListOutput{Secrets: []ListEntry{}}, nil
	}

	lq := store.ListQuery{
		Filters:        filters,
		IncludeDeleted: in.IncludePlannedDeletion,
		Limit:          token.size,
		Offset:         token.offset(),
		Ascending:      in.SortAscending,
	}

	rows, err := m.store.ListSecrets(ctx, lq)
	if err != nil {
		return nil, err
	}
	total, err := m.store.CountSecrets(ctx, lq)
	if err != nil {
		return nil, err
	}

	entries := make([]ListEntry, 0, len(rows))
	for _, s := range rows {
		stages, err := m.store.AllStages(ctx, s.ARN)
		if err != nil {
			return nil, err
		}
		storeTags, err := m.store.ListTags(ctx, s.ARN)
		if err != nil {
			return nil, err
		}
		tags := make([]Tag, 0, len(storeTags))
		for _, t := range storeTags {
			tags = append(tags, Tag{Key: t.Key, Value: t.Value})
		}
		lastAccessed, err := m.store.LastAccessed(ctx, s.ARN)
		if err != nil {
			return nil, err
		}

		entries = append(entries, ListEntry{
			ARN:               s.ARN,
			Name:              s.Name,
			Description:       s.Description,
			CreatedAt:         s.CreatedAt,
			LastChangedAt:     s.UpdatedAt,
			LastAccessedAt:    lastAccessed,
			DeletedAt:         s.DeletedAt,
			VersionIDsToStage: stages,
			Tags:              tags,
		})
	}

	return &ListOutput{Secrets: entries, NextToken: token.next(total)}, nil
}

func (m *Manager) resolvePageToken(nextToken *string, maxResults *int64) (pageToken, error) {
	size := int64(defaultPageSize)
	if maxResults != nil {
		size = *maxResults
		if size < 1 || size > maxPageSize {
			return pageToken{}, awserr.InvalidParameter("MaxResults must be a number between 1 and 100.")
		}
	}

	if nextToken == nil {
		return pageToken{size: size}, nil
	}
	token, err := parsePageToken(*nextToken)
	if err != nil {
		return pageToken{}, err
	}
	return token, nil
}

// VersionsInput are the ListSecretVersionIds parameters.
type VersionsInput struct {
	SecretID          string
	IncludeDeprecated bool
	MaxResults        *int64
	NextToken         *string
}

// VersionEntry is one version in a ListSecretVersionIds page.
type VersionEntry struct {
	VersionID      string
	CreatedAt      int64
	LastAccessedAt *int64
	Stages         []string
}

// VersionsOutput is a page of version ids.
type VersionsOutput struct {
	ARN       string
	Name      string
	Versions  []VersionEntry
	NextToken *string
}

// ListVersionIds returns a page of a secret's versions, newest first.
// Versions carrying no stage label are deprecated and hidden unless
// IncludeDeprecated.
func (m *Manager) ListVersionIds(ctx context.Context, in VersionsInput) (*VersionsOutput, error) {
	token, err := m.resolvePageToken(in.NextToken, in.MaxResults)
	if err != nil {
		return nil, err
	}

	secret, err := m.getLiveSecret(ctx, in.SecretID)
	if err != nil {
		return nil, err
	}

	versions, err := m.store.ListVersions(ctx, secret.ARN, in.IncludeDeprecated, token.size, token.offset())
	if err != nil {
		return nil, err
	}
	total, err := m.store.CountVersions(ctx, secret.ARN, in.IncludeDeprecated)
	if err != nil {
		return nil, err
	}

	entries := make([]VersionEntry, 0, len(versions))
	for _, v := range versions {
		entries = append(entries, VersionEntry{
			VersionID:      v.VersionID,
			CreatedAt:      v.CreatedAt,
			LastAccessedAt: v.LastAccessedAt,
			Stages:         v.Stages,
		})
	}

	return &VersionsOutput{
		ARN:       secret.ARN,
		Name:      secret.Name,
		Versions:  entries,
		NextToken: token.next(total),
	}, nil
}

// BatchError reports a per-secret failure inside BatchGetValue.
type BatchError struct {
	SecretID  string
	ErrorCode string
	Message   string
}

// BatchOutput holds the values that resolved and the per-id errors for
// those that did not.
type BatchOutput struct {
	Values []Value
	Errors []BatchError
}

// BatchGetValue fetches the AWSCURRENT value of up to 20 secrets.
// Individual failures land in Errors instead of failing the batch.
func (m *Manager) BatchGetValue(ctx context.Context, secretIDs []string) (*BatchOutput, error) {
	if len(secretIDs) == 0 || len(secretIDs) > maxBatchSize {
		return nil, awserr.InvalidParameter("SecretIdList must contain between 1 and 20 entries.")
	}

	out := &BatchOutput{}
	for _, id := range secretIDs {
		value, err := m.GetValue(ctx, GetInput{SecretID: id})
		if err != nil {
			var aerr *awserr.Error
			if !errors.As(err, &aerr) {
				return nil, err
			}
			out.Errors = append(out.Errors, BatchError{
				SecretID:  id,
				ErrorCode: aerr.Code,
				Message:   aerr.Message,
			})
			continue
		}
		out.Values = append(out.Values, *value)
	}

	return out, nil
}
