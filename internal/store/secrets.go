package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries is the shared query surface of Store and Tx.
type queries struct {
	db     querier
	sealer *sealer
}

// Secret is a row of the secrets table. Timestamps are Unix seconds.
type Secret struct {
	ARN               string
	Name              string
	Description       *string
	CreatedAt         int64
	UpdatedAt         *int64
	DeletedAt         *int64
	ScheduledDeleteAt *int64
}

// Deleted reports whether the secret is soft-deleted.
func (s *Secret) Deleted() bool {
	return s.DeletedAt != nil
}

// Version is a row of the secrets_versions table with its stage labels.
// Exactly one of SecretString / SecretBinary is non-nil.
type Version struct {
	SecretARN      string
	VersionID      string
	SecretString   *string
	SecretBinary   []byte
	CreatedAt      int64
	LastAccessedAt *int64
	Stages         []string
}

// Tag is a row of the secrets_tags table.
type Tag struct {
	Key       string
	Value     string
	CreatedAt int64
	UpdatedAt *int64
}

// Filter narrows ListSecrets / CountSecrets results. Values are matched
// as prefixes.
type Filter struct {
	Key    string
	Values []string
}

// Valid filter keys.
const (
	FilterName        = "name"
	FilterDescription = "description"
	FilterTagKey      = "tag-key"
	FilterTagValue    = "tag-value"
	FilterAll         = "all"
)

// ListQuery parameterizes secret listing.
type ListQuery struct {
	Filters        []Filter
	IncludeDeleted bool
	Limit          int64
	Offset         int64
	Ascending      bool
}

const secretColumns = "arn, name, description, created_at, updated_at, deleted_at, scheduled_delete_at"

func (q *queries) InsertSecret(ctx context.Context, s *Secret) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO secrets (`+secretColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ARN, s.Name, s.Description, s.CreatedAt, s.UpdatedAt, s.DeletedAt, s.ScheduledDeleteAt)
	return mapError(err)
}

// GetSecret resolves a secret by name or ARN.
func (q *queries) GetSecret(ctx context.Context, secretID string) (*Secret, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+secretColumns+`
		FROM secrets
		WHERE name = ? OR arn = ?
		LIMIT 1
	`, secretID, secretID)
	return scanSecret(row)
}

func scanSecret(row *sql.Row) (*Secret, error) {
	var s Secret
	var description sql.NullString
	var updatedAt, deletedAt, scheduledDeleteAt sql.NullInt64

	err := row.Scan(&s.ARN, &s.Name, &description, &s.CreatedAt, &updatedAt, &deletedAt, &scheduledDeleteAt)
	if err != nil {
		return nil, mapError(err)
	}

	if description.Valid {
		s.Description = &description.String
	}
	if updatedAt.Valid {
		s.UpdatedAt = &updatedAt.Int64
	}
	if deletedAt.Valid {
		s.DeletedAt = &deletedAt.Int64
	}
	if scheduledDeleteAt.Valid {
		s.ScheduledDeleteAt = &scheduledDeleteAt.Int64
	}

	return &s, nil
}

func (q *queries) UpdateSecretDescription(ctx context.Context, arn, description string, now int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE secrets SET description = ?, updated_at = ? WHERE arn = ?
	`, description, now, arn)
	return mapError(err)
}

// TouchSecret bumps updated_at, recording a metadata change.
func (q *queries) TouchSecret(ctx context.Context, arn string, now int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE secrets SET updated_at = ? WHERE arn = ?`, now, arn)
	return mapError(err)
}

// SoftDeleteSecret marks a secret for deletion at scheduledAt.
func (q *queries) SoftDeleteSecret(ctx context.Context, arn string, deletedAt, scheduledAt int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE secrets SET deleted_at = ?, scheduled_delete_at = ? WHERE arn = ?
	`, deletedAt, scheduledAt, arn)
	return mapError(err)
}

// RestoreSecret clears the soft-delete marks.
func (q *queries) RestoreSecret(ctx context.Context, arn string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE secrets SET deleted_at = NULL, scheduled_delete_at = NULL WHERE arn = ?
	`, arn)
	return mapError(err)
}

// DeleteSecret hard-deletes a secret; versions, stages and tags cascade.
func (q *queries) DeleteSecret(ctx context.Context, arn string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM secrets WHERE arn = ?`, arn)
	return mapError(err)
}

// PurgeExpired hard-deletes every secret whose scheduled deletion instant
// has passed, returning the number removed.
func (q *queries) PurgeExpired(ctx context.Context, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM secrets WHERE scheduled_delete_at IS NOT NULL AND scheduled_delete_at < ?
	`, now)
	if err != nil {
		return 0, mapError(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneExcessVersions removes versions beyond the newest keep per secret,
// but only once they are older than cutoff.
func (q *queries) PruneExcessVersions(ctx context.Context, cutoff int64, keep int) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM secrets_versions
		WHERE (secret_arn, version_id) IN (
			SELECT secret_arn, version_id FROM (
				SELECT secret_arn, version_id, created_at,
					ROW_NUMBER() OVER (
						PARTITION BY secret_arn
						ORDER BY created_at DESC
					) AS row_number
				FROM secrets_versions
			)
			WHERE row_number > ? AND created_at < ?
		)
	`, keep, cutoff)
	if err != nil {
		return 0, mapError(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func buildFilterClause(filters []Filter) (string, []any, error) {
	var clauses []string
	var args []any

	perKey := map[string]string{
		FilterName:        "name LIKE ? || '%'",
		FilterDescription: "description LIKE ? || '%'",
		FilterTagKey:      "EXISTS (SELECT 1 FROM secrets_tags t WHERE t.secret_arn = secrets.arn AND t.key LIKE ? || '%')",
		FilterTagValue:    "EXISTS (SELECT 1 FROM secrets_tags t WHERE t.secret_arn = secrets.arn AND t.value LIKE ? || '%')",
	}

	for _, f := range filters {
		var alternatives []string
		for _, value := range f.Values {
			switch f.Key {
			case FilterName, FilterDescription, FilterTagKey, FilterTagValue:
				alternatives = append(alternatives, perKey[f.Key])
				args = append(args, value)
			case FilterAll:
				alternatives = append(alternatives,
					perKey[FilterName], perKey[FilterDescription], perKey[FilterTagKey], perKey[FilterTagValue])
				args = append(args, value, value, value, value)
			default:
				return "", nil, fmt.Errorf("unknown filter key %q", f.Key)
			}
		}
		if len(alternatives) > 0 {
			clauses = append(clauses, "("+strings.Join(alternatives, " OR ")+")")
		}
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " AND " + strings.Join(clauses, " AND "), args, nil
}

// ListSecrets returns a page of secrets matching lq.
func (q *queries) ListSecrets(ctx context.Context, lq ListQuery) ([]Secret, error) {
	where := "WHERE 1=1"
	if !lq.IncludeDeleted {
		where += " AND deleted_at IS NULL"
	}

	filterClause, args, err := buildFilterClause(lq.Filters)
	if err != nil {
		return nil, err
	}
	where += filterClause

	order := "DESC"
	if lq.Ascending {
		order = "ASC"
	}

	query := "SELECT " + secretColumns + " FROM secrets " + where +
		" ORDER BY created_at " + order + ", arn LIMIT ? OFFSET ?"
	args = append(args, lq.Limit, lq.Offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var secrets []Secret
	for rows.Next() {
		var s Secret
		var description sql.NullString
		var updatedAt, deletedAt, scheduledDeleteAt sql.NullInt64

		if err := rows.Scan(&s.ARN, &s.Name, &description, &s.CreatedAt, &updatedAt, &deletedAt, &scheduledDeleteAt); err != nil {
			return nil, mapError(err)
		}

		if description.Valid {
			s.Description = &description.String
		}
		if updatedAt.Valid {
			s.UpdatedAt = &updatedAt.Int64
		}
		if deletedAt.Valid {
			s.DeletedAt = &deletedAt.Int64
		}
		if scheduledDeleteAt.Valid {
			s.ScheduledDeleteAt = &scheduledDeleteAt.Int64
		}

		secrets = append(secrets, s)
	}

	return secrets, rows.Err()
}

// CountSecrets counts secrets matching lq, ignoring pagination.
func (q *queries) CountSecrets(ctx context.Context, lq ListQuery) (int64, error) {
	where := "WHERE 1=1"
	if !lq.IncludeDeleted {
		where += " AND deleted_at IS NULL"
	}

	filterClause, args, err := buildFilterClause(lq.Filters)
	if err != nil {
		return 0, err
	}
	where += filterClause

	var count int64
	err = q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM secrets "+where, args...).Scan(&count)
	return count, mapError(err)
}

// InsertVersion stores a new version, sealing its payload.
func (q *queries) InsertVersion(ctx context.Context, v *Version) error {
	var sealedString, sealedBinary []byte
	var err error

	if v.SecretString != nil {
		sealedString, err = q.sealer.seal([]byte(*v.SecretString))
		if err != nil {
			return err
		}
	}
	if v.SecretBinary != nil {
		sealedBinary, err = q.sealer.seal(v.SecretBinary)
		if err != nil {
			return err
		}
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO secrets_versions (secret_arn, version_id, secret_string, secret_binary, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.SecretARN, v.VersionID, sealedString, sealedBinary, v.CreatedAt, v.LastAccessedAt)
	return mapError(err)
}

const versionColumns = "v.secret_arn, v.version_id, v.secret_string, v.secret_binary, v.created_at, v.last_accessed_at"

func (q *queries) scanVersion(ctx context.Context, row *sql.Row) (*Version, error) {
	var v Version
	var sealedString, sealedBinary []byte
	var lastAccessed sql.NullInt64

	err := row.Scan(&v.SecretARN, &v.VersionID, &sealedString, &sealedBinary, &v.CreatedAt, &lastAccessed)
	if err != nil {
		return nil, mapError(err)
	}

	if lastAccessed.Valid {
		v.LastAccessedAt = &lastAccessed.Int64
	}

	if err := q.unsealInto(&v, sealedString, sealedBinary); err != nil {
		return nil, err
	}

	stages, err := q.VersionStages(ctx, v.SecretARN, v.VersionID)
	if err != nil {
		return nil, err
	}
	v.Stages = stages

	return &v, nil
}

func (q *queries) unsealInto(v *Version, sealedString, sealedBinary []byte) error {
	if len(sealedString) > 0 {
		plain, err := q.sealer.open(sealedString)
		if err != nil {
			return err
		}
		s := string(plain)
		v.SecretString = &s
	}
	if len(sealedBinary) > 0 {
		plain, err := q.sealer.open(sealedBinary)
		if err != nil {
			return err
		}
		v.SecretBinary = plain
	}
	return nil
}

// GetVersion looks up one version by id.
func (q *queries) GetVersion(ctx context.Context, arn, versionID string) (*Version, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM secrets_versions v
		WHERE v.secret_arn = ? AND v.version_id = ?
	`, arn, versionID)
	return q.scanVersion(ctx, row)
}

// GetVersionByStage looks up the version currently holding label.
func (q *queries) GetVersionByStage(ctx context.Context, arn, label string) (*Version, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM secrets_versions v
		JOIN secret_version_stages s
			ON s.secret_arn = v.secret_arn AND s.version_id = v.version_id
		WHERE v.secret_arn = ? AND s.label = ?
	`, arn, label)
	return q.scanVersion(ctx, row)
}

// ListVersions returns a page of versions, newest first. Versions with no
// stage labels are deprecated and excluded unless includeDeprecated.
func (q *queries) ListVersions(ctx context.Context, arn string, includeDeprecated bool, limit, offset int64) ([]Version, error) {
	where := "WHERE v.secret_arn = ?"
	if !includeDeprecated {
		where += ` AND EXISTS (
			SELECT 1 FROM secret_version_stages s
			WHERE s.secret_arn = v.secret_arn AND s.version_id = v.version_id
		)`
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM secrets_versions v
		`+where+`
		ORDER BY v.created_at DESC, v.version_id
		LIMIT ? OFFSET ?
	`, arn, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var sealedString, sealedBinary []byte
		var lastAccessed sql.NullInt64

		if err := rows.Scan(&v.SecretARN, &v.VersionID, &sealedString, &sealedBinary, &v.CreatedAt, &lastAccessed); err != nil {
			return nil, mapError(err)
		}
		if lastAccessed.Valid {
			v.LastAccessedAt = &lastAccessed.Int64
		}
		if err := q.unsealInto(&v, sealedString, sealedBinary); err != nil {
			return nil, err
		}

		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range versions {
		stages, err := q.VersionStages(ctx, arn, versions[i].VersionID)
		if err != nil {
			return nil, err
		}
		versions[i].Stages = stages
	}

	return versions, nil
}

// CountVersions counts versions of a secret.
func (q *queries) CountVersions(ctx context.Context, arn string, includeDeprecated bool) (int64, error) {
	where := "WHERE v.secret_arn = ?"
	if !includeDeprecated {
		where += ` AND EXISTS (
			SELECT 1 FROM secret_version_stages s
			WHERE s.secret_arn = v.secret_arn AND s.version_id = v.version_id
		)`
	}

	var count int64
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM secrets_versions v "+where, arn).Scan(&count)
	return count, mapError(err)
}

// VersionStages returns the stage labels attached to one version.
func (q *queries) VersionStages(ctx context.Context, arn, versionID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT label FROM secret_version_stages
		WHERE secret_arn = ? AND version_id = ?
		ORDER BY label
	`, arn, versionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, mapError(err)
		}
		labels = append(labels, label)
	}

	return labels, rows.Err()
}

// AllStages returns every version id of a secret mapped to its labels.
func (q *queries) AllStages(ctx context.Context, arn string) (map[string][]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT version_id, label FROM secret_version_stages
		WHERE secret_arn = ?
		ORDER BY version_id, label
	`, arn)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	stages := make(map[string][]string)
	for rows.Next() {
		var versionID, label string
		if err := rows.Scan(&versionID, &label); err != nil {
			return nil, mapError(err)
		}
		stages[versionID] = append(stages[versionID], label)
	}

	return stages, rows.Err()
}

// LastAccessed returns the most recent last_accessed_at across all
// versions of a secret, or nil when no version has been read.
func (q *queries) LastAccessed(ctx context.Context, arn string) (*int64, error) {
	var at sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT MAX(last_accessed_at) FROM secrets_versions WHERE secret_arn = ?
	`, arn).Scan(&at)
	if err != nil {
		return nil, mapError(err)
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Int64, nil
}

// TouchVersionAccess records when a version was last read.
func (q *queries) TouchVersionAccess(ctx context.Context, arn, versionID string, at int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE secrets_versions SET last_accessed_at = ?
		WHERE secret_arn = ? AND version_id = ?
	`, at, arn, versionID)
	return mapError(err)
}

// AddStage attaches label to a version.
func (q *queries) AddStage(ctx context.Context, arn, versionID, label string, now int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO secret_version_stages (secret_arn, version_id, label, created_at)
		VALUES (?, ?, ?, ?)
	`, arn, versionID, label, now)
	return mapError(err)
}

// RemoveStage detaches label from a specific version.
func (q *queries) RemoveStage(ctx context.Context, arn, versionID, label string) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM secret_version_stages
		WHERE secret_arn = ? AND version_id = ? AND label = ?
	`, arn, versionID, label)
	return mapError(err)
}

// RemoveStageAny detaches label from whichever version holds it,
// returning that version's id, or "" when no version held the label.
func (q *queries) RemoveStageAny(ctx context.Context, arn, label string) (string, error) {
	var versionID string
	err := q.db.QueryRowContext(ctx, `
		SELECT version_id FROM secret_version_stages
		WHERE secret_arn = ? AND label = ?
	`, arn, label).Scan(&versionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", mapError(err)
	}

	_, err = q.db.ExecContext(ctx, `
		DELETE FROM secret_version_stages
		WHERE secret_arn = ? AND label = ?
	`, arn, label)
	return versionID, mapError(err)
}

// UpsertTag sets a tag, updating the value in place when the key exists.
func (q *queries) UpsertTag(ctx context.Context, arn, key, value string, now int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO secrets_tags (secret_arn, key, value, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (secret_arn, key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.created_at
	`, arn, key, value, now)
	return mapError(err)
}

// DeleteTag removes a tag by key.
func (q *queries) DeleteTag(ctx context.Context, arn, key string) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM secrets_tags WHERE secret_arn = ? AND key = ?
	`, arn, key)
	return mapError(err)
}

// ListTags returns a secret's tags ordered by key.
func (q *queries) ListTags(ctx context.Context, arn string) ([]Tag, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT key, value, created_at, updated_at FROM secrets_tags
		WHERE secret_arn = ?
		ORDER BY key
	`, arn)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var updatedAt sql.NullInt64
		if err := rows.Scan(&t.Key, &t.Value, &t.CreatedAt, &updatedAt); err != nil {
			return nil, mapError(err)
		}
		if updatedAt.Valid {
			t.UpdatedAt = &updatedAt.Int64
		}
		tags = append(tags, t)
	}

	return tags, rows.Err()
}
