package api

// Wire shapes for the secretsmanager JSON protocol
// (application/x-amz-json-1.1). SecretBinary fields are []byte so that
// encoding/json applies the base64 blob encoding AWS uses. Dates go on
// the wire as epoch seconds in a float.

// Tag is the wire form of a secret tag.
type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Filter is the wire form of a ListSecrets filter.
type Filter struct {
	Key    string   `json:"Key"`
	Values []string `json:"Values"`
}

type CreateSecretRequest struct {
	Name               string  `json:"Name"`
	Description        *string `json:"Description,omitempty"`
	ClientRequestToken *string `json:"ClientRequestToken,omitempty"`
	SecretString       *string `json:"SecretString,omitempty"`
	SecretBinary       []byte  `json:"SecretBinary,omitempty"`
	Tags               []Tag   `json:"Tags,omitempty"`
}

type CreateSecretResponse struct {
	ARN       string `json:"ARN"`
	Name      string `json:"Name"`
	VersionID string `json:"VersionId"`
}

type PutSecretValueRequest struct {
	SecretID           string   `json:"SecretId"`
	ClientRequestToken *string  `json:"ClientRequestToken,omitempty"`
	SecretString       *string  `json:"SecretString,omitempty"`
	SecretBinary       []byte   `json:"SecretBinary,omitempty"`
	VersionStages      []string `json:"VersionStages,omitempty"`
}

type PutSecretValueResponse struct {
	ARN           string   `json:"ARN"`
	Name          string   `json:"Name"`
	VersionID     string   `json:"VersionId"`
	VersionStages []string `json:"VersionStages"`
}

type GetSecretValueRequest struct {
	SecretID     string  `json:"SecretId"`
	VersionID    *string `json:"VersionId,omitempty"`
	VersionStage *string `json:"VersionStage,omitempty"`
}

type GetSecretValueResponse struct {
	ARN           string   `json:"ARN"`
	Name          string   `json:"Name"`
	VersionID     string   `json:"VersionId"`
	SecretString  *string  `json:"SecretString,omitempty"`
	SecretBinary  []byte   `json:"SecretBinary,omitempty"`
	VersionStages []string `json:"VersionStages"`
	CreatedDate   float64  `json:"CreatedDate"`
}

type DescribeSecretRequest struct {
	SecretID string `json:"SecretId"`
}

type DescribeSecretResponse struct {
	ARN                string              `json:"ARN"`
	Name               string              `json:"Name"`
	Description        *string             `json:"Description,omitempty"`
	CreatedDate        float64             `json:"CreatedDate"`
	LastChangedDate    *float64            `json:"LastChangedDate,omitempty"`
	LastAccessedDate   *float64            `json:"LastAccessedDate,omitempty"`
	DeletedDate        *float64            `json:"DeletedDate,omitempty"`
	VersionIDsToStages map[string][]string `json:"VersionIdsToStages"`
	Tags               []Tag               `json:"Tags"`
}

type UpdateSecretRequest struct {
	SecretID           string  `json:"SecretId"`
	Description        *string `json:"Description,omitempty"`
	ClientRequestToken *string `json:"ClientRequestToken,omitempty"`
	SecretString       *string `json:"SecretString,omitempty"`
	SecretBinary       []byte  `json:"SecretBinary,omitempty"`
}

type UpdateSecretResponse struct {
	ARN       string `json:"ARN"`
	Name      string `json:"Name"`
	VersionID string `json:"VersionId,omitempty"`
}

type DeleteSecretRequest struct {
	SecretID                   string `json:"SecretId"`
	RecoveryWindowInDays       *int64 `json:"RecoveryWindowInDays,omitempty"`
	ForceDeleteWithoutRecovery bool   `json:"ForceDeleteWithoutRecovery,omitempty"`
}

type DeleteSecretResponse struct {
	ARN          string  `json:"ARN"`
	Name         string  `json:"Name"`
	DeletionDate float64 `json:"DeletionDate"`
}

type RestoreSecretRequest struct {
	SecretID string `json:"SecretId"`
}

type RestoreSecretResponse struct {
	ARN  string `json:"ARN"`
	Name string `json:"Name"`
}

type TagResourceRequest struct {
	SecretID string `json:"SecretId"`
	Tags     []Tag  `json:"Tags"`
}

type UntagResourceRequest struct {
	SecretID string   `json:"SecretId"`
	TagKeys  []string `json:"TagKeys"`
}

type ListSecretsRequest struct {
	Filters                []Filter `json:"Filters,omitempty"`
	IncludePlannedDeletion bool     `json:"IncludePlannedDeletion,omitempty"`
	MaxResults             *int64   `json:"MaxResults,omitempty"`
	NextToken              *string  `json:"NextToken,omitempty"`
	SortOrder              *string  `json:"SortOrder,omitempty"`
}

type SecretListEntry struct {
	ARN                    string              `json:"ARN"`
	Name                   string              `json:"Name"`
	Description            *string             `json:"Description,omitempty"`
	CreatedDate            float64             `json:"CreatedDate"`
	LastChangedDate        *float64            `json:"LastChangedDate,omitempty"`
	LastAccessedDate       *float64            `json:"LastAccessedDate,omitempty"`
	DeletedDate            *float64            `json:"DeletedDate,omitempty"`
	SecretVersionsToStages map[string][]string `json:"SecretVersionsToStages"`
	Tags                   []Tag               `json:"Tags"`
}

type ListSecretsResponse struct {
	SecretList []SecretListEntry `json:"SecretList"`
	NextToken  *string           `json:"NextToken,omitempty"`
}

type ListSecretVersionIdsRequest struct {
	SecretID          string  `json:"SecretId"`
	IncludeDeprecated bool    `json:"IncludeDeprecated,omitempty"`
	MaxResults        *int64  `json:"MaxResults,omitempty"`
	NextToken         *string `json:"NextToken,omitempty"`
}

type SecretVersionEntry struct {
	VersionID        string   `json:"VersionId"`
	CreatedDate      float64  `json:"CreatedDate"`
	LastAccessedDate *float64 `json:"LastAccessedDate,omitempty"`
	VersionStages    []string `json:"VersionStages"`
}

type ListSecretVersionIdsResponse struct {
	ARN       string               `json:"ARN"`
	Name      string               `json:"Name"`
	Versions  []SecretVersionEntry `json:"Versions"`
	NextToken *string              `json:"NextToken,omitempty"`
}

type BatchGetSecretValueRequest struct {
	SecretIDList []string `json:"SecretIdList"`
}

type BatchGetSecretValueError struct {
	SecretID  string `json:"SecretId"`
	ErrorCode string `json:"ErrorCode"`
	Message   string `json:"Message"`
}

type BatchGetSecretValueResponse struct {
	SecretValues []GetSecretValueResponse   `json:"SecretValues"`
	Errors       []BatchGetSecretValueError `json:"Errors"`
}

type UpdateSecretVersionStageRequest struct {
	SecretID            string  `json:"SecretId"`
	VersionStage        string  `json:"VersionStage"`
	MoveToVersionID     *string `json:"MoveToVersionId,omitempty"`
	RemoveFromVersionID *string `json:"RemoveFromVersionId,omitempty"`
}

type UpdateSecretVersionStageResponse struct {
	ARN  string `json:"ARN"`
	Name string `json:"Name"`
}

type GetRandomPasswordRequest struct {
	ExcludeCharacters       string `json:"ExcludeCharacters,omitempty"`
	ExcludeLowercase        bool   `json:"ExcludeLowercase,omitempty"`
	ExcludeNumbers          bool   `json:"ExcludeNumbers,omitempty"`
	ExcludePunctuation      bool   `json:"ExcludePunctuation,omitempty"`
	ExcludeUppercase        bool   `json:"ExcludeUppercase,omitempty"`
	IncludeSpace            bool   `json:"IncludeSpace,omitempty"`
	PasswordLength          int64  `json:"PasswordLength,omitempty"`
	RequireEachIncludedType bool   `json:"RequireEachIncludedType,omitempty"`
}

type GetRandomPasswordResponse struct {
	RandomPassword string `json:"RandomPassword"`
}

func epochSeconds(unix int64) float64 {
	return float64(unix)
}

func optEpochSeconds(unix *int64) *float64 {
	if unix == nil {
		return nil
	}
	f := float64(*unix)
	return &f
}
