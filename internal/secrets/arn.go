package secrets

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	maxNameLen        = 512
	maxDescriptionLen = 2048
	maxTagKeyLen      = 128
	maxTagValueLen    = 256
	maxSecretLen      = 65536
	minTokenLen       = 32
	maxTokenLen       = 64
)

const nameSpecials = "/_+=.@-"

// validSecretName reports whether name satisfies the Secrets Manager
// naming rules: 1-512 chars from [A-Za-z0-9/_+=.@-].
func validSecretName(name string) bool {
	if len(name) == 0 || len(name) > maxNameLen {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			ok := false
			for _, s := range nameSpecials {
				if r == s {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
	}
	return true
}

const suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// mintARN builds the ARN for a new secret. AWS appends six random
// characters so that a recreated secret of the same name gets a distinct
// identifier.
func mintARN(region, accountID, name string) (string, error) {
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate arn suffix: %w", err)
		}
		suffix[i] = suffixAlphabet[n.Int64()]
	}
	return fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s-%s", region, accountID, name, suffix), nil
}
