package secrets

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/lokerhq/loker/internal/awserr"
)

const (
	lowercaseChars   = "abcdefghijklmnopqrstuvwxyz"
	uppercaseChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numberChars      = "0123456789"
	punctuationChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

const (
	defaultPasswordLength = 32
	maxPasswordLength     = 4096
)

// PasswordOptions mirrors the GetRandomPassword request knobs.
type PasswordOptions struct {
	ExcludeCharacters       string
	ExcludeLowercase        bool
	ExcludeNumbers          bool
	ExcludePunctuation      bool
	ExcludeUppercase        bool
	IncludeSpace            bool
	PasswordLength          int64
	RequireEachIncludedType bool
}

// GeneratePassword produces a random password per opts using crypto/rand.
func GeneratePassword(opts PasswordOptions) (string, error) {
	length := opts.PasswordLength
	if length == 0 {
		length = defaultPasswordLength
	}
	if length < 1 || length > maxPasswordLength {
		return "", awserr.InvalidParameter("PasswordLength must be between 1 and 4096.")
	}

	filterAllowed := func(set string) []byte {
		var out []byte
		for i := 0; i < len(set); i++ {
			if !strings.ContainsRune(opts.ExcludeCharacters, rune(set[i])) {
				out = append(out, set[i])
			}
		}
		return out
	}

	var typeSets [][]byte
	if !opts.ExcludeLowercase {
		typeSets = append(typeSets, filterAllowed(lowercaseChars))
	}
	if !opts.ExcludeUppercase {
		typeSets = append(typeSets, filterAllowed(uppercaseChars))
	}
	if !opts.ExcludeNumbers {
		typeSets = append(typeSets, filterAllowed(numberChars))
	}
	if !opts.ExcludePunctuation {
		typeSets = append(typeSets, filterAllowed(punctuationChars))
	}

	var allowed []byte
	for _, set := range typeSets {
		allowed = append(allowed, set...)
	}
	if opts.IncludeSpace && !strings.Contains(opts.ExcludeCharacters, " ") {
		allowed = append(allowed, ' ')
	}

	if len(allowed) == 0 {
		return "", awserr.InvalidRequest("All candidate characters are excluded.")
	}

	if opts.RequireEachIncludedType {
		if length < int64(len(typeSets)) {
			return "", awserr.InvalidRequest("PasswordLength is too short to include each required character type.")
		}

		password := make([]byte, 0, length)
		for _, set := range typeSets {
			if len(set) == 0 {
				return "", awserr.InvalidRequest("A required character type is fully excluded by ExcludeCharacters.")
			}
			c, err := pickByte(set)
			if err != nil {
				return "", err
			}
			password = append(password, c)
		}
		for int64(len(password)) < length {
			c, err := pickByte(allowed)
			if err != nil {
				return "", err
			}
			password = append(password, c)
		}

		// Shuffle so the one-of-each prefix is not predictable.
		for i := len(password) - 1; i > 0; i-- {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
			if err != nil {
				return "", err
			}
			j := n.Int64()
			password[i], password[j] = password[j], password[i]
		}

		return string(password), nil
	}

	password := make([]byte, length)
	for i := range password {
		c, err := pickByte(allowed)
		if err != nil {
			return "", err
		}
		password[i] = c
	}
	return string(password), nil
}

func pickByte(set []byte) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
