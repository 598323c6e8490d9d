package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// hashSHA256Hex returns the lowercase hex SHA-256 digest of payload.
func hashSHA256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// hexEncode returns the lowercase hex encoding of b.
func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// hmacSHA256 computes HMAC-SHA-256 of msg under key.
func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// deriveSigningKey runs the AWS4 HMAC cascade:
// kDate -> kRegion -> kService -> kSigning.
func deriveSigningKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}
