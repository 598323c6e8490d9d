// Package sigv4 implements server-side AWS Signature Version 4
// verification for the secretsmanager service, plus a matching request
// signer used by clients and tests.
package sigv4

import (
	"crypto/hmac"
	"net/http"
	"strings"
	"time"

	"github.com/lokerhq/loker/internal/awserr"
	"github.com/lokerhq/loker/internal/clock"
)

const (
	algorithm  = "AWS4-HMAC-SHA256"
	service    = "secretsmanager"
	timeFormat = "20060102T150405Z"
	dateFormat = "20060102"

	// Maximum tolerated difference between X-Amz-Date and the server
	// clock.
	maxClockSkew = 15 * time.Minute
)

// Credential is the single access key pair the server accepts.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Verifier validates inbound requests against a configured credential.
type Verifier struct {
	cred  Credential
	clock clock.Clock
}

// NewVerifier creates a Verifier. A nil clock defaults to the system
// clock.
func NewVerifier(cred Credential, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.System()
	}
	return &Verifier{cred: cred, clock: clk}
}

// authHeader is the parsed Authorization header.
type authHeader struct {
	accessKeyID   string
	dateStamp     string
	region        string
	service       string
	signedHeaders []string
	signature     string
}

// parseAuthorization parses
//
//	AWS4-HMAC-SHA256 Credential=<akid>/<date>/<region>/<service>/aws4_request,
//	SignedHeaders=<h1;h2>, Signature=<hex>
func parseAuthorization(value string) (*authHeader, error) {
	rest, ok := strings.CutPrefix(value, algorithm+" ")
	if !ok {
		return nil, awserr.InvalidSignature("Authorization header requires 'AWS4-HMAC-SHA256'.")
	}

	var credential, signedHeaders, signature string
	for _, part := range strings.Split(rest, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return nil, awserr.InvalidSignature("Authorization header is malformed.")
		}
		switch key {
		case "Credential":
			credential = val
		case "SignedHeaders":
			signedHeaders = val
		case "Signature":
			signature = val
		}
	}

	if credential == "" || signedHeaders == "" || signature == "" {
		return nil, awserr.InvalidSignature("Authorization header is missing required components.")
	}

	scope := strings.Split(credential, "/")
	if len(scope) != 5 || scope[4] != "aws4_request" {
		return nil, awserr.InvalidSignature("Credential must be in the form <akid>/<date>/<region>/<service>/aws4_request.")
	}

	return &authHeader{
		accessKeyID:   scope[0],
		dateStamp:     scope[1],
		region:        scope[2],
		service:       scope[3],
		signedHeaders: strings.Split(signedHeaders, ";"),
		signature:     signature,
	}, nil
}

// Verify checks the SigV4 signature of r with body as the full request
// payload. A nil error means the request is authentic; any returned error
// is an awserr shaped for the wire.
func (v *Verifier) Verify(r *http.Request, body []byte) error {
	authValue := r.Header.Get("Authorization")
	if authValue == "" {
		return awserr.MissingAuthenticationToken()
	}

	auth, err := parseAuthorization(authValue)
	if err != nil {
		return err
	}

	if auth.service != service {
		return awserr.InvalidSignature("Credential should be scoped to correct service: 'secretsmanager'.")
	}

	if auth.accessKeyID != v.cred.AccessKeyID {
		return awserr.InvalidClientTokenId()
	}

	hasHost, hasDate := false, false
	for _, name := range auth.signedHeaders {
		switch name {
		case "host":
			hasHost = true
		case "x-amz-date":
			hasDate = true
		}
	}
	if !hasHost || !hasDate {
		return awserr.InvalidSignature("SignedHeaders must include 'host' and 'x-amz-date'.")
	}

	amzDate := r.Header.Get("X-Amz-Date")
	if amzDate == "" {
		return awserr.SignatureDoesNotMatch("Missing required header X-Amz-Date.")
	}
	requestTime, err := time.Parse(timeFormat, amzDate)
	if err != nil {
		return awserr.SignatureDoesNotMatch("X-Amz-Date must be in ISO8601 basic format.")
	}

	skew := v.clock.Now().Sub(requestTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return awserr.SignatureDoesNotMatch("Signature expired: request timestamp is outside the allowed window.")
	}

	if auth.dateStamp != requestTime.Format(dateFormat) {
		return awserr.SignatureDoesNotMatch("Date in Credential scope does not match X-Amz-Date.")
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		return awserr.SignatureDoesNotMatch("Missing required header x-amz-content-sha256.")
	}

	headerValue := func(name string) string {
		if name == "host" {
			if host := r.Header.Get("Host"); host != "" {
				return host
			}
			return r.Host
		}
		return r.Header.Get(name)
	}

	canonical := canonicalRequest(r.Method, r.URL.Path, r.URL.RawQuery, headerValue, auth.signedHeaders, payloadHash)

	scope := auth.dateStamp + "/" + auth.region + "/" + auth.service + "/aws4_request"
	stringToSign := algorithm + "\n" + amzDate + "\n" + scope + "\n" + hashSHA256Hex([]byte(canonical))

	signingKey := deriveSigningKey(v.cred.SecretAccessKey, auth.dateStamp, auth.region, auth.service)
	expected := hmacSHA256(signingKey, stringToSign)

	// hmac.Equal keeps the comparison constant-time.
	if !hmac.Equal([]byte(hexEncode(expected)), []byte(auth.signature)) {
		return awserr.SignatureDoesNotMatch("The request signature we calculated does not match the signature you provided.")
	}

	if !hmac.Equal([]byte(payloadHash), []byte(hashSHA256Hex(body))) {
		return awserr.SignatureDoesNotMatch("x-amz-content-sha256 does not match the request payload.")
	}

	return nil
}
