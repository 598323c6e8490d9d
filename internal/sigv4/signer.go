package sigv4

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// Sign signs r in place with the AWS4-HMAC-SHA256 scheme. It sets the
// X-Amz-Date, X-Amz-Content-Sha256 and Authorization headers, signing the
// host, x-amz-date, x-amz-content-sha256 headers plus any x-amz-* and
// content-type headers already present on the request.
//
// The server uses the same canonicalization to verify, so Sign doubles as
// the reference signer in tests.
func Sign(r *http.Request, body []byte, cred Credential, region string, now time.Time) {
	now = now.UTC()
	amzDate := now.Format(timeFormat)
	dateStamp := now.Format(dateFormat)
	payloadHash := hashSHA256Hex(body)

	r.Header.Set("X-Amz-Date", amzDate)
	r.Header.Set("X-Amz-Content-Sha256", payloadHash)

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	for name := range r.Header {
		lower := strings.ToLower(name)
		if lower == "content-type" || (strings.HasPrefix(lower, "x-amz-") &&
			lower != "x-amz-date" && lower != "x-amz-content-sha256") {
			signedHeaders = append(signedHeaders, lower)
		}
	}
	sort.Strings(signedHeaders)

	headerValue := func(name string) string {
		if name == "host" {
			return r.Host
		}
		return r.Header.Get(name)
	}

	canonical := canonicalRequest(r.Method, r.URL.Path, r.URL.RawQuery, headerValue, signedHeaders, payloadHash)

	scope := dateStamp + "/" + region + "/" + service + "/aws4_request"
	stringToSign := algorithm + "\n" + amzDate + "\n" + scope + "\n" + hashSHA256Hex([]byte(canonical))

	signingKey := deriveSigningKey(cred.SecretAccessKey, dateStamp, region, service)
	signature := hexEncode(hmacSHA256(signingKey, stringToSign))

	r.Header.Set("Authorization", algorithm+
		" Credential="+cred.AccessKeyID+"/"+scope+
		", SignedHeaders="+strings.Join(signedHeaders, ";")+
		", Signature="+signature)
}
