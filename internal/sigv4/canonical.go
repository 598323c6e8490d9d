package sigv4

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

// canonicalRequest renders the normalized request form hashed into the
// string-to-sign:
//
//	METHOD \n URI \n QUERY \n HEADERS \n SIGNEDHEADERS \n PAYLOADHASH
//
// signedHeaders is the list from the Authorization header, used verbatim
// for ordering and for the SignedHeaders line.
func canonicalRequest(method, uriPath, rawQuery string, headerValue func(string) string, signedHeaders []string, payloadHash string) string {
	var b strings.Builder

	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(canonicalURI(uriPath))
	b.WriteByte('\n')
	b.WriteString(canonicalQuery(rawQuery))
	b.WriteByte('\n')

	for _, name := range signedHeaders {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(trimHeaderValue(headerValue(name)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	b.WriteString(strings.Join(signedHeaders, ";"))
	b.WriteByte('\n')
	b.WriteString(payloadHash)

	return b.String()
}

// canonicalURI normalizes dot segments and percent-encodes each path
// segment, preserving forward slashes. An empty path becomes "/".
func canonicalURI(p string) string {
	if p == "" {
		return "/"
	}

	trailingSlash := strings.HasSuffix(p, "/") && p != "/"
	p = path.Clean(p)
	if p == "." {
		p = "/"
	}
	if trailingSlash && p != "/" {
		p += "/"
	}

	return uriEncode(p, false)
}

// canonicalQuery sorts parameters by key then value and re-encodes both
// with the AWS flavor of RFC 3986. A parameter without a value renders as
// "key=".
func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	type pair struct {
		key   string
		value string
	}

	var pairs []pair
	for _, kv := range strings.Split(rawQuery, "&") {
		if kv == "" {
			continue
		}
		key, value, _ := strings.Cut(kv, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		pairs = append(pairs, pair{key: key, value: value})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, uriEncode(p.key, true)+"="+uriEncode(p.value, true))
	}

	return strings.Join(parts, "&")
}

// trimHeaderValue strips leading/trailing whitespace and collapses runs of
// spaces to a single space, leaving anything inside double quotes intact.
func trimHeaderValue(value string) string {
	value = strings.TrimSpace(value)

	var b strings.Builder
	b.Grow(len(value))

	inQuotes := false
	lastSpace := false
	for _, r := range value {
		if r == '"' {
			inQuotes = !inQuotes
		}
		if !inQuotes && (r == ' ' || r == '\t') {
			if lastSpace {
				continue
			}
			lastSpace = true
			b.WriteByte(' ')
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}

	return b.String()
}

// uriEncode percent-encodes everything except RFC 3986 unreserved
// characters, with uppercase hex digits. Slashes pass through unless
// encodeSlash is set (query components).
func uriEncode(input string, encodeSlash bool) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(input))

	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xf])
		}
	}

	return b.String()
}
