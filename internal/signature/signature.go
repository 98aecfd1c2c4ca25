package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Compute builds the provider-compatible request signature: parameters are
// sorted by key, concatenated as key=value joined by "&", the shared secret
// is appended, and the whole string is MD5-hashed. The scheme is a
// compatibility contract with the upstream telephony service and must not
// be changed.
func Compute(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify compares the supplied signature against the computed one in
// constant time.
func Verify(params map[string]string, secret, supplied string) bool {
	expected := Compute(params, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}
