// Package signature builds and checks the HMAC signatures payment providers
// put on redirect URLs, API requests and callbacks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

type Algorithm int

const (
	SHA256 Algorithm = iota
	SHA512
)

func (a Algorithm) String() string {
	if a == SHA512 {
		return "HMACSHA512"
	}
	return "HMACSHA256"
}

func (a Algorithm) hasher() func() hash.Hash {
	if a == SHA512 {
		return sha512.New
	}
	return sha256.New
}

// Signer signs canonical strings with one provider secret
type Signer struct {
	alg    Algorithm
	secret []byte
}

func NewSigner(alg Algorithm, secret string) *Signer {
	return &Signer{alg: alg, secret: []byte(secret)}
}

func (s *Signer) Algorithm() Algorithm {
	return s.alg
}

// Sign returns the lowercase hex HMAC of data.
func (s *Signer) Sign(data string) string {
	mac := hmac.New(s.alg.hasher(), s.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a received signature against data in constant time.
// Providers differ in hex casing, so the comparison ignores case.
func (s *Signer) Verify(received, data string) bool {
	if received == "" {
		return false
	}
	expected := s.Sign(data)
	return hmac.Equal([]byte(strings.ToLower(received)), []byte(expected))
}

// Pair is one key=value element of a canonical string
type Pair struct {
	Key   string
	Value string
}

// Canonical joins pairs as key=value with & in the given order.
func Canonical(pairs []Pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Sorted returns params as pairs ordered by key, dropping the excluded keys
// and empty values.
func Sorted(params map[string]string, exclude ...string) []Pair {
	skip := make(map[string]struct{}, len(exclude))
	for _, k := range exclude {
		skip[k] = struct{}{}
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if _, ok := skip[k]; ok || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]Pair, len(keys))
	for i, k := range keys {
		pairs[i] = Pair{Key: k, Value: params[k]}
	}
	return pairs
}

// SortedCanonical is Canonical over Sorted.
func SortedCanonical(params map[string]string, exclude ...string) string {
	return Canonical(Sorted(params, exclude...))
}

// Escaped query-escapes keys and values, spaces becoming '+'.
func Escaped(pairs []Pair) []Pair {
	out := make([]Pair, len(pairs))
	for i, p := range pairs {
		out[i] = Pair{Key: url.QueryEscape(p.Key), Value: url.QueryEscape(p.Value)}
	}
	return out
}
