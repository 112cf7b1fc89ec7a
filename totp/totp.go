// Package totp implements the time-based one-time password engine used as the
// second login factor. Codes follow RFC 4226 dynamic truncation over an
// RFC 6238 time-step counter.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

// Algorithm selects the HMAC hash used to derive codes.
type Algorithm int

const (
	SHA1 Algorithm = iota
	SHA256
	SHA512
)

const (
	MinDigits          = 6
	MaxDigits          = 9
	DefaultDigits      = 6
	DefaultPeriod      = 30
	DefaultGenerations = 1
)

var algorithmNames = map[string]Algorithm{
	"sha1":    SHA1,
	"sha-1":   SHA1,
	"sha256":  SHA256,
	"sha-256": SHA256,
	"sha512":  SHA512,
	"sha-512": SHA512,
}

var pow10 = [...]uint32{
	1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000, 1000000000,
}

// ParseAlgorithm maps a configured algorithm name to an Algorithm. Names are
// case-insensitive; both "sha-256" and "sha256" spellings are accepted.
func ParseAlgorithm(name string) (Algorithm, error) {
	alg, ok := algorithmNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unsupported totp algorithm %q", name)
	}
	return alg, nil
}

func (a Algorithm) String() string {
	switch a {
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha-256"
	case SHA512:
		return "sha-512"
	default:
		return "unknown(" + strconv.Itoa(int(a)) + ")"
	}
}

func (a Algorithm) hash() func() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New
	case SHA512:
		return sha512.New
	default:
		return sha1.New
	}
}

// Params is the per-user TOTP configuration. Secret is raw binary; base32
// decoding happens once when the configuration is loaded.
type Params struct {
	Secret    []byte
	Algorithm Algorithm
	Digits    int
	Period    int
}

// Code computes the HOTP value for counter. digits must lie within
// [MinDigits, MaxDigits].
func Code(secret []byte, alg Algorithm, digits int, counter uint64) uint32 {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(alg.hash(), secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return value % pow10[digits]
}

// Counter returns the time step containing now.
func Counter(now time.Time, period int) uint64 {
	unix := now.Unix()
	if unix < 0 || period <= 0 {
		return 0
	}
	return uint64(unix) / uint64(period)
}

// Valid reports whether code matches the code of any time step within
// generations steps of now. The submitted code must consist of exactly
// p.Digits decimal digits once spaces are removed, so leading zeros are
// required: "12345" never matches the code 012345.
func Valid(p Params, code string, generations int, now time.Time) bool {
	code = normalizeCode(code)
	if len(code) != p.Digits {
		return false
	}
	n, err := strconv.ParseUint(code, 10, 32)
	if err != nil {
		return false
	}
	submitted := int32(n)

	current := Counter(now, p.Period)
	for i := -generations; i <= generations; i++ {
		if i < 0 && uint64(-i) > current {
			continue
		}
		expected := int32(Code(p.Secret, p.Algorithm, p.Digits, current+uint64(int64(i))))
		if subtle.ConstantTimeEq(expected, submitted) == 1 {
			return true
		}
	}
	return false
}

// Format renders a code zero-padded to digits.
func Format(code uint32, digits int) string {
	return fmt.Sprintf("%0*d", digits, code)
}

func normalizeCode(code string) string {
	code = strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
	for _, r := range code {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return code
}

// DecodeSecret decodes a base32 secret as written by operators: case and
// whitespace are ignored and missing padding is restored.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	s = strings.TrimRight(s, "=")
	if n := len(s) % 8; n != 0 {
		s += strings.Repeat("=", 8-n)
	}
	secret, err := base32.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding base32 totp secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty totp secret")
	}
	return secret, nil
}
