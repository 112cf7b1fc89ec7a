// Package cookie mints and verifies the self-validating session tokens handed
// to browsers after a successful login.
//
// A token has the form
//
//	issued_at ":" hex(username) ":" hex(HMAC-SHA1(secret, issued_at ":" hex(username)))
//
// No session state is kept server side. A token is valid while the MAC matches
// and the user's configured session duration has not elapsed since issued_at.
package cookie

import (
	"crypto/hmac"
	"crypto/sha1"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/totpauth/internal/util"
)

// Name is the cookie carrying the session token.
const Name = "authentication-token"

const generatedSecretBytes = 32

// LookupFunc returns the session duration of a known user.
type LookupFunc func(username string) (time.Duration, bool)

// Authenticator holds the process-wide server secret.
type Authenticator struct {
	secret *memguard.LockedBuffer
}

// New creates an Authenticator keyed with secret. The slice is moved into
// locked memory and wiped. An empty secret generates a random one, which
// invalidates every previously issued cookie on each restart.
func New(secret []byte) (*Authenticator, error) {
	if len(secret) == 0 {
		raw, err := util.RandomBytes(generatedSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generating cookie secret: %w", err)
		}
		secret = raw
	}
	buf := memguard.NewBufferFromBytes(secret)
	buf.Freeze()
	return &Authenticator{secret: buf}, nil
}

// Destroy wipes the server secret. The Authenticator must not be used afterwards.
func (a *Authenticator) Destroy() {
	a.secret.Destroy()
}

// Issue mints a token for username stamped with now.
func (a *Authenticator) Issue(username string, now time.Time) string {
	payload := strconv.FormatInt(now.Unix(), 10) + ":" + util.HexEncode([]byte(username))
	return payload + ":" + util.HexEncode(a.sign(payload))
}

// Verify checks token and returns the username it was issued to. Every
// failure (malformed token, unknown user, expiry, bad MAC) yields the same
// false result.
func (a *Authenticator) Verify(token string, lookup LookupFunc, now time.Time) (string, bool) {
	p1 := strings.IndexByte(token, ':')
	if p1 < 0 {
		return "", false
	}
	p2 := strings.IndexByte(token[p1+1:], ':')
	if p2 < 0 {
		return "", false
	}
	p2 += p1 + 1

	issued, err := strconv.ParseInt(token[:p1], 10, 64)
	if err != nil {
		return "", false
	}
	user, err := util.HexDecode(token[p1+1 : p2])
	if err != nil {
		return "", false
	}
	mac, err := util.HexDecode(token[p2+1:])
	if err != nil {
		return "", false
	}

	username := string(user)
	duration, ok := lookup(username)
	if !ok {
		return "", false
	}
	if now.Unix() > issued+int64(duration/time.Second) {
		return "", false
	}
	if !hmac.Equal(mac, a.sign(token[:p2])) {
		return "", false
	}
	return username, true
}

func (a *Authenticator) sign(payload string) []byte {
	mac := hmac.New(sha1.New, a.secret.Bytes())
	_, _ = mac.Write([]byte(payload))
	return mac.Sum(nil)
}
