package tenant

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/totpauth/totp"
)

func newUser(name string) *User {
	return &User{
		Name:            name,
		Password:        "pw-" + name,
		TOTP:            totp.Params{Secret: []byte("secret"), Algorithm: totp.SHA1, Digits: 6, Period: 30},
		SessionDuration: time.Hour,
	}
}

func TestDirectoryLookup(t *testing.T) {
	b := NewBuilder()
	site := NewSite("Example.com", "default", 1)
	require.NoError(t, site.AddUser(newUser("alice")))
	require.NoError(t, b.Add(site))
	require.NoError(t, b.Add(NewSite("other.org", "minimal", 0)))
	dir := b.Build()

	got, ok := dir.Lookup("example.com")
	require.True(t, ok)
	assert.Same(t, site, got)

	_, ok = dir.Lookup("EXAMPLE.COM")
	assert.True(t, ok)

	_, ok = dir.Lookup("unknown.net")
	assert.False(t, ok, "unknown hosts are a normal outcome")

	assert.Equal(t, []string{"Example.com", "other.org"}, dir.Hosts())
	assert.Equal(t, 2, dir.Len())
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add(NewSite("example.com", "default", 1)))
	assert.ErrorIs(t, b.Add(NewSite("EXAMPLE.com", "default", 1)), ErrDuplicateHost)

	site := NewSite("x.org", "default", 1)
	require.NoError(t, site.AddUser(newUser("alice")))
	assert.ErrorIs(t, site.AddUser(newUser("alice")), ErrDuplicateUser)
}

func TestBuildFreezes(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add(NewSite("example.com", "default", 1)))
	dir := b.Build()

	assert.ErrorIs(t, b.Add(NewSite("late.org", "default", 1)), ErrBuilt)
	_, ok := dir.Lookup("late.org")
	assert.False(t, ok)
}

func TestSiteUsers(t *testing.T) {
	site := NewSite("example.com", "default", 1)
	require.NoError(t, site.AddUser(newUser("bob")))
	require.NoError(t, site.AddUser(newUser("alice")))

	u, ok := site.User("alice")
	require.True(t, ok)
	assert.Equal(t, "pw-alice", u.Password)

	d, ok := site.SessionDuration("bob")
	require.True(t, ok)
	assert.Equal(t, time.Hour, d)

	_, ok = site.SessionDuration("mallory")
	assert.False(t, ok)

	assert.Equal(t, []string{"alice", "bob"}, site.Usernames())
}

func TestConcurrentLookup(t *testing.T) {
	b := NewBuilder()
	site := NewSite("example.com", "default", 1)
	require.NoError(t, site.AddUser(newUser("alice")))
	require.NoError(t, b.Add(site))
	dir := b.Build()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s, ok := dir.Lookup("example.com")
				if assert.True(t, ok) {
					_, ok = s.User("alice")
					assert.True(t, ok)
				}
			}
		}()
	}
	wg.Wait()
}
