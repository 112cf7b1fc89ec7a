// Package tenant holds the per-host site configuration. A Directory is built
// once at startup and is read concurrently without locking afterwards.
package tenant

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmcleod/totpauth/totp"
)

var (
	ErrDuplicateHost = errors.New("duplicate hostname")
	ErrDuplicateUser = errors.New("duplicate username")
	ErrBuilt         = errors.New("directory already built")
)

// User is one login credential within a site.
//
// Password is compared verbatim against the submitted value; it is not hashed.
type User struct {
	Name            string
	Password        string
	TOTP            totp.Params
	SessionDuration time.Duration
}

// Site is the configuration for one hostname.
type Site struct {
	Hostname    string
	Template    string
	Generations int
	users       map[string]*User
}

// NewSite creates a site with no users.
func NewSite(hostname, template string, generations int) *Site {
	return &Site{
		Hostname:    hostname,
		Template:    template,
		Generations: generations,
		users:       make(map[string]*User),
	}
}

// AddUser registers u with the site. Usernames must be unique.
func (s *Site) AddUser(u *User) error {
	if _, ok := s.users[u.Name]; ok {
		return fmt.Errorf("%s on %s: %w", u.Name, s.Hostname, ErrDuplicateUser)
	}
	s.users[u.Name] = u
	return nil
}

// User returns the named user.
func (s *Site) User(name string) (*User, bool) {
	u, ok := s.users[name]
	return u, ok
}

// SessionDuration returns the session duration of the named user. It has
// the shape expected by cookie.Authenticator.Verify.
func (s *Site) SessionDuration(name string) (time.Duration, bool) {
	u, ok := s.users[name]
	if !ok {
		return 0, false
	}
	return u.SessionDuration, true
}

// Usernames returns the site's usernames in sorted order.
func (s *Site) Usernames() []string {
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Directory maps hostnames to sites. It is immutable.
type Directory struct {
	sites map[string]*Site
}

// Lookup returns the site configured for host. Hostnames compare
// case-insensitively. A missing host is a normal outcome.
func (d *Directory) Lookup(host string) (*Site, bool) {
	s, ok := d.sites[strings.ToLower(host)]
	return s, ok
}

// Hosts returns the configured hostnames in sorted order.
func (d *Directory) Hosts() []string {
	hosts := make([]string, 0, len(d.sites))
	for _, s := range d.sites {
		hosts = append(hosts, s.Hostname)
	}
	sort.Strings(hosts)
	return hosts
}

// Len returns the number of sites.
func (d *Directory) Len() int {
	return len(d.sites)
}

// Builder accumulates sites until Build freezes them into a Directory.
type Builder struct {
	sites map[string]*Site
	built bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{sites: make(map[string]*Site)}
}

// Add registers site. Hostnames must be unique.
func (b *Builder) Add(site *Site) error {
	if b.built {
		return ErrBuilt
	}
	key := strings.ToLower(site.Hostname)
	if _, ok := b.sites[key]; ok {
		return fmt.Errorf("%s: %w", site.Hostname, ErrDuplicateHost)
	}
	b.sites[key] = site
	return nil
}

// Build returns the Directory. The builder and the sites it holds must not
// be modified afterwards; further Add calls fail with ErrBuilt.
func (b *Builder) Build() *Directory {
	b.built = true
	sites := make(map[string]*Site, len(b.sites))
	for k, v := range b.sites {
		sites[k] = v
	}
	return &Directory{sites: sites}
}
