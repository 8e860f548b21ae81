package browser

import (
	"errors"
	"fmt"
	"net/url"
)

// StorageState is a serialized browsing session: the cookie jar and the
// local storage of every origin. The JSON shape matches Playwright's
// storage_state files so snapshots written by older tooling load as-is.
type StorageState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}

// Cookie is one cookie jar entry. Expires is seconds since the epoch, -1 for
// session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginStorage is the local storage of one origin.
type OriginStorage struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// NameValue is a local storage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Validate reports structural problems that make the state unusable.
func (s *StorageState) Validate() error {
	if s == nil {
		return errors.New("storage state is nil")
	}
	for i, c := range s.Cookies {
		if c.Name == "" {
			return fmt.Errorf("cookie %d has no name", i)
		}
		if c.Domain == "" {
			return fmt.Errorf("cookie %q has no domain", c.Name)
		}
	}
	for i, o := range s.Origins {
		u, err := url.Parse(o.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("origin %d %q is not an absolute origin", i, o.Origin)
		}
	}
	return nil
}

// Empty reports whether the state carries nothing to restore.
func (s *StorageState) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0)
}
