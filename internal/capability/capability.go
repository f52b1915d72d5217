// Package capability reports which optional runtime capabilities are present.
// A missing capability degrades a feature; it never blocks delivery.
package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrMissing is returned by Require when a capability is unavailable.
var ErrMissing = errors.New("capability unavailable")

// Well-known capability names.
const (
	Keyring   = "keyring"
	Templates = "templates_dir"
)

// CheckFunc returns nil when the capability is usable.
type CheckFunc func(ctx context.Context) error

// Status is the outcome of one check.
type Status struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

type entry struct {
	name        string
	description string
	check       CheckFunc
}

// Checker runs registered checks.
type Checker struct {
	mu      sync.RWMutex
	entries []entry
}

// NewChecker creates a checker with no checks.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a check. Registering an existing name replaces it.
func (c *Checker) Register(name, description string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].name == name {
			c.entries[i] = entry{name, description, check}
			return
		}
	}
	c.entries = append(c.entries, entry{name, description, check})
}

// Report runs every check in registration order.
func (c *Checker) Report(ctx context.Context) []Status {
	c.mu.RLock()
	entries := append([]entry(nil), c.entries...)
	c.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		s := Status{Name: e.name, Description: e.description, Available: true}
		if err := e.check(ctx); err != nil {
			s.Available = false
			s.Detail = err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Require returns an error wrapping ErrMissing if name is unregistered or
// its check fails.
func (c *Checker) Require(ctx context.Context, name string) error {
	c.mu.RLock()
	var check CheckFunc
	for _, e := range c.entries {
		if e.name == name {
			check = e.check
			break
		}
	}
	c.mu.RUnlock()

	if check == nil {
		return fmt.Errorf("%w: %s is not registered", ErrMissing, name)
	}
	if err := check(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMissing, name, err)
	}
	return nil
}

// KeyringCheck checks that the OS secret store answers. A not-found answer
// counts as available.
func KeyringCheck(service string) CheckFunc {
	return func(context.Context) error {
		_, err := keyring.Get(service, "capability-check")
		if err == nil || errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
}

// DirCheck checks that path is a readable directory. An empty path is
// reported as not configured.
func DirCheck(path string) CheckFunc {
	return func(context.Context) error {
		if path == "" {
			return errors.New("not configured")
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", path)
		}
		return nil
	}
}
