// Package provider abstracts the text-generation backends agents are bound to.
//
// Each agent stores a provider identifier; the Registry resolves it to one
// Provider implementation. HTTP providers report failures as *Error, which
// callers inspect with IsUpstream and StatusCode rather than by type assertion.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
}

// Provider generates text for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Provider interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, req Request) (string, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f.Fn(ctx, req)
}

// Error is a failed provider call: transport failure, non-2xx status, or a
// body that could not be decoded.
type Error struct {
	provider   string
	operation  string
	statusCode int
	message    string
	err        error
}

func (e *Error) Error() string {
	if e.statusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.provider, e.operation, e.statusCode, e.message)
	}
	if e.err != nil {
		return fmt.Sprintf("%s %s: %v", e.provider, e.operation, e.err)
	}
	return fmt.Sprintf("%s %s: %s", e.provider, e.operation, e.message)
}

func (e *Error) Unwrap() error { return e.err }

// StatusCode returns the HTTP status, or 0 for transport and decode failures.
func (e *Error) StatusCode() int { return e.statusCode }

// Provider returns the provider identifier.
func (e *Error) Provider() string { return e.provider }

// IsUpstream reports whether err came from a provider call.
func IsUpstream(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.statusCode
	}
	return 0
}

// Registry maps provider identifiers to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces p under p.Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Resolve returns the provider registered under name.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// Names returns the registered identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
