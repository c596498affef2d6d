package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// Backend is a Capability that also advertises the tools it serves.
type Backend interface {
	Capability
	Name() string
	Tools() []types.ToolSpec
}

// Router dispatches tool calls to the backend that owns the tool name.
// Backends registered first win on name collisions.
type Router struct {
	mu       sync.RWMutex
	backends []Backend
	static   []types.ToolSpec
	disabled []string
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register adds a backend. Registering a backend with an existing name
// replaces it.
func (r *Router) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.backends {
		if existing.Name() == b.Name() {
			r.backends[i] = b
			return
		}
	}
	r.backends = append(r.backends, b)
}

// Unregister removes a backend by name.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.backends {
		if b.Name() == name {
			r.backends = append(r.backends[:i], r.backends[i+1:]...)
			return
		}
	}
}

// Configure sets the statically configured catalog and the disabled-tool
// glob patterns.
func (r *Router) Configure(static []types.ToolSpec, disabled []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static = append([]types.ToolSpec(nil), static...)
	r.disabled = append([]string(nil), disabled...)
}

// Catalog returns the tools advertised to the model: configured tools first,
// then backend tools, deduplicated by name and filtered by the disabled
// patterns.
func (r *Router) Catalog() []types.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []types.ToolSpec
	add := func(spec types.ToolSpec) {
		if seen[spec.Name] || r.isDisabled(spec.Name) {
			return
		}
		seen[spec.Name] = true
		out = append(out, spec)
	}
	for _, spec := range r.static {
		add(spec)
	}
	for _, b := range r.backends {
		for _, spec := range b.Tools() {
			add(spec)
		}
	}
	return out
}

func (r *Router) isDisabled(name string) bool {
	for _, pattern := range r.disabled {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (r *Router) owner(name string) Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		for _, spec := range b.Tools() {
			if spec.Name == name {
				return b
			}
		}
	}
	return nil
}

// IsActionTool implements Capability.
func (r *Router) IsActionTool(name string) bool {
	if b := r.owner(name); b != nil {
		return b.IsActionTool(name)
	}
	return false
}

// CaptureScreenshot asks each backend in turn until one can capture.
func (r *Router) CaptureScreenshot(ctx context.Context) (string, error) {
	r.mu.RLock()
	backends := append([]Backend(nil), r.backends...)
	r.mu.RUnlock()

	var errs []error
	for _, b := range backends {
		shot, err := b.CaptureScreenshot(ctx)
		if err == nil {
			return shot, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !errors.Is(err, ErrScreenshotUnsupported) {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	if len(errs) == 0 {
		return "", ErrScreenshotUnsupported
	}
	return "", errors.Join(errs...)
}

// CallTool implements Capability.
func (r *Router) CallTool(ctx context.Context, name string, input json.RawMessage, messageID string) (Result, error) {
	r.mu.RLock()
	disabled := r.isDisabled(name)
	r.mu.RUnlock()
	if disabled {
		return Failure(fmt.Sprintf("tool %q is disabled", name)), nil
	}

	b := r.owner(name)
	if b == nil {
		return Failure(r.unknownToolMessage(name)), nil
	}
	return b.CallTool(ctx, name, input, messageID)
}

func (r *Router) unknownToolMessage(name string) string {
	catalog := r.Catalog()
	names := make([]string, 0, len(catalog))
	for _, spec := range catalog {
		names = append(names, spec.Name)
	}
	if suggestion := closest(name, names); suggestion != "" {
		return fmt.Sprintf("no executor available for tool %q; did you mean %q?", name, suggestion)
	}
	return fmt.Sprintf("no executor available for tool %q", name)
}

// closest returns the candidate with the smallest edit distance, provided it
// is close enough to be a plausible typo.
func closest(name string, candidates []string) string {
	sort.Strings(candidates)
	best, bestDist := "", -1
	for _, c := range candidates {
		if c == name {
			continue
		}
		d := levenshtein.ComputeDistance(name, c)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || bestDist > len(name)/2+1 {
		return ""
	}
	return best
}
