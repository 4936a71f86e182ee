// Package mount binds pipelines to path prefixes.
//
// A Registry is built once at startup by Build and never changes afterwards.
// A spec that cannot be mounted is rejected with a *domain.MountError and
// skipped; the remaining specs still register.
package mount

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/schema"
)

// Reserved lists gateway-level path prefixes no mount may claim.
var Reserved = []string{"/healthz", "/metrics", "/_gateway"}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// Spec describes one mount to register.
type Spec struct {
	Path        string
	Name        string
	Description string
	BatchPolicy domain.BatchPolicy

	// Pipeline is the instance to serve. When nil, New is called instead.
	Pipeline ports.Pipeline
	// New creates the pipeline; its failure rejects the mount.
	New func() (ports.Pipeline, error)
}

// Mount is a registered pipeline. It is immutable and shared by all
// requests.
type Mount struct {
	Path        string
	Name        string
	Description string
	Pipeline    ports.Pipeline
	Schemas     *schema.Set
	Modes       []domain.Mode
	BatchPolicy domain.BatchPolicy
}

// Supports reports whether the mount serves mode.
func (m *Mount) Supports(mode domain.Mode) bool {
	for _, supported := range m.Modes {
		if supported == mode {
			return true
		}
	}
	return false
}

// Info returns the mount's display metadata.
func (m *Mount) Info() domain.MountInfo {
	modes := make([]domain.Mode, len(m.Modes))
	copy(modes, m.Modes)
	info := domain.MountInfo{
		Path:        m.Path,
		Name:        m.Name,
		Description: m.Description,
		Modes:       modes,
	}
	if m.Supports(domain.ModeBatch) {
		info.BatchPolicy = m.BatchPolicy
	}
	return info
}

// Registry holds the registered mounts and the errors of rejected ones.
type Registry struct {
	mounts []*Mount
	byPath map[string]*Mount
	errs   []*domain.MountError
}

// Build registers every spec it can. Rejected specs are logged and
// reported by Errors.
func Build(logger *slog.Logger, specs ...Spec) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{byPath: make(map[string]*Mount)}

	for _, spec := range specs {
		m, err := r.register(spec)
		if err != nil {
			mountErr := &domain.MountError{Path: spec.Path, Err: err}
			r.errs = append(r.errs, mountErr)
			logger.Error("mount rejected",
				slog.String("path", spec.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("mount registered",
			slog.String("path", m.Path),
			slog.String("name", m.Name),
			slog.Any("modes", m.Modes),
		)
	}

	sort.Slice(r.mounts, func(i, j int) bool {
		return r.mounts[i].Path < r.mounts[j].Path
	})
	return r
}

func (r *Registry) register(spec Spec) (m *Mount, err error) {
	// A panicking pipeline constructor or Shape must not take down the
	// other mounts.
	defer func() {
		if rec := recover(); rec != nil {
			m, err = nil, fmt.Errorf("panic while mounting: %v", rec)
		}
	}()

	path, err := NormalizePath(spec.Path)
	if err != nil {
		return nil, err
	}
	if err := r.checkConflicts(path); err != nil {
		return nil, err
	}

	policy := spec.BatchPolicy
	switch policy {
	case "":
		policy = domain.BatchPartial
	case domain.BatchPartial, domain.BatchAllOrNothing:
	default:
		return nil, fmt.Errorf("unknown batch policy %q", policy)
	}

	p := spec.Pipeline
	if p == nil {
		if spec.New == nil {
			return nil, errors.New("no pipeline given")
		}
		if p, err = spec.New(); err != nil {
			return nil, fmt.Errorf("create pipeline: %w", err)
		}
		if p == nil {
			return nil, errors.New("create pipeline: constructor returned nil")
		}
	}

	modes := ports.Modes(p)
	if len(modes) == 0 {
		return nil, errors.New("pipeline supports no invocation mode")
	}

	schemas, err := schema.NewSet(p.Shape())
	if err != nil {
		return nil, fmt.Errorf("derive schemas: %w", err)
	}

	name := spec.Name
	if name == "" {
		name = strings.TrimPrefix(path, "/")
	}

	m = &Mount{
		Path:        path,
		Name:        name,
		Description: spec.Description,
		Pipeline:    p,
		Schemas:     schemas,
		Modes:       modes,
		BatchPolicy: policy,
	}
	r.mounts = append(r.mounts, m)
	r.byPath[path] = m
	return m, nil
}

// checkConflicts rejects duplicates, reserved prefixes and mounts nested
// inside one another.
func (r *Registry) checkConflicts(path string) error {
	if _, exists := r.byPath[path]; exists {
		return fmt.Errorf("duplicate mount path %s", path)
	}
	for _, reserved := range Reserved {
		if overlaps(path, reserved) {
			return fmt.Errorf("path %s is reserved by the gateway", reserved)
		}
	}
	for existing := range r.byPath {
		if overlaps(path, existing) {
			return fmt.Errorf("path overlaps mount %s", existing)
		}
	}
	return nil
}

func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// NormalizePath validates a mount prefix and strips a trailing slash.
func NormalizePath(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path %q must start with /", path)
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "", errors.New("path must not be the root")
	}
	for _, segment := range strings.Split(path[1:], "/") {
		if !segmentPattern.MatchString(segment) || segment == "." || segment == ".." {
			return "", fmt.Errorf("path %q has invalid segment %q", path, segment)
		}
	}
	return path, nil
}

// Mounts returns the registered mounts sorted by path.
func (r *Registry) Mounts() []*Mount {
	out := make([]*Mount, len(r.mounts))
	copy(out, r.mounts)
	return out
}

// Lookup returns the mount registered at path.
func (r *Registry) Lookup(path string) (*Mount, bool) {
	m, ok := r.byPath[path]
	return m, ok
}

// Errors returns the mount errors of rejected specs, in spec order.
func (r *Registry) Errors() []*domain.MountError {
	out := make([]*domain.MountError, len(r.errs))
	copy(out, r.errs)
	return out
}
