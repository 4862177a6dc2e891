package workload

import (
	"fmt"
	"sort"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/sievelab/podgen/pkg/domain"
	kerr "github.com/sievelab/podgen/pkg/domain/errors"
	xe "github.com/sievelab/podgen/pkg/errors"
)

// Registry maps workload kinds to their definitions.
//
// Built once at process start, read-only thereafter.
type Registry struct {
	defs map[string]domain.WorkloadDefinition
}

// New builds a Registry from the sealed configuration.
//
// Each image reference is validated; a definition carrying a reference
// the container runtime would reject fails here, at startup, rather
// than at the first launch.
func New(defs []domain.WorkloadDefinition) (Registry, error) {
	table := map[string]domain.WorkloadDefinition{}
	for _, d := range defs {
		if d.Kind == "" {
			return Registry{}, xe.New("workload definition with empty kind")
		}
		if _, ok := table[d.Kind]; ok {
			return Registry{}, xe.New(fmt.Sprintf("workload kind is defined twice: %s", d.Kind))
		}
		if _, err := name.ParseReference(d.Image); err != nil {
			return Registry{}, xe.Wrap(fmt.Errorf(
				"workload %s has a bad image reference %q: %w", d.Kind, d.Image, err,
			))
		}
		if d.Timeout <= 0 {
			return Registry{}, xe.New(fmt.Sprintf("workload %s has no timeout", d.Kind))
		}
		table[d.Kind] = d
	}
	return Registry{defs: table}, nil
}

// Resolve returns the definition of a workload kind.
//
// Fails with kerr.ErrUnknownWorkload when the kind is not registered.
func (r Registry) Resolve(kind string) (domain.WorkloadDefinition, error) {
	d, ok := r.defs[kind]
	if !ok {
		return domain.WorkloadDefinition{}, fmt.Errorf("%w: %s", kerr.ErrUnknownWorkload, kind)
	}
	return d, nil
}

// Kinds returns the registered kinds, sorted.
func (r Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
