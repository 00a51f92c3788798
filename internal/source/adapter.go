// Package source defines the evidence adapter interface and its HTTP-backed
// implementations for the telemetry backends that corroborate dependency
// claims.
package source

import (
	"context"
	"sync"
	"time"

	"github.com/topolens/verity/internal/model"
)

// Adapter normalizes evidence from one telemetry backend into a common
// record. FetchEvidence returns (nil, nil) when the backend has no evidence
// for the pair; "not found" is never an error.
type Adapter interface {
	// Kind returns the source kind this adapter observes.
	Kind() model.SourceKind
	// FetchEvidence looks for evidence of a dependency from sourceID to
	// targetID within the lookback window.
	FetchEvidence(ctx context.Context, sourceID, targetID string, window time.Duration) (*model.EvidenceRecord, error)
}

// HealthSource reports the observed condition of a resource, used to resolve
// pending predictions against ground truth.
type HealthSource interface {
	ObservedOutcome(ctx context.Context, resourceID string, asOf time.Time) (model.HealthState, error)
}

// Registry manages the configured evidence adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.SourceKind]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[model.SourceKind]Adapter),
	}
}

// Register adds an adapter to the registry, replacing any prior adapter for
// the same kind.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for a kind, or nil if not registered.
func (r *Registry) Get(kind model.SourceKind) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[kind]
}

// All returns every registered adapter in stable source-kind order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, kind := range model.AllSourceKinds() {
		if a, ok := r.adapters[kind]; ok {
			out = append(out, a)
		}
	}
	return out
}
