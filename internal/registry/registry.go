// Package registry maps entity type tags to the stores that own the
// canonical domain records. The sync engine dispatches through it and
// never inspects clinical fields itself.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/medisync/medisync-go/internal/model"
)

var ErrUnknownEntityType = errors.New("unknown entity type")

// EntityStore is the per-type collaborator the host application
// supplies. Implementations own the canonical records; the engine only
// references them by id.
type EntityStore interface {
	Create(ctx context.Context, id int64, data model.Payload) error
	Update(ctx context.Context, id int64, data model.Payload) error
	Delete(ctx context.Context, id int64) error
}

// Definition binds a store to the merge policy for its entity type.
// CriticalFields are the fields the server always wins during
// automatic conflict resolution: identifiers, creation timestamps,
// and foreign keys other records depend on.
type Definition struct {
	Store          EntityStore
	CriticalFields []string
}

// Registry is the dispatch table from entity type to definition.
// Populated at startup, read-only afterwards.
type Registry struct {
	defs map[model.EntityType]Definition
}

func New() *Registry {
	return &Registry{defs: make(map[model.EntityType]Definition)}
}

// Register binds an entity type to its store and policy. Later
// registrations for the same type replace earlier ones.
func (r *Registry) Register(t model.EntityType, def Definition) {
	r.defs[t] = def
}

// Lookup returns the definition for an entity type.
func (r *Registry) Lookup(t model.EntityType) (Definition, error) {
	def, ok := r.defs[t]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	return def, nil
}

// Known reports whether the entity type is registered.
func (r *Registry) Known(t model.EntityType) bool {
	_, ok := r.defs[t]
	return ok
}

// Types returns the registered entity types in stable order.
func (r *Registry) Types() []model.EntityType {
	types := make([]model.EntityType, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// DefaultCriticalFields is the baseline server-wins policy applied to
// every clinical entity type unless the host overrides it.
func DefaultCriticalFields(t model.EntityType) []string {
	base := []string{"id", "created_at"}
	switch t {
	case model.EntityPatient:
		// The verified contact number: reminder delivery depends on
		// it, so an offline edit never silently overwrites it.
		return append(base, "phone")
	case model.EntityAppointment:
		return append(base, "patient_id", "scheduled_by")
	case model.EntityFollowUp:
		return append(base, "patient_id", "appointment_id")
	case model.EntityMedicalRecord:
		return append(base, "patient_id", "recorded_by")
	case model.EntityCHWVisit:
		return append(base, "patient_id", "chw_id")
	case model.EntityCaregiver:
		return append(base, "patient_id")
	}
	return base
}
