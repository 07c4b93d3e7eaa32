// Package registry is the static Entity Registry: one descriptor per
// syncable entity type, enumerating required fields, field aliases, denied
// fields, server-owned fields, soft-delete capability, and the recalc hook
// invoked after an accepted mutation. Nothing here touches storage; it is
// consulted by the normalizer, version controller, and recalc dispatcher.
package registry

import "inkdown-sync-server/internal/domain"

// FieldKind is the declared shape of a payload field, checked by the
// normalizer before a value is accepted.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindJSON   FieldKind = "json"
)

// FieldSpec declares one payload field's type and whether it must be
// present on create.
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// RecalcTaskKind names one of the mandatory recalculators.
type RecalcTaskKind string

const (
	RecalcAccountBalance   RecalcTaskKind = "account_balance"
	RecalcBudgetSpent      RecalcTaskKind = "budget_spent"
	RecalcGoalProgress     RecalcTaskKind = "goal_progress"
	RecalcDebtRemaining    RecalcTaskKind = "debt_remaining"
	RecalcBucketAllocation RecalcTaskKind = "bucket_allocation"
	RecalcJameyaStatus     RecalcTaskKind = "jameya_status"
)

// RecalcTask is one derived-aggregate recomputation, keyed by the target
// row it recomputes. The dispatcher dedup-merges tasks within a batch on
// (Kind, TargetType, TargetID).
type RecalcTask struct {
	Kind       RecalcTaskKind
	TargetType domain.EntityType
	TargetID   string
}

func (t RecalcTask) key() string {
	return string(t.Kind) + "|" + string(t.TargetType) + "|" + t.TargetID
}

// MergeTasks dedups a task list, keeping first-seen order.
func MergeTasks(tasks []RecalcTask) []RecalcTask {
	seen := make(map[string]bool, len(tasks))
	out := make([]RecalcTask, 0, len(tasks))
	for _, t := range tasks {
		k := t.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// RecalcHook maps an accepted mutation to the set of recalc tasks it
// triggers. oldPayload is nil on create. newPayload is nil on a delete that
// hard-removed the row (but present, with is_deleted stripped, on soft
// delete, since the row still carries its last attributes).
type RecalcHook func(entityID string, op domain.OperationKind, oldPayload, newPayload map[string]interface{}) []RecalcTask

// Descriptor is the registry entry for one entity type.
type Descriptor struct {
	Type        domain.EntityType
	Fields      []FieldSpec
	Aliases     map[string]string // alias -> canonical field name
	Denylist    map[string]bool
	ServerOwned map[string]bool
	SoftDelete  bool
	Recalc      RecalcHook
}

func (d *Descriptor) RequiredFields() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

func (d *Descriptor) FieldSpec(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Registry is the full static table, keyed by entity_type.
type Registry struct {
	descriptors map[domain.EntityType]*Descriptor
}

func (r *Registry) Get(entityType string) (*Descriptor, bool) {
	d, ok := r.descriptors[domain.EntityType(entityType)]
	return d, ok
}

func (r *Registry) MustGet(t domain.EntityType) *Descriptor {
	d, ok := r.descriptors[t]
	if !ok {
		panic("registry: unknown entity type " + string(t))
	}
	return d
}

func (r *Registry) Types() []domain.EntityType {
	out := make([]domain.EntityType, 0, len(r.descriptors))
	for t := range r.descriptors {
		out = append(out, t)
	}
	return out
}
