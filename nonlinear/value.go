package nonlinear

import (
	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/ordering"
)

// Value is a point on the manifold a variable lives on. Retract moves the
// point by a local tangent increment and must not mutate the receiver.
type Value interface {
	Dim() int
	Retract(delta []float64) Value
}

// Values maps variable keys to their current manifold points. It is the
// linearization point of a nonlinear system.
type Values struct {
	m map[core.Key]Value
}

// NewValues returns an empty set.
func NewValues() *Values {
	return &Values{m: make(map[core.Key]Value)}
}

// Insert stores v under key. Inserting an existing key overwrites it.
func (vs *Values) Insert(key core.Key, v Value) {
	vs.m[key] = v
}

// At returns the value stored under key.
func (vs *Values) At(key core.Key) (Value, bool) {
	v, ok := vs.m[key]
	return v, ok
}

// Has reports whether key is present.
func (vs *Values) Has(key core.Key) bool {
	_, ok := vs.m[key]
	return ok
}

// Len returns the number of stored variables.
func (vs *Values) Len() int { return len(vs.m) }

// Keys returns all stored keys in unspecified order.
func (vs *Values) Keys() []core.Key {
	keys := make([]core.Key, 0, len(vs.m))
	for k := range vs.m {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a shallow copy. Values are immutable under Retract, so
// sharing them between clones is safe.
func (vs *Values) Clone() *Values {
	m := make(map[core.Key]Value, len(vs.m))
	for k, v := range vs.m {
		m[k] = v
	}
	return &Values{m: m}
}

// Retract returns a new set where every variable is moved by its block of
// delta, looked up through ord. Variables without a delta block keep their
// point.
func (vs *Values) Retract(delta linear.View, ord *ordering.Ordering) *Values {
	m := make(map[core.Key]Value, len(vs.m))
	for k, v := range vs.m {
		i, ok := ord.IndexOf(k)
		if !ok || i >= delta.Len() {
			m[k] = v
			continue
		}
		m[k] = v.Retract(delta.At(i))
	}
	return &Values{m: m}
}

// RetractKey returns the single variable under key moved by delta.
func (vs *Values) RetractKey(key core.Key, delta []float64) (Value, bool) {
	v, ok := vs.m[key]
	if !ok {
		return nil, false
	}
	return v.Retract(delta), true
}
