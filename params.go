package dynexp

import (
	"fmt"

	"github.com/dynexp-go/core/syncutil"
)

// FieldKind enumerates the supported Params field types.
type FieldKind uint8

const (
	FieldKindString FieldKind = iota
	FieldKindInt
	FieldKindFloat
	FieldKindBool
	FieldKindEnum
	FieldKindObjectLink
)

// Bounds constrains a numeric field's allowed range. Min == Max == 0 means
// unbounded.
type Bounds struct {
	Min, Max float64
	Bounded  bool
}

// Field is one persistable, introspectable configuration entry.
type Field struct {
	Key         string
	Label       string
	Description string
	Kind        FieldKind

	Default any
	value   any

	Bounds  Bounds
	Allowed []string // for FieldKindEnum

	// LinkCapability names the manager category an ObjectLink field
	// resolves against ("Hardware", "Instrument", "Module").
	LinkCapability string
	linkTargets    []ItemID
}

// Value returns the field's current value (falling back to its default if
// never set).
func (f *Field) Value() any {
	if f.value == nil {
		return f.Default
	}
	return f.value
}

// SetValue assigns the field's current value.
func (f *Field) SetValue(v any) { f.value = v }

// LinkTargets returns the target ItemIDs for a FieldKindObjectLink field.
func (f *Field) LinkTargets() []ItemID { return f.linkTargets }

// SetLinkTargets assigns the target ItemIDs for a FieldKindObjectLink field.
func (f *Field) SetLinkTargets(ids []ItemID) { f.linkTargets = ids }

// Params is the ordered, lockable collection of Fields belonging to an
// Object. Params are persisted by the xmlproject package (Load fills the
// fields in, Graph.Save writes them out).
type Params struct {
	lock   *syncutil.RecursiveLock
	fields []*Field
	byKey  map[string]*Field

	// Unrecognized retains the raw (key, value) pairs found in a decoded
	// document that no registered Field claimed, so a caller may choose
	// to preserve them. Loading them sets a warning on the object, and
	// Graph.Save does not write them back.
	Unrecognized map[string]string
}

// NewParams constructs an empty Params collection.
func NewParams() *Params {
	return &Params{
		lock:         syncutil.NewRecursiveLock(),
		byKey:        make(map[string]*Field),
		Unrecognized: make(map[string]string),
	}
}

// Register adds a Field to the ordered collection. Panics on a duplicate
// key, which is a programming error, not a runtime condition.
func (p *Params) Register(f *Field) *Field {
	guard, err := p.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		panic(err)
	}
	defer guard.Release()

	if _, exists := p.byKey[f.Key]; exists {
		panic(fmt.Sprintf("dynexp: duplicate param key %q", f.Key))
	}
	p.fields = append(p.fields, f)
	p.byKey[f.Key] = f
	return f
}

// Fields returns the ordered list of registered fields.
func (p *Params) Fields() []*Field {
	guard, err := p.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return nil
	}
	defer guard.Release()
	out := make([]*Field, len(p.fields))
	copy(out, p.fields)
	return out
}

// Get looks up a field by key.
func (p *Params) Get(key string) (*Field, bool) {
	guard, err := p.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return nil, false
	}
	defer guard.Release()
	f, ok := p.byKey[key]
	return f, ok
}

// Lock exposes the Params' own lock so compound read/write sequences (e.g.
// those performed while resolving ObjectLink fields during configuration)
// can be done under one critical section.
func (p *Params) Lock() *syncutil.RecursiveLock { return p.lock }
