package registry

// Slot is one position of a module chain. An absent slot holds no module for
// the chain's side (e.g. a server-only module in a client chain) and is
// skipped during invocation; it never counts as a failure.
type Slot[M any] struct {
	id      string
	module  M
	present bool
}

// Present returns a slot holding m.
func Present[M any](id string, m M) Slot[M] {
	return Slot[M]{id: id, module: m, present: true}
}

// Absent returns an empty slot for the configured module id.
func Absent[M any](id string) Slot[M] {
	return Slot[M]{id: id}
}

// Module returns the held module and whether the slot is present.
func (s Slot[M]) Module() (M, bool) {
	return s.module, s.present
}

// ID returns the configured module identifier.
func (s Slot[M]) ID() string {
	return s.id
}

// IsPresent reports whether the slot holds a module.
func (s Slot[M]) IsPresent() bool {
	return s.present
}
