package types

// Optional carries a tri-state field for partial updates: the zero value
// means "leave unchanged", Null means "set to NULL", Set(v) means "set to
// v". It replaces the update-sentinel convention with something the
// compiler checks.
type Optional[T any] struct {
	set   bool
	value *T
}

// Set returns an Optional that updates the field to v.
func Set[T any](v T) Optional[T] {
	return Optional[T]{set: true, value: &v}
}

// Null returns an Optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{set: true}
}

// IsSet reports whether the field should be written at all.
func (o Optional[T]) IsSet() bool { return o.set }

// Value returns the pointer to write: nil means NULL. Only meaningful when
// IsSet is true.
func (o Optional[T]) Value() *T { return o.value }
