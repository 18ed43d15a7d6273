package helpers

// Ptr returns a pointer to val. Handy for optional struct fields.
func Ptr[T any](val T) *T {
	return &val
}

// Value dereferences val, returning the zero value for nil.
func Value[T any](val *T) T {
	if val == nil {
		var zero T
		return zero
	}
	return *val
}
