package utils

// Value dereferences v, returning the zero value for nil. The service sends optional
// profile and account fields as null.
func Value[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

// Ptr returns a pointer to a copy of v, for building partial update bodies.
func Ptr[T any](v T) *T {
	return &v
}
