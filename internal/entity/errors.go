package entity

import "fmt"

// AlreadyExistsError is the domain-facing duplicate error the guard returns
// before an online insert, distinct from the remote store's constraint error
// so the caller can present it as such.
type AlreadyExistsError struct {
	Table string
	Field string
	Value string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with %s %q already exists", e.Table, e.Field, e.Value)
}
