package domain

// DefaultMaxConcurrentUsers applies to accounts without an explicit limit.
const DefaultMaxConcurrentUsers = 1

// Account is the tenant owning sessions. It is read-only for this service.
type Account struct {
	ID                 string
	Name               string
	MaxConcurrentUsers *int
}

// ResolveMaxConcurrentUsers returns the configured limit or the default when the field is absent.
func (a Account) ResolveMaxConcurrentUsers() int {
	if a.MaxConcurrentUsers == nil {
		return DefaultMaxConcurrentUsers
	}
	return *a.MaxConcurrentUsers
}
