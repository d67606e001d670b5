package worker

import (
	"errors"
	"sync/atomic"
)

// ErrBudgetExhausted stops a worker once the session reached its access limit.
var ErrBudgetExhausted = errors.New("max access count reached")

// Budget caps the number of entries a session may process. It is shared by
// every worker of the session.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a Budget allowing limit accesses; zero or less means unlimited.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Take reserves one access.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	n := b.used.Add(1)
	if b.limit > 0 && n > b.limit {
		b.used.Add(-1)
		return false
	}
	return true
}

// Release returns a reservation that was not used.
func (b *Budget) Release() {
	if b == nil {
		return
	}
	b.used.Add(-1)
}

// Used reports the reserved accesses.
func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}
