// Package ports hands out backend ports from a fixed inclusive range.
package ports

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrExhausted is returned when every port in the range is held.
var ErrExhausted = errors.New("ports: range exhausted")

type lease struct {
	ownerID string
	project string
}

// Allocator tracks which ports in [min, max] are leased to which project.
// All methods are safe for concurrent use.
type Allocator struct {
	mu   sync.Mutex
	min  int
	max  int
	held map[int]lease
}

// NewAllocator builds an allocator over the inclusive range [min, max].
func NewAllocator(min, max int) (*Allocator, error) {
	if min <= 0 || max < min {
		return nil, fmt.Errorf("ports: invalid range [%d, %d]", min, max)
	}
	return &Allocator{min: min, max: max, held: make(map[int]lease)}, nil
}

// Allocate returns the lowest unheld port in the range, bound to the given
// (owner, project) pair. Ascending scan keeps allocation deterministic and
// favors port reuse after releases.
func (a *Allocator) Allocate(ownerID, project string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for port := a.min; port <= a.max; port++ {
		if _, taken := a.held[port]; !taken {
			a.held[port] = lease{ownerID: ownerID, project: project}
			return port, nil
		}
	}
	return 0, ErrExhausted
}

// Release frees a port previously allocated to (owner, project). Releasing an
// unheld port, or a port held by a different key, is a no-op.
func (a *Allocator) Release(port int, ownerID, project string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.held[port]
	if !ok {
		return
	}
	if l.ownerID != ownerID || l.project != project {
		return
	}
	delete(a.held, port)
}

// Used returns the currently held ports in ascending order.
func (a *Allocator) Used() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	used := make([]int, 0, len(a.held))
	for port := range a.held {
		used = append(used, port)
	}
	sort.Ints(used)
	return used
}
