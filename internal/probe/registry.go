// Package probe holds host-injected test probe values. Each value is consumed
// exactly once by the call site it was queued for.
package probe

import (
	"errors"
	"fmt"

	"github.com/danmuck/tracectl/internal/crit"
)

// Capacity is the number of pending probes the table can hold.
const Capacity = 16

var ErrFull = errors.New("probe: table full")

type slot struct {
	site uint64
	data uint32
}

// Registry is a fixed table of pending probes in injection order.
type Registry struct {
	sec   crit.Section
	slots [Capacity]slot
	n     int
	// onConsume runs outside the section after a hit.
	onConsume func(site uint64, data uint32)
}

// New returns an empty registry. onConsume may be nil.
func New(sec crit.Section, onConsume func(site uint64, data uint32)) *Registry {
	if sec == nil {
		sec = crit.NewSpin()
	}
	return &Registry{sec: sec, onConsume: onConsume}
}

// Inject queues data for site behind any values already pending for it.
func (r *Registry) Inject(site uint64, data uint32) error {
	r.sec.Enter()
	defer r.sec.Exit()
	if r.n == Capacity {
		return fmt.Errorf("%w: site=0x%X", ErrFull, site)
	}
	r.slots[r.n] = slot{site: site, data: data}
	r.n++
	return nil
}

// Consume returns and removes the oldest value pending for site. Without one
// it returns 0 and changes nothing.
func (r *Registry) Consume(site uint64) uint32 {
	data, ok := r.take(site)
	if !ok {
		return 0
	}
	if r.onConsume != nil {
		r.onConsume(site, data)
	}
	return data
}

func (r *Registry) take(site uint64) (uint32, bool) {
	r.sec.Enter()
	defer r.sec.Exit()
	for i := 0; i < r.n; i++ {
		if r.slots[i].site != site {
			continue
		}
		data := r.slots[i].data
		copy(r.slots[i:r.n-1], r.slots[i+1:r.n])
		r.n--
		r.slots[r.n] = slot{}
		return data, true
	}
	return 0, false
}

// Pending returns the number of queued values.
func (r *Registry) Pending() int {
	r.sec.Enter()
	defer r.sec.Exit()
	return r.n
}

// Clear drops every pending value.
func (r *Registry) Clear() {
	r.sec.Enter()
	defer r.sec.Exit()
	r.slots = [Capacity]slot{}
	r.n = 0
}
