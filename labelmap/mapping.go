/*
Package labelmap records the label remapping produced by agglomeration and
provides ways to persist and export it.
*/
package labelmap

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Set is a set of labels.
type Set map[uint64]struct{}

func (s Set) String() string {
	sorted := s.Sorted()
	strs := make([]string, len(sorted))
	for i, label := range sorted {
		strs[i] = fmt.Sprintf("%d", label)
	}
	return "[" + strings.Join(strs, ",") + "]"
}

// Sorted returns the labels in ascending order.
func (s Set) Sorted() []uint64 {
	out := make([]uint64, 0, len(s))
	for label := range s {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Mapping is a thread-safe, mutable mapping of labels to labels, where each
// merge of label a into label b is recorded as a -> b.  Chains of merges are
// resolved by FinalLabel.  The zero value is ready to use.
type Mapping struct {
	sync.RWMutex
	f map[uint64]uint64
	r map[uint64]Set
}

func NewMapping() *Mapping {
	return &Mapping{}
}

// Set records a mapping from -> to, replacing any earlier mapping of from.
func (m *Mapping) Set(from, to uint64) {
	m.Lock()
	m.set(from, to)
	m.Unlock()
}

func (m *Mapping) set(from, to uint64) {
	if m.f == nil {
		m.f = make(map[uint64]uint64)
		m.r = make(map[uint64]Set)
	}
	if prev, found := m.f[from]; found {
		if s := m.r[prev]; s != nil {
			delete(s, from)
			if len(s) == 0 {
				delete(m.r, prev)
			}
		}
	}
	m.f[from] = to
	s, found := m.r[to]
	if !found {
		s = make(Set)
		m.r[to] = s
	}
	s[from] = struct{}{}
}

// Get returns the direct mapping of a label and whether one exists.
func (m *Mapping) Get(label uint64) (uint64, bool) {
	if m == nil {
		return label, false
	}
	m.RLock()
	defer m.RUnlock()
	to, found := m.f[label]
	return to, found
}

// Len returns the number of mapped labels.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	m.RLock()
	defer m.RUnlock()
	return len(m.f)
}

func (m *Mapping) final(label uint64) (uint64, bool) {
	cur, found := m.f[label]
	if !found {
		return label, false
	}
	for steps := 0; steps <= len(m.f); steps++ {
		next, found := m.f[cur]
		if !found {
			return cur, true
		}
		cur = next
	}
	return label, false
}

// FinalLabel follows the mapping chain from a label and returns the final
// label and true, or the label itself and false if it is not mapped.  Cycles
// are reported as unmapped.
func (m *Mapping) FinalLabel(label uint64) (uint64, bool) {
	if m == nil {
		return label, false
	}
	m.RLock()
	defer m.RUnlock()
	return m.final(label)
}

// Compress rewrites every mapping to point directly at its final label.
func (m *Mapping) Compress() {
	m.Lock()
	defer m.Unlock()
	finals := make(map[uint64]uint64, len(m.f))
	for from := range m.f {
		if to, ok := m.final(from); ok {
			finals[from] = to
		}
	}
	for from, to := range finals {
		m.set(from, to)
	}
}

// ConstituentLabels returns all labels that map, possibly through a chain, to
// the given final label, including the final label itself.
func (m *Mapping) ConstituentLabels(final uint64) Set {
	out := Set{final: {}}
	if m == nil {
		return out
	}
	m.RLock()
	defer m.RUnlock()
	stack := []uint64{final}
	for len(stack) > 0 {
		label := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for from := range m.r[label] {
			if _, seen := out[from]; !seen {
				out[from] = struct{}{}
				stack = append(stack, from)
			}
		}
	}
	return out
}

// MappedLabels maps each label to its final label.  Unmapped labels are
// returned unchanged.
func (m *Mapping) MappedLabels(labels []uint64) []uint64 {
	mapped := make([]uint64, len(labels))
	if m == nil {
		copy(mapped, labels)
		return mapped
	}
	m.RLock()
	defer m.RUnlock()
	for i, label := range labels {
		mapped[i], _ = m.final(label)
	}
	return mapped
}

// Table returns every mapped label with its final label.
func (m *Mapping) Table() map[uint64]uint64 {
	out := make(map[uint64]uint64)
	if m == nil {
		return out
	}
	m.RLock()
	defer m.RUnlock()
	for from := range m.f {
		if to, ok := m.final(from); ok {
			out[from] = to
		}
	}
	return out
}

// Pairs returns the direct mappings sorted by source label.
func (m *Mapping) Pairs() [][2]uint64 {
	m.RLock()
	defer m.RUnlock()
	out := make([][2]uint64, 0, len(m.f))
	for from, to := range m.f {
		out = append(out, [2]uint64{from, to})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
