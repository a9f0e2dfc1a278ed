package media

// AddressMap associates values with addresses using Address.Equal, so a
// lookup with a flush address finds any entry of that producer. Entries are
// kept in insertion order. It is not safe for concurrent use.
type AddressMap[V any] struct {
	entries []addressEntry[V]
}

type addressEntry[V any] struct {
	addr  Address
	value V
}

// Get returns the value of the first entry equal to addr.
func (m *AddressMap[V]) Get(addr Address) (V, bool) {
	if i := m.index(addr); i >= 0 {
		return m.entries[i].value, true
	}
	var zero V
	return zero, false
}

// Has reports whether an entry equal to addr exists.
func (m *AddressMap[V]) Has(addr Address) bool {
	return m.index(addr) >= 0
}

// Set replaces the value of the first entry equal to addr, or appends one.
func (m *AddressMap[V]) Set(addr Address, value V) {
	if i := m.index(addr); i >= 0 {
		m.entries[i].value = value
		return
	}
	m.entries = append(m.entries, addressEntry[V]{addr: addr, value: value})
}

// Delete removes every entry equal to addr and returns how many were removed.
// A flush address therefore removes all of a producer's streams.
func (m *AddressMap[V]) Delete(addr Address) int {
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.addr.Equal(addr) {
			kept = append(kept, e)
		}
	}
	removed := len(m.entries) - len(kept)
	clear(m.entries[len(kept):])
	m.entries = kept
	return removed
}

// Len returns the number of entries.
func (m *AddressMap[V]) Len() int {
	return len(m.entries)
}

// Keys returns the addresses in insertion order.
func (m *AddressMap[V]) Keys() []Address {
	keys := make([]Address, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.addr
	}
	return keys
}

// Range calls fn for each entry until fn returns false.
func (m *AddressMap[V]) Range(fn func(Address, V) bool) {
	for _, e := range m.entries {
		if !fn(e.addr, e.value) {
			return
		}
	}
}

// Clear removes all entries.
func (m *AddressMap[V]) Clear() {
	clear(m.entries)
	m.entries = m.entries[:0]
}

func (m *AddressMap[V]) index(addr Address) int {
	for i, e := range m.entries {
		if e.addr.Equal(addr) {
			return i
		}
	}
	return -1
}
