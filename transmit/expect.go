package transmit

// Rule is one way a consumer is willing to accept input.
type Rule int

const (
	// Nothing continues without input; a queued item is still taken if present.
	Nothing Rule = iota
	// AnyOne requires any queued item.
	AnyOne
	// SpecificOne requires an item from Expectation.Specific.
	SpecificOne
	// ExcludeList requires an item from an address not in Expectation.Exclude.
	ExcludeList
)

func (r Rule) String() string {
	switch r {
	case Nothing:
		return "nothing"
	case AnyOne:
		return "any-one"
	case SpecificOne:
		return "specific-one"
	case ExcludeList:
		return "exclude-list"
	default:
		return "unknown"
	}
}

// Expectation is what a consumer accepts next. Rules are tried in order and
// the first satisfied rule selects the item. An empty Order means Nothing.
type Expectation[A Addressable[A]] struct {
	Order    []Rule
	Specific A
	Exclude  []A
}

// ExpectNothing continues with or without input.
func ExpectNothing[A Addressable[A]]() Expectation[A] {
	return Expectation[A]{Order: []Rule{Nothing}}
}

// ExpectAnyOne waits for any input.
func ExpectAnyOne[A Addressable[A]]() Expectation[A] {
	return Expectation[A]{Order: []Rule{AnyOne}}
}

// ExpectSpecific waits for input from addr.
func ExpectSpecific[A Addressable[A]](addr A) Expectation[A] {
	return Expectation[A]{Order: []Rule{SpecificOne}, Specific: addr}
}

// ExpectExcept waits for input from any address not in exclude.
func ExpectExcept[A Addressable[A]](exclude ...A) Expectation[A] {
	return Expectation[A]{Order: []Rule{ExcludeList}, Exclude: exclude}
}

// match returns the index of the queued item that satisfies e, or -1, and
// whether e is satisfied at all.
func match[L Load[A], A Addressable[A]](e Expectation[A], loads []L) (int, bool) {
	if len(e.Order) == 0 {
		return firstIndex(loads), true
	}
	for _, rule := range e.Order {
		switch rule {
		case Nothing:
			return firstIndex(loads), true
		case AnyOne:
			if len(loads) > 0 {
				return 0, true
			}
		case SpecificOne:
			for i, l := range loads {
				if l.Address().Equal(e.Specific) {
					return i, true
				}
			}
		case ExcludeList:
			for i, l := range loads {
				if !containsAddr(e.Exclude, l.Address()) {
					return i, true
				}
			}
		}
	}
	return -1, false
}

func firstIndex[L any](loads []L) int {
	if len(loads) > 0 {
		return 0
	}
	return -1
}

func containsAddr[A Addressable[A]](list []A, addr A) bool {
	for _, a := range list {
		if a.Equal(addr) {
			return true
		}
	}
	return false
}
