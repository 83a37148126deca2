package message

// Filter is a compact, fixed-capacity set of option numbers, sized for
// constrained targets where a map per context would be wasteful. It backs
// both the context's "registered critical options" set (spec.md §4.B) and
// ad-hoc per-call exclusion sets such as the request cache's ignore list
// (§4.I).
type Filter struct {
	numbers [filterCapacity]OptionNumber
	n       int
}

// filterCapacity bounds how many distinct option numbers a Filter can hold;
// past this the filter saturates and Add becomes a no-op, matching the
// "list bounded by the filter capacity" wording in spec.md §4.B.
const filterCapacity = 16

// Add registers number in the filter. Returns false if the filter is full
// and number could not be added.
func (f *Filter) Add(number OptionNumber) bool {
	if f.Has(number) {
		return true
	}
	if f.n >= filterCapacity {
		return false
	}
	f.numbers[f.n] = number
	f.n++
	return true
}

// Has reports whether number was previously added.
func (f *Filter) Has(number OptionNumber) bool {
	if f == nil {
		return false
	}
	for i := 0; i < f.n; i++ {
		if f.numbers[i] == number {
			return true
		}
	}
	return false
}

// Len reports how many distinct numbers are currently held.
func (f *Filter) Len() int { return f.n }

// NewFilter builds a Filter pre-populated with numbers, truncated to
// filterCapacity if numbers is longer.
func NewFilter(numbers ...OptionNumber) *Filter {
	f := &Filter{}
	for _, n := range numbers {
		if !f.Add(n) {
			break
		}
	}
	return f
}
