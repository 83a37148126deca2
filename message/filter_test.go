package message

import "testing"

func TestFilterSaturates(t *testing.T) {
	f := &Filter{}
	for i := OptionNumber(0); i < filterCapacity; i++ {
		if !f.Add(i) {
			t.Fatalf("Add(%d) unexpectedly failed before saturation", i)
		}
	}
	if f.Add(OptionNumber(filterCapacity)) {
		t.Fatalf("Add succeeded past capacity")
	}
	if f.Len() != filterCapacity {
		t.Fatalf("Len() = %d want %d", f.Len(), filterCapacity)
	}
}

func TestUnknownCriticalOption(t *testing.T) {
	known := NewFilter(0x9999)
	opts := Options{
		{Number: URIPath, Value: []byte("x")}, // 11, known registered option
		{Number: 0x9999, Value: nil},          // odd -> critical, but caller-registered
		{Number: 0x1001, Value: nil},          // odd -> critical, unknown
	}
	n, ok := opts.UnknownCriticalOption(known)
	if !ok {
		t.Fatalf("expected an unknown critical option")
	}
	if n != 0x1001 {
		t.Fatalf("got %d want %d", n, 0x1001)
	}
}

func TestUnknownCriticalOptionNoneFound(t *testing.T) {
	opts := Options{
		{Number: URIPath, Value: []byte("x")},
		{Number: 0x1002, Value: nil}, // even -> elective, ignored regardless
	}
	if _, ok := opts.UnknownCriticalOption(nil); ok {
		t.Fatalf("did not expect an unknown critical option")
	}
}
