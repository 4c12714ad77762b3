package hash

import "testing"

func TestComputeSizes(t *testing.T) {
	cases := []struct {
		kind Kind
		size int
	}{
		{SHA256, 32},
		{SHA384, 48},
		{SHA512, 64},
	}
	for _, c := range cases {
		h := Compute([]byte("nodecore"), c.kind)
		if len(h.Bytes) != c.size {
			t.Fatalf("%v: got %d bytes, want %d", c.kind, len(h.Bytes), c.size)
		}
		if h.Kind.Size() != c.size {
			t.Fatalf("%v: Size() = %d, want %d", c.kind, h.Kind.Size(), c.size)
		}
	}
}

func TestComputeDeterministic(t *testing.T) {
	a := Compute([]byte("same input"), SHA256)
	b := Compute([]byte("same input"), SHA256)
	if string(a.Bytes) != string(b.Bytes) {
		t.Fatalf("hash not deterministic")
	}
}

func TestComputeUnknownKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown kind")
		}
	}()
	Compute([]byte("x"), Kind(99))
}
