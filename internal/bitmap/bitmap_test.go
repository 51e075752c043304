package bitmap

import "testing"

func TestBitmap_SetHasCount(t *testing.T) {
	bm := New(20)

	if bm.Has(3) {
		t.Fatalf("fresh bitmap should have no bits set")
	}

	if !bm.Set(3) {
		t.Fatalf("Set(3) on a clear bit should report true")
	}
	if bm.Set(3) {
		t.Fatalf("Set(3) on an already-set bit should report false")
	}
	if !bm.Has(3) {
		t.Fatalf("Has(3) should be true after Set(3)")
	}
	if bm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", bm.Count())
	}
}

func TestBitmap_OutOfRange(t *testing.T) {
	bm := New(4)

	if bm.Has(100) {
		t.Fatalf("Has out-of-range should be false")
	}
	if bm.Set(100) {
		t.Fatalf("Set out-of-range should report false")
	}
	if bm.Set(-1) {
		t.Fatalf("Set negative should report false")
	}
}

func TestBitmap_All(t *testing.T) {
	n := 20
	bm := New(n)

	if bm.All(n) {
		t.Fatalf("empty bitmap should not be All")
	}

	for i := 0; i < n; i++ {
		if bm.All(n) {
			t.Fatalf("bitmap should not be All before every bit is set (i=%d)", i)
		}
		bm.Set(i)
	}

	if !bm.All(n) {
		t.Fatalf("bitmap should be All once every bit up to n is set")
	}

	// Padding bits past n in the final byte must not affect All(n).
	padded := New(n + 3)
	for i := 0; i < n; i++ {
		padded.Set(i)
	}
	if !padded.All(n) {
		t.Fatalf("padding bits beyond n should not prevent All(n)")
	}
}

func TestBitmap_FromBytesAndBytes(t *testing.T) {
	raw := []byte{0b10110000, 0b00001111}
	bm := FromBytes(raw)

	if !bm.Has(0) || bm.Has(1) || !bm.Has(2) || !bm.Has(3) {
		t.Fatalf("decoded bits mismatch: %s", bm.String(8))
	}

	out := bm.Bytes()
	out[0] = 0xFF
	if bm[0] == 0xFF {
		t.Fatalf("Bytes() must return an independent copy")
	}
}

func TestBitmap_String(t *testing.T) {
	bm := New(8)
	bm.Set(0)
	bm.Set(7)

	if got, want := bm.String(8), "10000001"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
