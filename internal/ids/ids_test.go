package ids

import "testing"

func TestDecodeInfoHash_OK(t *testing.T) {
	s := "4c0e766e8bbe53baa0410a5a698c4b3916224c0f"
	got, err := DecodeInfoHash(s)
	if err != nil {
		t.Fatalf("DecodeInfoHash error: %v", err)
	}
	if got[0] != 0x4c || got[1] != 0x0e || got[19] != 0x0f {
		t.Fatalf("decoded bytes unexpected: %x", got)
	}
}

func TestDecodeInfoHash_AllZero(t *testing.T) {
	got, err := DecodeInfoHash("0000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("DecodeInfoHash error: %v", err)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatalf("decoded bytes = %x, want all zero", got)
		}
	}
}

func TestDecodeInfoHash_WrongLength(t *testing.T) {
	if _, err := DecodeInfoHash("abcd"); err == nil {
		t.Fatalf("expected error for short info hash")
	}
}

func TestDecodeInfoHash_RejectsUppercase(t *testing.T) {
	s := "4C0E766E8BBE53BAA0410A5A698C4B3916224C0F"
	if _, err := DecodeInfoHash(s); err == nil {
		t.Fatalf("expected error for uppercase hex, per spec.md Open Question 5")
	}
}

func TestGeneratePeerID_Format(t *testing.T) {
	id, err := GeneratePeerID(42)
	if err != nil {
		t.Fatalf("GeneratePeerID error: %v", err)
	}
	if len(id) != 20 {
		t.Fatalf("peer id length = %d, want 20", len(id))
	}
	if got := string(id[:7]); got != "-iP1000" {
		t.Fatalf("prefix = %q, want -iP1000", got)
	}
	if got := string(id[7:9]); got != "42" {
		t.Fatalf("node id digits = %q, want 42", got)
	}
	if id[19] != '-' {
		t.Fatalf("last byte = %q, want '-'", id[19])
	}
	for _, c := range id[9:19] {
		if c < '0' || c > '9' {
			t.Fatalf("expected decimal digit at random section, got %q", c)
		}
	}
}

func TestGeneratePeerID_OutOfRange(t *testing.T) {
	if _, err := GeneratePeerID(100); err == nil {
		t.Fatalf("expected error for self id out of [0,99]")
	}
	if _, err := GeneratePeerID(-1); err == nil {
		t.Fatalf("expected error for negative self id")
	}
}

func TestRemoteNodeID(t *testing.T) {
	id, err := GeneratePeerID(11)
	if err != nil {
		t.Fatalf("GeneratePeerID error: %v", err)
	}

	nodeID, ok := RemoteNodeID(id)
	if !ok || nodeID != 11 {
		t.Fatalf("RemoteNodeID = (%d,%v), want (11,true)", nodeID, ok)
	}
}
