package wallet

import "testing"

func TestSetResolve(t *testing.T) {
	main := &Wallet{SeedHash: SeedHash{1}, Alias: "main", IsMain: true}
	set := NewSet(main, nil)
	if got := Resolve(set, SeedHash{1}); got != main {
		t.Fatalf("expected main wallet, got %+v", got)
	}
	if got := Resolve(set, SeedHash{2}); got != nil {
		t.Fatalf("expected nil for unknown seed, got %+v", got)
	}
	if got := Resolve(nil, SeedHash{1}); got != nil {
		t.Fatalf("nil resolver must resolve nothing")
	}
	var empty Set
	if _, ok := empty.Wallet(SeedHash{1}); ok {
		t.Fatalf("nil set must resolve nothing")
	}
}

func TestParseSeedHash(t *testing.T) {
	h := SeedHash{0xde, 0xad}
	parsed, err := ParseSeedHash("0x" + h.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, h)
	}
	if _, err := ParseSeedHash("abcd"); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := SeedHashFromBytes(make([]byte, 31)); err == nil {
		t.Fatalf("expected length error")
	}
}
