package des

import "testing"

func oddParity(b byte) bool {
	n := 0
	for i := 0; i < 8; i++ {
		if b&(1<<i) != 0 {
			n++
		}
	}
	return n%2 == 1
}

func TestCharToKeyEmptyPasswordIsDeterministic(t *testing.T) {
	k1 := CharToKey(nil)
	k2 := CharToKey([]uint16{})
	if k1 != k2 {
		t.Fatalf("CharToKey(nil) = %+v, CharToKey([]uint16{}) = %+v, want equal", k1, k2)
	}
}

func TestCharToKeyProducesOddParityBytes(t *testing.T) {
	key := CharToKey(nil)
	for _, b := range key.Bytes() {
		if !oddParity(b) {
			t.Errorf("byte 0x%02x does not have odd parity", b)
		}
	}
}

func TestCharToKeyDiffersByPassword(t *testing.T) {
	empty := CharToKey(nil)
	withPass := CharToKey([]uint16{'h', 'i'})
	if empty == withPass {
		t.Fatalf("CharToKey(\"\") and CharToKey(\"hi\") collided: %+v", empty)
	}
}

func TestKeyScheduleProducesSixteenDistinctRounds(t *testing.T) {
	key := CharToKey(nil)
	sched := KeySchedule(key)
	seen := map[Nonce]bool{}
	for _, k := range sched {
		seen[k] = true
	}
	if len(seen) < 2 {
		t.Fatalf("key schedule collapsed to %d distinct round keys, want variety", len(seen))
	}
}

func TestEncodeNonceIsDeterministicAndNonTrivial(t *testing.T) {
	key := CharToKey(nil)
	challenge := Nonce{Hi: 0x12345678, Lo: 0x9ABCDEF0}

	r1 := EncodeNonce(key, challenge)
	r2 := EncodeNonce(key, challenge)
	if r1 != r2 {
		t.Fatalf("EncodeNonce not deterministic: %+v vs %+v", r1, r2)
	}
	if r1 == challenge {
		t.Fatalf("EncodeNonce returned the challenge unchanged")
	}
}

func TestEncodeNonceVariesWithChallenge(t *testing.T) {
	key := CharToKey(nil)
	a := EncodeNonce(key, Nonce{Hi: 0, Lo: 0})
	b := EncodeNonce(key, Nonce{Hi: 0, Lo: 1})
	if a == b {
		t.Fatalf("EncodeNonce gave the same output for different challenges")
	}
}

func TestNonceBytesRoundTrip(t *testing.T) {
	n := Nonce{Hi: 0xDEADBEEF, Lo: 0x01020304}
	b := n.Bytes()
	got := NonceFromBytes(b[:])
	if got != n {
		t.Fatalf("Bytes/NonceFromBytes round trip: got %+v, want %+v", got, n)
	}
}
