package telemetry

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestNewFailsWithoutRedis(t *testing.T) {
	if _, err := New("127.0.0.1:1", "", 0); err == nil {
		t.Fatalf("expected New to fail when redis is unreachable")
	}
}

func TestSnapshotRoundTripsThroughCBOR(t *testing.T) {
	s := Snapshot{MNPState: "connected", LastVerb: "dsndobj", DTRAsserted: true, LEDColor: "green"}
	raw, err := cbor.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Snapshot
	if err := cbor.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}
