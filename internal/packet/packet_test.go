package packet

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderLayout(t *testing.T) {
	pool := NewPool(0)

	pkt := pool.Alloc(UserData, ReliableOrdered)
	pkt.SetP2pSessionId(0x1234)
	pkt.SetSessionIdForConnection(0xABCD)
	pkt.AppendPayload([]byte{0xDE, 0xAD})
	pkt.Seal()

	// The header is bit-exact and shared with clients, so assert the raw
	// bytes rather than going back through the accessors.
	expected := []byte{
		0x0A, 0x00, // size = 10
		byte(UserData),
		byte(ReliableOrdered),
		0x34, 0x12, // p2p session id
		0xCD, 0xAB, // session id for connection
		0xDE, 0xAD, // payload
	}
	if diff := cmp.Diff(expected, pkt.Bytes()); diff != "" {
		t.Errorf("packet bytes diff:\n%s", diff)
	}

	if pkt.Property() != UserData {
		t.Errorf("Property() = %v, want UserData", pkt.Property())
	}
	if pkt.P2pSessionId() != 0x1234 {
		t.Errorf("P2pSessionId() = %#x, want 0x1234", pkt.P2pSessionId())
	}
	if pkt.SessionIdForConnection() != 0xABCD {
		t.Errorf("SessionIdForConnection() = %#x, want 0xABCD", pkt.SessionIdForConnection())
	}
	if pkt.WireSize() != 10 {
		t.Errorf("WireSize() = %d, want 10", pkt.WireSize())
	}

	pkt.Release()
}

func TestRewriteInPlace(t *testing.T) {
	pool := NewPool(0)

	pkt := pool.Alloc(UserData, Unreliable)
	pkt.SetP2pSessionId(2)
	pkt.AppendPayload([]byte{0x01})
	pkt.Seal()

	// The relay rewrites the sender identity without touching anything else.
	before := append([]byte(nil), pkt.Bytes()...)
	pkt.SetP2pSessionId(1)
	after := pkt.Bytes()

	if after[4] != 0x01 || after[5] != 0x00 {
		t.Errorf("p2p session id not rewritten: % x", after[4:6])
	}
	before[4], before[5] = 0x01, 0x00
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("rewrite touched more than the p2p session id:\n%s", diff)
	}

	pkt.Release()
}

func TestPacketGrowth(t *testing.T) {
	pool := NewPool(16)

	pkt := pool.Alloc(UserData, Unreliable)
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	pkt.AppendPayload(payload)

	if pkt.Size() != HeaderSize+100 {
		t.Errorf("Size() = %d, want %d", pkt.Size(), HeaderSize+100)
	}
	if diff := cmp.Diff(payload, pkt.Payload()); diff != "" {
		t.Errorf("payload diff after growth:\n%s", diff)
	}

	pkt.Release()
}

func TestPoolAccounting(t *testing.T) {
	pool := NewPool(0)

	a := pool.Alloc(AliveCheck, Unreliable)
	b := pool.AllocRaw(64)
	if pool.Outstanding() != 2 {
		t.Fatalf("Outstanding() = %d, want 2", pool.Outstanding())
	}

	a.Release()
	b.Release()
	if pool.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", pool.Outstanding())
	}
	if pool.AllocCount() != 2 || pool.FreeCount() != 2 {
		t.Errorf("counts = %d/%d, want 2/2", pool.AllocCount(), pool.FreeCount())
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	pool := NewPool(0)
	pkt := pool.Alloc(AliveCheck, Unreliable)
	pkt.Release()

	defer func() {
		if recover() == nil {
			t.Error("releasing a packet twice did not panic")
		}
	}()
	pkt.Release()
}

func TestPoolReusesBuffers(t *testing.T) {
	pool := NewPool(0)

	pkt := pool.Alloc(UserData, Unreliable)
	pkt.AppendPayload([]byte{1, 2, 3})
	pkt.Release()

	// A recycled packet comes back with a clean header and header-only size.
	reused := pool.Alloc(AliveCheck, ReliableOrdered)
	if reused.Size() != HeaderSize {
		t.Errorf("recycled packet Size() = %d, want %d", reused.Size(), HeaderSize)
	}
	if reused.P2pSessionId() != 0 || reused.SessionIdForConnection() != 0 {
		t.Error("recycled packet header not zeroed")
	}
	reused.Release()
}
