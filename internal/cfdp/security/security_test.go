package security

import (
	"testing"

	"github.com/cfdp-go/engine/internal/cfdp/ports"
)

type fakeInnerBus struct {
	sent [][]byte
	rx   [][]byte
}

func (b *fakeInnerBus) Send(mid string, data []byte) error {
	b.sent = append(b.sent, data)
	return nil
}

func (b *fakeInnerBus) Recv(mid string) ([]byte, bool, error) {
	if len(b.rx) == 0 {
		return nil, false, nil
	}
	d := b.rx[0]
	b.rx = b.rx[1:]
	return d, true, nil
}

func sessionKeyPair(t *testing.T) (*Envelope, *Envelope) {
	t.Helper()
	a, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519 a: %v", err)
	}
	b, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519 b: %v", err)
	}
	keyA, err := DeriveSessionKey(&a.Private, &b.Public, "chan-1")
	if err != nil {
		t.Fatalf("DeriveSessionKey a: %v", err)
	}
	keyB, err := DeriveSessionKey(&b.Private, &a.Public, "chan-1")
	if err != nil {
		t.Fatalf("DeriveSessionKey b: %v", err)
	}
	envA, err := NewEnvelope(keyA)
	if err != nil {
		t.Fatalf("NewEnvelope a: %v", err)
	}
	envB, err := NewEnvelope(keyB)
	if err != nil {
		t.Fatalf("NewEnvelope b: %v", err)
	}
	return envA, envB
}

func TestDeriveSessionKey_AgreesBothSides(t *testing.T) {
	envA, envB := sessionKeyPair(t)

	sealed, err := envA.Seal([]byte("pdu bytes"), []byte("in.mid"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := envB.Open(sealed, []byte("in.mid"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != "pdu bytes" {
		t.Fatalf("got %q, want %q", got, "pdu bytes")
	}
}

func TestEnvelope_WrongAADFails(t *testing.T) {
	envA, envB := sessionKeyPair(t)
	sealed, err := envA.Seal([]byte("payload"), []byte("in.mid"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := envB.Open(sealed, []byte("other.mid")); err == nil {
		t.Fatalf("expected authentication failure on mismatched AAD")
	}
}

func TestSecureBus_RoundTrips(t *testing.T) {
	envA, envB := sessionKeyPair(t)
	inner := &fakeInnerBus{}
	sender := NewBus(inner, envA, nil)
	receiver := NewBus(inner, envB, nil)

	if err := sender.Send("in.mid", []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	inner.rx = inner.sent
	inner.sent = nil

	got, ok, err := receiver.Recv("in.mid")
	if err != nil || !ok {
		t.Fatalf("Recv: ok=%v err=%v", ok, err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

type recordingReporter struct{ events []string }

func (r *recordingReporter) Event(id string, _ ports.Severity, _ ...ports.Field) {
	r.events = append(r.events, id)
}

func TestSecureBus_DropsTamperedMessage(t *testing.T) {
	envA, envB := sessionKeyPair(t)
	inner := &fakeInnerBus{}
	rep := &recordingReporter{}
	sender := NewBus(inner, envA, nil)
	receiver := NewBus(inner, envB, rep)

	if err := sender.Send("in.mid", []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	tampered := append([]byte(nil), inner.sent[0]...)
	tampered[len(tampered)-1] ^= 0xFF
	inner.rx = [][]byte{tampered}

	_, ok, err := receiver.Recv("in.mid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected tampered message to be dropped, got ok=true")
	}
	if len(rep.events) != 1 || rep.events[0] != "security.auth_failed" {
		t.Fatalf("events = %v, want [security.auth_failed]", rep.events)
	}
}
