package queue

import "testing"

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := Message{
		ID:    "abc-123",
		Type:  TypeOutbox,
		Inbox: "https://mastodon.example/inbox",
		Payload: []byte(`{"type":"Follow"}`),
	}
	raw, err := encodeEnvelope(msg)
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}
	got, err := decodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if got.ID != msg.ID || got.Type != msg.Type || got.Inbox != msg.Inbox {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
	if string(got.Payload) != string(msg.Payload) {
		t.Fatalf("payload mismatch: got %s want %s", got.Payload, msg.Payload)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := decodeEnvelope([]byte("not json")); err == nil {
		t.Fatal("expected error decoding garbage envelope")
	}
}
