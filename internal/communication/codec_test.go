package communication

import (
	"bytes"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "full",
			msg:  Message{From: "client-1", Type: "list", Payload: []byte(`{"id":"root"}`)},
		},
		{
			name: "empty payload",
			msg:  Message{From: "client-1", Type: "status"},
		},
		{
			name: "binary payload",
			msg:  Message{From: "c", Type: "t", Payload: []byte{0x00, 0xFF, 0x10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := UnmarshalMessage(MarshalMessage(tt.msg))
			if err != nil {
				t.Fatalf("UnmarshalMessage() error = %v", err)
			}

			if decoded.From != tt.msg.From || decoded.Type != tt.msg.Type {
				t.Errorf("round trip = (%s, %s), want (%s, %s)",
					decoded.From, decoded.Type, tt.msg.From, tt.msg.Type)
			}
			if !bytes.Equal(decoded.Payload, tt.msg.Payload) {
				t.Errorf("payload = %v, want %v", decoded.Payload, tt.msg.Payload)
			}
		})
	}
}

func TestReplyRoundTrip(t *testing.T) {
	resp := &Response{Code: CodeVersionConflict, Body: []byte(`{"ids":["a"]}`)}

	decoded, err := UnmarshalResponse(MarshalResponse(resp))
	if err != nil {
		t.Fatalf("UnmarshalResponse() error = %v", err)
	}

	if decoded.Code != resp.Code {
		t.Errorf("code = %s, want %s", decoded.Code, resp.Code)
	}
	if !bytes.Equal(decoded.Body, resp.Body) {
		t.Errorf("body = %s, want %s", decoded.Body, resp.Body)
	}
}

func TestUnmarshalMessage_Malformed(t *testing.T) {
	if _, err := UnmarshalMessage([]byte{0xFF, 0xFF, 0xFF}); err == nil {
		t.Errorf("UnmarshalMessage() on garbage succeeded")
	}
}
