package id_service

import (
	"strings"
	"testing"
)

func TestRandomHexIdGenerator_GenerateID(t *testing.T) {
	g := NewRandomHexIdGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.GenerateID()

		if len(id) != IDLength {
			t.Fatalf("GenerateID() length = %d, want %d", len(id), IDLength)
		}
		if IsProvisional(id) {
			t.Fatalf("GenerateID() produced a provisional-looking id %q", id)
		}
		if strings.ToLower(id) != id {
			t.Errorf("GenerateID() id not lowercase hex: %q", id)
		}
		if seen[id] {
			t.Fatalf("GenerateID() repeated id %q", id)
		}
		seen[id] = true
	}
}

func TestLocalTempIdGenerator_GenerateID(t *testing.T) {
	g := NewLocalTempIdGenerator()

	first := g.GenerateID()
	second := g.GenerateID()

	if len(first) != IDLength {
		t.Errorf("GenerateID() length = %d, want %d", len(first), IDLength)
	}
	if !IsProvisional(first) {
		t.Errorf("GenerateID() id %q not provisional", first)
	}
	if first == second {
		t.Errorf("GenerateID() repeated id %q", first)
	}
	if first != NthProvisionalID(0) || second != NthProvisionalID(1) {
		t.Errorf("GenerateID() ids not ordinal: %q, %q", first, second)
	}

	g.ResetGenerator()
	if got := g.GenerateID(); got != first {
		t.Errorf("GenerateID() after reset = %q, want %q", got, first)
	}
}

func TestProvisionalOrdinal(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    uint64
		wantErr bool
	}{
		{
			name: "round trip zero",
			id:   NthProvisionalID(0),
			want: 0,
		},
		{
			name: "round trip large",
			id:   NthProvisionalID(123456),
			want: 123456,
		},
		{
			name:    "server id rejected",
			id:      strings.Repeat("ab", 32),
			wantErr: true,
		},
		{
			name:    "garbage suffix rejected",
			id:      ProvisionalPrefix + "not-a-number",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProvisionalOrdinal(tt.id)

			if (err != nil) != tt.wantErr {
				t.Fatalf("ProvisionalOrdinal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ProvisionalOrdinal() = %d, want %d", got, tt.want)
			}
		})
	}
}
