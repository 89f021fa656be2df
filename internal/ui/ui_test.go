package ui

import (
	"strings"
	"testing"

	"github.com/mschirtzinger/obracontrol/internal/obra/gateway"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

func TestMain(m *testing.M) {
	DisableColor()
	m.Run()
}

func TestProgress(t *testing.T) {
	tests := []struct {
		pct   int
		width int
		want  string
	}{
		{0, 10, "[░░░░░░░░░░]   0%"},
		{60, 10, "[██████░░░░]  60%"},
		{100, 4, "[████] 100%"},
		{150, 4, "[████] 100%"},
		{-5, 4, "[░░░░]   0%"},
		{50, 0, "[█████░░░░░]  50%"},
	}
	for _, tt := range tests {
		if got := Progress(tt.pct, tt.width); got != tt.want {
			t.Errorf("Progress(%d, %d) = %q, want %q", tt.pct, tt.width, got, tt.want)
		}
	}
}

func TestLabels(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{Status(gateway.StatusSynced), "Sincronizado"},
		{Status(gateway.StatusOffline), "Sin conexión"},
		{Material(schema.MaterialOrdered), schema.MaterialOrdered.Label()},
		{Project(schema.StatusPaused), "Pausada"},
		{Check(true), "[x]"},
		{Check(false), "[ ]"},
	}
	for _, tt := range tests {
		if !strings.Contains(tt.got, tt.want) {
			t.Errorf("rendered %q, want it to contain %q", tt.got, tt.want)
		}
	}
}
