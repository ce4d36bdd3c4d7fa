package gateway

import (
	"errors"
	"testing"
)

func TestResolveSelector(t *testing.T) {
	t.Parallel()
	items := []SelectItem{
		{ID: "ws-alpha", Name: "Alpha"},
		{ID: "ws-beta", Name: "Beta"},
		{ID: "ws-backend", Name: "Backend API"},
	}

	tests := []struct {
		name    string
		sel     string
		wantID  string
		wantErr bool
	}{
		{name: "numeric index", sel: "2", wantID: "ws-beta"},
		{name: "index out of range", sel: "4", wantErr: true},
		{name: "index zero", sel: "0", wantErr: true},
		{name: "exact id", sel: "ws-alpha", wantID: "ws-alpha"},
		{name: "exact name case-insensitive", sel: "alpha", wantID: "ws-alpha"},
		{name: "unambiguous prefix", sel: "ws-al", wantID: "ws-alpha"},
		{name: "name prefix", sel: "Back", wantID: "ws-backend"},
		{name: "no match", sel: "gamma", wantErr: true},
		{name: "empty", sel: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolveSelector(tt.sel, items)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.ID != tt.wantID {
				t.Errorf("expected %q, got %q", tt.wantID, got.ID)
			}
		})
	}
}

func TestResolveSelector_Ambiguous(t *testing.T) {
	t.Parallel()
	items := []SelectItem{
		{ID: "ws-beta", Name: "Beta"},
		{ID: "ws-backend", Name: "Backend API"},
	}

	_, err := ResolveSelector("ws-b", items)
	if !errors.Is(err, ErrAmbiguousSelector) {
		t.Fatalf("expected ErrAmbiguousSelector, got %v", err)
	}
}

func TestSelectItem_Label(t *testing.T) {
	t.Parallel()
	if got := (SelectItem{ID: "x", Name: "Pretty"}).Label(); got != "Pretty" {
		t.Errorf("expected name, got %q", got)
	}
	if got := (SelectItem{ID: "x"}).Label(); got != "x" {
		t.Errorf("expected id fallback, got %q", got)
	}
}
