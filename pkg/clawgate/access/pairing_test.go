package access

import (
	"strings"
	"testing"
)

func TestPairing_IssueAndVerify(t *testing.T) {
	t.Parallel()
	p, st := newTestPolicy(t)

	user, err := st.GetOrCreateUser("telegram", "u1", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	code, err := p.IssuePairingCode("telegram", user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 8 {
		t.Fatalf("expected 8-char code, got %q", code)
	}

	ok, err := p.VerifyPairing("telegram", user.ID, code)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected code to verify")
	}

	// Single use: redeeming again fails.
	ok, err = p.VerifyPairing("telegram", user.ID, code)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected consumed code to be rejected")
	}
}

func TestPairing_MarksUserPaired(t *testing.T) {
	t.Parallel()
	p, st := newTestPolicy(t)

	user, err := st.GetOrCreateUser("telegram", "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	code, err := p.IssuePairingCode("telegram", user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.VerifyPairing("telegram", user.ID, code); err != nil {
		t.Fatal(err)
	}

	d, err := p.Decide("telegram", incoming("u1", ""), false)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("expected sender to be allowed after pairing")
	}
}

func TestPairing_CaseAndWhitespaceInsensitive(t *testing.T) {
	t.Parallel()
	p, st := newTestPolicy(t)

	user, err := st.GetOrCreateUser("telegram", "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	code, err := p.IssuePairingCode("telegram", user.ID)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := p.VerifyPairing("telegram", user.ID, "  "+strings.ToLower(code)+" ")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected surrounding whitespace to be tolerated")
	}
}

func TestPairing_WrongCode(t *testing.T) {
	t.Parallel()
	p, st := newTestPolicy(t)

	user, err := st.GetOrCreateUser("telegram", "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.IssuePairingCode("telegram", user.ID); err != nil {
		t.Fatal(err)
	}

	ok, err := p.VerifyPairing("telegram", user.ID, "WRONGXYZ")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected wrong code to be rejected")
	}
	ok, err = p.VerifyPairing("telegram", user.ID, "short")
	if err != nil || ok {
		t.Errorf("expected wrong-length code to be rejected, ok=%v err=%v", ok, err)
	}
}

func TestLooksLikePairingCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"ABCDEF23", true},
		{"abcdef23", true},
		{" ABCDEF23 ", true},
		{"ABC", false},
		{"ABCDEF230", false},
		{"ABCDEF2!", false},
		{"ABCDEF10", false}, // 0 and 1 are not in the alphabet
		{"", false},
	}

	for _, tt := range tests {
		if got := LooksLikePairingCode(tt.text); got != tt.want {
			t.Errorf("LooksLikePairingCode(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
