package access

import (
	"testing"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

func newTestPolicy(t *testing.T) (*Policy, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewPolicy(st, nil), st
}

func incoming(from, name string) *channels.IncomingMessage {
	return &channels.IncomingMessage{From: from, FromName: name, ChatID: "chat-1"}
}

func TestDecide_UnpairedSenderRequiresPairing(t *testing.T) {
	t.Parallel()
	p, _ := newTestPolicy(t)

	d, err := p.Decide("telegram", incoming("u1", "Alice"), false)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("expected first contact to be blocked")
	}
	if !d.PairingRequired {
		t.Error("expected pairing to be required")
	}
	if d.User == nil || d.User.PlatformID != "u1" {
		t.Errorf("expected sender row created for audit, got %+v", d.User)
	}
}

func TestDecide_PairedSenderAllowed(t *testing.T) {
	t.Parallel()
	p, st := newTestPolicy(t)

	d, err := p.Decide("telegram", incoming("u1", "Alice"), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetUserPaired(d.User.ID, true); err != nil {
		t.Fatal(err)
	}

	d, err = p.Decide("telegram", incoming("u1", "Alice"), false)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.PairingRequired {
		t.Errorf("expected paired sender to be allowed, got %+v", d)
	}
	if len(d.DeniedTools) != 0 {
		t.Errorf("expected no DM restrictions by default, got %v", d.DeniedTools)
	}
}

func TestDecide_GroupDefaultRestrictions(t *testing.T) {
	t.Parallel()
	p, st := newTestPolicy(t)

	d, err := p.Decide("telegram", incoming("u1", ""), true)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetUserPaired(d.User.ID, true); err != nil {
		t.Fatal(err)
	}

	d, err = p.Decide("telegram", incoming("u1", ""), true)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("expected paired group sender to be allowed")
	}
	if !IsToolAllowed("bash", nil, d.DeniedTools) {
		t.Error("expected unrelated tools allowed in groups")
	}
	if IsToolAllowed("memory_write", nil, d.DeniedTools) {
		t.Error("expected memory_write restricted in groups by default")
	}
}

func TestDecide_CorruptedRestrictionsFailClosed(t *testing.T) {
	t.Parallel()
	p, st := newTestPolicy(t)

	if err := st.SavePolicy(&store.AccessPolicy{
		ChannelID:       "telegram",
		ContextType:     store.ContextDM,
		RequirePairing:  false,
		RawRestrictions: "{not json",
	}); err != nil {
		t.Fatal(err)
	}

	d, err := p.Decide("telegram", incoming("u1", ""), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.DeniedTools) != 1 || d.DeniedTools[0] != DenyAll {
		t.Fatalf("expected deny-all sentinel, got %v", d.DeniedTools)
	}
	if IsToolAllowed("anything", nil, d.DeniedTools) {
		t.Error("expected every tool denied under the sentinel")
	}
}

func TestIsToolAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		tool         string
		groups       []string
		restrictions []string
		want         bool
	}{
		{name: "empty list allows", tool: "bash", want: true},
		{name: "literal deny", tool: "bash", restrictions: []string{"bash"}, want: false},
		{name: "group tag deny", tool: "rm", groups: []string{"destructive"}, restrictions: []string{"destructive"}, want: false},
		{name: "sentinel denies all", tool: "read_file", restrictions: []string{DenyAll}, want: false},
		{name: "unrelated restriction", tool: "bash", restrictions: []string{"memory_write"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsToolAllowed(tt.tool, tt.groups, tt.restrictions); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSetRequirePairing(t *testing.T) {
	t.Parallel()
	p, _ := newTestPolicy(t)

	if err := p.SetRequirePairing("telegram", store.ContextDM, false); err != nil {
		t.Fatal(err)
	}

	d, err := p.Decide("telegram", incoming("stranger", ""), false)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("expected open policy to allow unpaired senders")
	}
}

func TestSetRestrictions(t *testing.T) {
	t.Parallel()
	p, _ := newTestPolicy(t)

	if err := p.SetRestrictions("discord", store.ContextGroup, []string{"bash", "docker"}); err != nil {
		t.Fatal(err)
	}
	got, err := p.Restrictions("discord", store.ContextGroup)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "bash" || got[1] != "docker" {
		t.Errorf("unexpected restrictions %v", got)
	}
}
