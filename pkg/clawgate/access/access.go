// Package access implements per-channel, per-context authorization for
// ClawGate. Policy is resolved per (channel, context) where context is "dm"
// or "group"; missing rows are synthesized with safe defaults and persisted.
// A corrupted restriction list always fails closed to the deny-all sentinel.
package access

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

// DenyAll is the sentinel restriction meaning "deny every tool". It
// overrides any other entry in a restriction list.
const DenyAll = "*"

// defaultGroupRestrictions is the synthesized policy for group contexts:
// shared-memory mutation is riskier with multiple parties in the chat.
var defaultGroupRestrictions = []string{"memory_write", "shared_memory"}

// Decision is the outcome of an authorization check.
type Decision struct {
	// Allowed is true if the message should be processed.
	Allowed bool

	// User is the resolved sender identity (set even when pairing is
	// still required, so the caller can log the contact).
	User *store.ChannelUser

	// PairingRequired is true when the sender must pair before use.
	PairingRequired bool

	// DeniedTools is the effective restriction list for this context.
	DeniedTools []string
}

// Policy makes authorization and tool-restriction decisions backed by the
// persisted access_policies rows.
type Policy struct {
	store  *store.Store
	logger *slog.Logger
}

// NewPolicy creates the access policy layer.
func NewPolicy(st *store.Store, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{store: st, logger: logger.With("component", "access")}
}

// Decide authorizes one inbound message. The sender row is created (or
// touched) regardless of outcome so unauthorized contacts still show up in
// the audit trail.
func (p *Policy) Decide(channelID string, msg *channels.IncomingMessage, isGroup bool) (Decision, error) {
	user, err := p.store.GetOrCreateUser(channelID, msg.From, msg.FromName)
	if err != nil {
		return Decision{}, err
	}

	ctxType := store.ContextDM
	if isGroup {
		ctxType = store.ContextGroup
	}
	pol, err := p.resolvePolicy(channelID, ctxType)
	if err != nil {
		return Decision{}, err
	}
	denied := p.effectiveRestrictions(pol)

	if pol.RequirePairing && !user.Paired {
		return Decision{
			Allowed:         false,
			User:            user,
			PairingRequired: true,
			DeniedTools:     denied,
		}, nil
	}

	return Decision{Allowed: true, User: user, DeniedTools: denied}, nil
}

// resolvePolicy loads the (channel, context) row, synthesizing and
// persisting a default when absent. DMs get no restrictions; groups get the
// restricted-tool default.
func (p *Policy) resolvePolicy(channelID string, ctxType store.ContextType) (*store.AccessPolicy, error) {
	pol, err := p.store.FindPolicy(channelID, ctxType)
	if err == nil {
		return pol, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	restrictions := []string{}
	if ctxType == store.ContextGroup {
		restrictions = defaultGroupRestrictions
	}
	raw, _ := json.Marshal(restrictions)
	pol = &store.AccessPolicy{
		ChannelID:       channelID,
		ContextType:     ctxType,
		RequirePairing:  true,
		RawRestrictions: string(raw),
	}
	if err := p.store.SavePolicy(pol); err != nil {
		return nil, err
	}
	p.logger.Info("default policy synthesized",
		"channel", channelID, "context", ctxType, "restrictions", restrictions)
	return pol, nil
}

// effectiveRestrictions deserializes a policy's restriction list. On any
// failure the list becomes {DenyAll}: a corrupted policy row must never
// silently become permissive.
func (p *Policy) effectiveRestrictions(pol *store.AccessPolicy) []string {
	var list []string
	if err := json.Unmarshal([]byte(pol.RawRestrictions), &list); err != nil {
		p.logger.Error("corrupted restriction list, failing closed",
			"channel", pol.ChannelID, "context", pol.ContextType, "error", err)
		return []string{DenyAll}
	}
	return list
}

// IsToolAllowed reports whether a tool may run under the given restriction
// list. Denies on the sentinel, the literal tool name, or any group tag.
func IsToolAllowed(tool string, groups []string, restrictions []string) bool {
	for _, r := range restrictions {
		if r == DenyAll || r == tool {
			return false
		}
		for _, g := range groups {
			if r == g {
				return false
			}
		}
	}
	return true
}

// Restrictions returns the effective restriction list for one (channel,
// context) without a sender. Used for scheduler-initiated tasks.
func (p *Policy) Restrictions(channelID string, ctxType store.ContextType) ([]string, error) {
	pol, err := p.resolvePolicy(channelID, ctxType)
	if err != nil {
		return nil, err
	}
	return p.effectiveRestrictions(pol), nil
}

// SetRequirePairing toggles the pairing requirement for one (channel,
// context).
func (p *Policy) SetRequirePairing(channelID string, ctxType store.ContextType, required bool) error {
	pol, err := p.resolvePolicy(channelID, ctxType)
	if err != nil {
		return err
	}
	pol.RequirePairing = required
	pol.UpdatedAt = time.Now()
	return p.store.SavePolicy(pol)
}

// SetRestrictions replaces the restriction list for one (channel, context).
func (p *Policy) SetRestrictions(channelID string, ctxType store.ContextType, restrictions []string) error {
	pol, err := p.resolvePolicy(channelID, ctxType)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(restrictions)
	if err != nil {
		return err
	}
	pol.RawRestrictions = string(raw)
	pol.UpdatedAt = time.Now()
	return p.store.SavePolicy(pol)
}

// normalizeCode strips whitespace and uppercases a user-typed pairing code.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
