// pairing.go implements pairing-code issuance and verification. Codes are
// short-lived, single-use, and stored argon2id-hashed so a leaked database
// does not leak redeemable codes.
package access

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

const (
	// PairingTTL is how long an issued code stays redeemable.
	PairingTTL = 10 * time.Minute

	// codeAlphabet avoids ambiguous characters (0/O, 1/I/L).
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 8
)

// IssuePairingCode creates a code for (channel, user) and returns the
// plaintext exactly once. Operators read it from the admin surface and hand
// it to the user out of band.
func (p *Policy) IssuePairingCode(channelID, userID string) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	pc := &store.PairingCode{
		ChannelID: channelID,
		UserID:    userID,
		CodeHash:  hashCode(code, salt),
		Salt:      hex.EncodeToString(salt),
		ExpiresAt: time.Now().Add(PairingTTL),
	}
	if err := p.store.CreatePairingCode(pc); err != nil {
		return "", err
	}
	p.logger.Info("pairing code issued", "channel", channelID, "user", userID)
	return code, nil
}

// VerifyPairing checks a user-supplied code against the channel's unexpired
// codes. On match the code is consumed and the sender marked paired.
func (p *Policy) VerifyPairing(channelID, userID, code string) (bool, error) {
	code = normalizeCode(code)
	if len(code) != codeLength {
		return false, nil
	}

	codes, err := p.store.PairingCodesForChannel(channelID)
	if err != nil {
		return false, err
	}
	for _, pc := range codes {
		salt, derr := hex.DecodeString(pc.Salt)
		if derr != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hashCode(code, salt)), []byte(pc.CodeHash)) != 1 {
			continue
		}
		// Single use: consume before granting.
		if err := p.store.DeletePairingCode(pc.ID); err != nil {
			return false, err
		}
		if err := p.store.SetUserPaired(userID, true); err != nil {
			return false, err
		}
		p.logger.Info("user paired", "channel", channelID, "user", userID)
		return true, nil
	}
	return false, nil
}

// LooksLikePairingCode reports whether text has the shape of a pairing code,
// so the router can try redemption before rejecting an unpaired sender.
func LooksLikePairingCode(text string) bool {
	text = normalizeCode(text)
	if len(text) != codeLength {
		return false
	}
	for _, r := range text {
		found := false
		for _, a := range codeAlphabet {
			if r == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

func hashCode(code string, salt []byte) string {
	sum := argon2.IDKey([]byte(code), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(sum)
}
