// Package identity derives daily-rotating anonymous participant ids from
// wallet credentials. Same wallet + same day + same scope always maps to the
// same id; the id changes across days and is unlinkable across scopes.
package identity

import (
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/errors"
)

// IdLen is the number of hex characters in a participant id.
const IdLen = 8

var walletRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

type Deriver struct {
	key []byte
}

// New creates a Deriver keyed with the server salt. The salt must never be
// exposed to clients, otherwise identities become linkable to wallets.
func New(salt string) *Deriver {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Deriver{key: key}
}

// Derive computes the participant id for a credential within a board/channel
// scope as of the given date. Pure function, no I/O.
//
// An empty or malformed credential is an error: callers must reject the
// request instead of proceeding with a shared anonymous identity that would
// let different wallets collide on one vote slot.
func (d *Deriver) Derive(credential domain.Credential, scope string, asOf time.Time) (domain.ParticipantId, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", errors.Unauthorized("Wallet not connected")
	}
	if !walletRe.MatchString(credential) {
		return "", errors.Unauthorized("Malformed wallet credential")
	}

	h, err := blake2b.New256(d.key)
	if err != nil {
		return "", err
	}
	h.Write([]byte(strings.ToLower(credential)))
	h.Write([]byte{'|'})
	h.Write([]byte(scope))
	h.Write([]byte{'|'})
	h.Write([]byte(asOf.UTC().Format("2006-01-02")))

	return hex.EncodeToString(h.Sum(nil))[:IdLen], nil
}
