package app

import (
	"context"
	"crypto/sha1"
	"encoding/base32"
	"strings"

	"kudos/api/internal/store"
	"kudos/api/internal/util"
)

// Invites maps deterministic 5-character codes to groups. The code is a
// function of inviter and group, so repeated invites for the same pair
// overwrite the same record: last writer wins, by design not by accident.
// Codes are shareable, not secret, and collision-tolerant rather than
// collision-proof.
type Invites struct {
	store store.Store
}

func invitePath(code string) string {
	return store.Join("invites", util.Sanitize(code))
}

// Create writes the invite record and returns its code.
func (i *Invites) Create(ctx context.Context, inviter, groupID string) (string, error) {
	inviter = util.Sanitize(inviter)
	groupID = util.Sanitize(groupID)

	code := inviteCode(inviter, groupID)
	invite := Invite{Code: code, GroupID: groupID, Inviter: inviter}
	if err := i.store.Set(ctx, invitePath(code), invite); err != nil {
		return "", err
	}
	return code, nil
}

// Get returns the invite stored under code, or NotFound.
func (i *Invites) Get(ctx context.Context, code string) (Invite, error) {
	code = util.Sanitize(code)
	var invite Invite
	err := i.store.Get(ctx, invitePath(code), &invite)
	if err == store.ErrNotFound {
		return Invite{}, errNotFound("invitation with code '%s' could not be found", code)
	}
	if err != nil {
		return Invite{}, err
	}
	return invite, nil
}

// inviteCode derives a ~kinda~ unique code [0-9A-Z] from the inviter/group
// pair.
func inviteCode(inviter, groupID string) string {
	sum := sha1.Sum([]byte(inviter + groupID))
	encoded := base32.StdEncoding.EncodeToString(sum[:])
	return strings.ToUpper(encoded[:5])
}
