package app

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kudos/api/internal/identity"
	"kudos/api/internal/store"
	"kudos/api/internal/util"
)

// Users is the user repository: user documents plus the users/{id}/groups
// side of the membership mirror.
type Users struct {
	store    store.Store
	verifier identity.Verifier
	groups   *Groups
}

func userPath(userID string) string {
	return store.Join("users", util.Sanitize(userID))
}

func userGroupsPath(userID string) string {
	return store.Join("users", util.Sanitize(userID), "groups")
}

// Get returns the user or NotFound.
func (u *Users) Get(ctx context.Context, userID string) (User, error) {
	userID = util.Sanitize(userID)
	var user User
	err := u.store.Get(ctx, userPath(userID), &user)
	if err == store.ErrNotFound {
		return User{}, errNotFound("user with ID %s could not be found", userID)
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Exists reports whether the user document is present.
func (u *Users) Exists(ctx context.Context, userID string) (bool, error) {
	err := u.store.Get(ctx, userPath(userID), nil)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateUserParams carries the fields required to register a user.
type CreateUserParams struct {
	UserID      string
	AccessToken string
	DeviceID    string
	FirstName   string
	LastName    string
	Photo       string
}

// Create writes the full user document. Existing documents are overwritten;
// callers that care check Exists first.
func (u *Users) Create(ctx context.Context, p CreateUserParams) (User, error) {
	if p.UserID == "" || p.AccessToken == "" || p.FirstName == "" || p.LastName == "" || p.Photo == "" {
		return User{}, errInvalidInput("userId, accessToken, firstName, lastName and photo are required")
	}

	user := User{
		ID:          util.Sanitize(p.UserID),
		AccessToken: p.AccessToken,
		DeviceID:    p.DeviceID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		FullName:    p.FirstName + " " + p.LastName,
		Photo:       p.Photo,
	}
	if err := u.store.Set(ctx, userPath(user.ID), user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Update merges fields into the user document. No existence check: an absent
// user is silently created, inherited from the store's update semantics.
func (u *Users) Update(ctx context.Context, userID string, fields map[string]any) error {
	return u.store.Update(ctx, userPath(userID), fields)
}

// GiveKudos atomically adds amount to the user's kudos counter and returns
// the new total. Amounts below one count as one.
func (u *Users) GiveKudos(ctx context.Context, userID string, amount int) (int, error) {
	userID = util.Sanitize(userID)
	if amount < 1 {
		amount = 1
	}

	exists, err := u.Exists(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, errNotFound("user with ID %s could not be found", userID)
	}

	var total int
	err = u.store.Transaction(ctx, userPath(userID), func(current json.RawMessage) (any, error) {
		var user User
		if current != nil {
			if err := json.Unmarshal(current, &user); err != nil {
				return nil, fmt.Errorf("decode user %s: %w", userID, err)
			}
		}
		user.Kudos += amount
		total = user.Kudos
		return user, nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Groups resolves every membership entry of the user to a full group record.
// Lookups run in parallel; one failure fails the call. The result follows
// entry-key order.
func (u *Users) Groups(ctx context.Context, userID string) ([]Group, error) {
	userID = util.Sanitize(userID)
	exists, err := u.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errNotFound("user with ID %s could not be found", userID)
	}

	entries, err := u.store.Children(ctx, userGroupsPath(userID))
	if err != nil {
		return nil, err
	}

	groups := make([]Group, len(entries))
	g, ctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		var ref membershipEntry
		if err := entry.Decode(&ref); err != nil {
			return nil, fmt.Errorf("decode membership entry %s: %w", entry.Key, err)
		}
		g.Go(func() error {
			group, err := u.groups.Get(ctx, ref.ID)
			if err != nil {
				return err
			}
			groups[i] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return groups, nil
}

// AddGroup appends a membership entry for groupID to the user's groups
// mapping. This is one half of the mirror; Groups.AddUser writes both.
func (u *Users) AddGroup(ctx context.Context, userID, groupID string) error {
	userID = util.Sanitize(userID)
	groupID = util.Sanitize(groupID)

	exists, err := u.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return errNotFound("user with ID %s could not be found", userID)
	}

	path := userGroupsPath(userID)
	key := u.store.Push(path)
	return u.store.Set(ctx, store.Join(path, key), membershipEntry{ID: groupID})
}

// RemoveGroup deletes the membership entry whose id equals groupID. A
// missing entry is a silent no-op so that group-removal fan-out tolerates
// members whose entry is already gone.
func (u *Users) RemoveGroup(ctx context.Context, userID, groupID string) error {
	userID = util.Sanitize(userID)
	groupID = util.Sanitize(groupID)

	entries, err := u.store.QueryChildren(ctx, userGroupsPath(userID), store.Query{
		OrderBy: "id",
		Equal:   groupID,
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return u.store.Remove(ctx, store.Join(userGroupsPath(userID), entries[0].Key))
}

// VerifyAccessToken asks the identity provider whether the token belongs to
// the user. Transport or parse failures surface as upstream errors.
func (u *Users) VerifyAccessToken(ctx context.Context, userID, accessToken string) (bool, error) {
	valid, err := u.verifier.Verify(ctx, util.Sanitize(userID), accessToken)
	if err != nil {
		return false, errUpstream("access token verification failed: %v", err)
	}
	return valid, nil
}
