package app

import (
	"context"
	"fmt"
	"time"

	"kudos/api/internal/auth"
	"kudos/api/internal/config"
	"kudos/api/internal/identity"
	"kudos/api/internal/push"
	"kudos/api/internal/store"
)

// Service wires the repositories to the store and the external
// collaborators, and owns the login/session flow.
type Service struct {
	cfg     config.Config
	store   store.Store
	push    *push.Dispatcher
	Users   *Users
	Groups  *Groups
	Invites *Invites
}

// Session is the login state handed to a client after register/login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func New(cfg config.Config, st store.Store, verifier identity.Verifier, dispatcher *push.Dispatcher) *Service {
	users := &Users{store: st, verifier: verifier}
	groups := &Groups{store: st, users: users}
	users.groups = groups
	return &Service{
		cfg:     cfg,
		store:   st,
		push:    dispatcher,
		Users:   users,
		Groups:  groups,
		Invites: &Invites{store: st},
	}
}

// Register creates an account for a verified identity. An already-registered
// user branches into the login flow instead of being overwritten.
func (s *Service) Register(ctx context.Context, p CreateUserParams) (Session, error) {
	exists, err := s.Users.Exists(ctx, p.UserID)
	if err != nil {
		return Session{}, err
	}
	if exists {
		return s.Login(ctx, p.UserID, p.AccessToken, p.DeviceID)
	}

	valid, err := s.Users.VerifyAccessToken(ctx, p.UserID, p.AccessToken)
	if err != nil {
		return Session{}, err
	}
	if !valid {
		return Session{}, errForbidden("invalid access token for user %s", p.UserID)
	}

	user, err := s.Users.Create(ctx, p)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user.ID)
}

// Login verifies an existing user's token and refreshes the stored
// accessToken/deviceId. The checks run in series so the client gets the more
// informative failure: 404 for an unknown user, 403 for a bad token.
func (s *Service) Login(ctx context.Context, userID, accessToken, deviceID string) (Session, error) {
	exists, err := s.Users.Exists(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if !exists {
		return Session{}, errNotFound("user with ID %s could not be found", userID)
	}

	valid, err := s.Users.VerifyAccessToken(ctx, userID, accessToken)
	if err != nil {
		return Session{}, err
	}
	if !valid {
		return Session{}, errForbidden("invalid access token for user %s", userID)
	}

	update := make(map[string]any)
	if accessToken != "" {
		update["accessToken"] = accessToken
	}
	if deviceID != "" {
		update["deviceId"] = deviceID
	}
	if len(update) > 0 {
		if err := s.Users.Update(ctx, userID, update); err != nil {
			return Session{}, err
		}
	}
	return s.issueSession(userID)
}

// SessionUser resolves a bearer token to the user id it was issued for.
func (s *Service) SessionUser(token string) (string, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return "", errForbidden("user must be logged in to access this resource")
	}
	return claims.Sub, nil
}

func (s *Service) issueSession(userID string) (Session, error) {
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), userID, s.cfg.SessionTTL)
	if err != nil {
		return Session{}, fmt.Errorf("issue session token: %w", err)
	}
	return Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.cfg.SessionTTL),
	}, nil
}

// NotifyCompletion fans a completion notice out to every member. Members
// without a registered device are skipped, not failed.
func (s *Service) NotifyCompletion(ctx context.Context, completerID string, task Task, members []User) error {
	message := fmt.Sprintf("%s just completed a task: %s", completerID, task.Title)
	notifications := make([]push.Notification, len(members))
	for i, member := range members {
		notifications[i] = push.Notification{
			DeviceID: member.DeviceID,
			Category: "KudosCategory",
			Message:  message,
			Badge:    1,
			Sound:    s.cfg.PushSound,
			Custom:   map[string]any{"userId": member.ID, "taskId": task.ID},
		}
	}
	return s.push.SendAll(ctx, notifications)
}

// Ping reports store reachability for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
