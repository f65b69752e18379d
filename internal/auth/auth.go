// Package auth is the typed façade over the backend auth endpoints.
// Session state lives in internal/session; this package only speaks wire.
package auth

import (
	"context"
	"fmt"

	"todo-client/internal/api"
	"todo-client/internal/models"
)

// Credentials is the sign-in payload.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the sign-up payload.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Response is the envelope returned by sign-in and sign-up.
type Response struct {
	Success bool `json:"success"`
	Data    struct {
		Token models.Token `json:"token"`
		User  models.User  `json:"user"`
	} `json:"data"`
	Message string `json:"message"`
}

// SessionInfo is the backend's view of the presented token.
type SessionInfo struct {
	Username string `json:"username"`
	UserID   int64  `json:"user_id"`
}

type sessionResponse struct {
	Success bool        `json:"success"`
	Data    SessionInfo `json:"data"`
	Message string      `json:"message"`
}

// Service issues auth requests through the shared client.
type Service struct {
	client *api.Client
}

// NewService creates an auth Service.
func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

// SignIn exchanges credentials for a token and user record.
func (s *Service) SignIn(ctx context.Context, username, password string) (*Response, error) {
	var resp Response
	err := s.client.Post(ctx, "/api/auth/sign-in/email", Credentials{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignUp registers a new account. On success the backend signs the user in
// and the response carries a token just like SignIn.
func (s *Service) SignUp(ctx context.Context, username, email, password string) (*Response, error) {
	var resp Response
	err := s.client.Post(ctx, "/api/auth/sign-up/email", Registration{Username: username, Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout notifies the backend. The token itself is disposed of client-side.
func (s *Service) Logout(ctx context.Context) error {
	return s.client.Post(ctx, "/api/auth/logout", nil, nil)
}

// Session asks the backend to introspect the current token.
func (s *Service) Session(ctx context.Context) (*SessionInfo, error) {
	var resp sessionResponse
	if err := s.client.Get(ctx, "/api/auth/get-session", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.Message != "" {
			return nil, fmt.Errorf("session check failed: %s", resp.Message)
		}
		return nil, fmt.Errorf("session check failed")
	}
	return &resp.Data, nil
}
