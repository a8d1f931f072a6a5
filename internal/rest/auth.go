package rest

import (
	"context"
	"net/http"

	"github.com/co-de-er123/CrowdAid/internal/domain"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterInput struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	Role        string  `json:"role"` // USER or VOLUNTEER
	PhoneNumber *string `json:"phoneNumber,omitempty"`
}

// AuthResponse is the server's answer to signin/signup.
type AuthResponse struct {
	User         domain.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	ExpiresIn    int64       `json:"expiresIn,omitempty"`
}

// Login authenticates and installs the returned access token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/signin", nil, Credentials{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.SetToken(resp.AccessToken)
	return &resp, nil
}

// Register creates an account and installs the returned access token.
func (c *Client) Register(ctx context.Context, in RegisterInput) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", nil, in, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken != "" {
		c.SetToken(resp.AccessToken)
	}
	return &resp, nil
}

// Logout invalidates the session server-side and clears the local token
// regardless of the call's outcome.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/signout", nil, nil, nil)
	c.SetToken("")
	return err
}

// CurrentUser fetches the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
