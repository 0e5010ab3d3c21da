// Package auth provides optional authentication for participants and for the
// round control endpoints.
package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the auth service is unreachable or unavailable.
	// The server fails closed on it.
	ErrUnavailable = errors.New("auth: unavailable")
)

const validateTimeout = 500 * time.Millisecond

// Identity is who a token belongs to. ParticipantID becomes the id the
// connection joins the game as.
type Identity struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
	OwnerID       string `json:"owner_id,omitempty"`
}

// Validator validates authentication tokens.
type Validator interface {
	// Validate returns the identity for token. A nil identity with a nil
	// error means authentication is disabled.
	Validate(ctx context.Context, token string) (*Identity, error)
}

// HTTPValidator validates tokens via HTTP callback to an external service.
type HTTPValidator struct {
	url         string
	client      *http.Client
	adminSecret string
}

// NewHTTPValidator creates a validator that calls an external HTTP endpoint.
func NewHTTPValidator(url string, adminSecret string) *HTTPValidator {
	return &HTTPValidator{
		url:         url,
		adminSecret: adminSecret,
		client:      &http.Client{Timeout: validateTimeout},
	}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid         bool   `json:"valid"`
	ParticipantID string `json:"participant_id,omitempty"`
	Name          string `json:"name,omitempty"`
	OwnerID       string `json:"owner_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (v *HTTPValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	reqBody, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", v.adminSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var authResp validateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&authResp); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}
	if !authResp.Valid || authResp.ParticipantID == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{
		ParticipantID: authResp.ParticipantID,
		Name:          authResp.Name,
		OwnerID:       authResp.OwnerID,
	}, nil
}

// StaticValidator accepts a single shared token. The server uses it to guard
// the start, reset and claim endpoints.
type StaticValidator struct {
	token    []byte
	identity Identity
}

// NewStaticValidator accepts token and reports identity for it.
func NewStaticValidator(token string, identity Identity) *StaticValidator {
	return &StaticValidator{token: []byte(token), identity: identity}
}

func (v *StaticValidator) Validate(_ context.Context, token string) (*Identity, error) {
	if token == "" || subtle.ConstantTimeCompare([]byte(token), v.token) != 1 {
		return nil, ErrInvalidToken
	}
	id := v.identity
	return &id, nil
}

// NoopValidator allows all connections without validation (dev mode).
type NoopValidator struct{}

// NewNoopValidator creates a validator that allows all connections.
func NewNoopValidator() *NoopValidator {
	return &NoopValidator{}
}

func (v *NoopValidator) Validate(context.Context, string) (*Identity, error) {
	return nil, nil
}
