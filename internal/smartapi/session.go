package smartapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	apperrors "github.com/commoditydata/go-commodity-collector/internal/errors"
)

// Credentials holds the login identity for a broker account. TOTPKey
// is the base32 secret the authenticator app was provisioned with; a
// fresh one-time code is derived from it on every login attempt.
type Credentials struct {
	ClientCode string
	Password   string
	TOTPKey    string
}

// Session is the token set a successful login returns.
type Session struct {
	AuthToken    string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// TokenSource supplies the current session token and can establish a
// new session when the old one lapses.
type TokenSource interface {
	// AuthToken returns the current session token, or "" when no
	// session is active.
	AuthToken() string

	// Authenticate establishes a new session, replacing any previous
	// token state.
	Authenticate(ctx context.Context) error
}

// SessionManager logs into the broker API and tracks the resulting
// token set. It is safe for concurrent readers of the token, though
// the pipeline itself authenticates and fetches sequentially.
type SessionManager struct {
	client *Client
	creds  Credentials
	logger *slog.Logger

	mu      sync.RWMutex
	session *Session

	// generateCode is swapped in tests to avoid time-coupled TOTP
	// values.
	generateCode func(secret string, t time.Time) (string, error)
}

var _ TokenSource = (*SessionManager)(nil)

// NewSessionManager creates a session manager over client.
func NewSessionManager(client *Client, creds Credentials, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		client:       client,
		creds:        creds,
		logger:       logger,
		generateCode: totp.GenerateCode,
	}
}

// Authenticate performs a password plus TOTP login. The one-time code
// is generated immediately before the request so it cannot straddle a
// 30 second TOTP step boundary from an earlier attempt.
func (m *SessionManager) Authenticate(ctx context.Context) error {
	op := "smartapi.Authenticate"

	code, err := m.generateCode(m.creds.TOTPKey, time.Now())
	if err != nil {
		return apperrors.Wrap(apperrors.TypeAuthentication, op, "generate totp code", err)
	}

	payload := map[string]string{
		"clientcode": m.creds.ClientCode,
		"password":   m.creds.Password,
		"totp":       code,
	}

	env, err := m.client.post(ctx, loginPath, "", payload)
	if err != nil {
		return err
	}
	if !env.Status {
		return apperrors.New(apperrors.TypeAuthentication, op,
			fmt.Sprintf("login rejected: %s (code %s)", env.Message, env.ErrorCode))
	}

	var sess Session
	if err := json.Unmarshal(env.Data, &sess); err != nil {
		return apperrors.Wrap(apperrors.TypeAuthentication, op, "decode session tokens", err)
	}
	if sess.AuthToken == "" {
		return apperrors.New(apperrors.TypeAuthentication, op, "login succeeded but returned no auth token")
	}

	m.mu.Lock()
	m.session = &sess
	m.mu.Unlock()

	m.logger.Info("session established", "client_code", m.creds.ClientCode)
	return nil
}

// AuthToken returns the current session token, or "" when logged out.
func (m *SessionManager) AuthToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.AuthToken
}

// FeedToken returns the market data feed token from the active
// session, or "" when logged out.
func (m *SessionManager) FeedToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.FeedToken
}

// Logout terminates the session upstream and clears local token state.
// Calling Logout without an active session reports an error without
// touching the network. Local state is only cleared after the upstream
// call succeeds, so a failed logout can be retried.
func (m *SessionManager) Logout(ctx context.Context) error {
	op := "smartapi.Logout"

	token := m.AuthToken()
	if token == "" {
		return apperrors.New(apperrors.TypeAuthentication, op, "no active session")
	}

	payload := map[string]string{"clientcode": m.creds.ClientCode}
	env, err := m.client.post(ctx, logoutPath, token, payload)
	if err != nil {
		return err
	}
	if !env.Status {
		return apperrors.New(apperrors.TypeAuthentication, op,
			fmt.Sprintf("logout rejected: %s (code %s)", env.Message, env.ErrorCode))
	}

	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()

	m.logger.Info("session terminated", "client_code", m.creds.ClientCode)
	return nil
}
