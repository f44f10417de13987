// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTimeout is the idle timeout when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Minute

	// DefaultWarningBefore is how long before expiry Status reports a warning.
	DefaultWarningBefore = 2 * time.Minute

	// MaxFailedAttempts is the number of bad logins before lockout.
	MaxFailedAttempts = 5

	// LockoutDuration is how long logins are refused after MaxFailedAttempts.
	LockoutDuration = 5 * time.Minute

	tokenBytes = 32
	issuer     = "chatmark"
)

var (
	// ErrInvalidCredentials indicates a wrong password, code or token.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMFARequired indicates a TOTP code must accompany the password.
	ErrMFARequired = errors.New("authenticator code required")

	// ErrExpired indicates the session timed out from inactivity.
	ErrExpired = errors.New("session expired")

	// ErrNoSession indicates nobody is logged in.
	ErrNoSession = errors.New("no active session")

	// ErrAuthDisabled indicates no password hash is configured.
	ErrAuthDisabled = errors.New("authentication not configured")

	// ErrLocked indicates too many failed logins.
	ErrLocked = errors.New("too many failed attempts")
)

// totpOpts matches what authenticator apps generate by default.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Config holds credentials and timeouts for a Manager.
type Config struct {
	// PasswordHash is a bcrypt hash. Empty disables authentication.
	PasswordHash string

	// TOTPSecret is a base32 secret. Empty disables the second factor.
	TOTPSecret string

	// Timeout is the idle timeout (default: 30 minutes).
	Timeout time.Duration

	// WarningBefore is how long before timeout Status.Warning turns on.
	WarningBefore time.Duration
}

// Manager tracks a single authenticated session.
type Manager struct {
	mu sync.Mutex

	passwordHash []byte
	totpSecret   string

	timeout       time.Duration
	warningBefore time.Duration

	// Active session; token is empty when logged out.
	token        string
	sessionID    string
	startTime    time.Time
	lastActivity time.Time

	failures    int
	lockedUntil time.Time

	now func() time.Time
}

// NewManager creates a manager with no active session.
func NewManager(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WarningBefore <= 0 || cfg.WarningBefore >= cfg.Timeout {
		cfg.WarningBefore = min(DefaultWarningBefore, cfg.Timeout/2)
	}
	return &Manager{
		passwordHash:  []byte(strings.TrimSpace(cfg.PasswordHash)),
		totpSecret:    strings.TrimSpace(cfg.TOTPSecret),
		timeout:       cfg.Timeout,
		warningBefore: cfg.WarningBefore,
		now:           time.Now,
	}
}

// Enabled reports whether a password is configured.
func (m *Manager) Enabled() bool {
	return len(m.passwordHash) > 0
}

// MFAEnabled reports whether a TOTP code is required.
func (m *Manager) MFAEnabled() bool {
	return m.totpSecret != ""
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// Login verifies the password and optional TOTP code and starts a new
// session, replacing any existing one. It returns the bearer token.
func (m *Manager) Login(password, code string) (string, error) {
	if !m.Enabled() {
		return "", ErrAuthDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Before(m.lockedUntil) {
		return "", fmt.Errorf("%w: retry in %s", ErrLocked, FormatDuration(m.lockedUntil.Sub(now)))
	}

	if err := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)); err != nil {
		m.recordFailure(now, "password")
		return "", ErrInvalidCredentials
	}

	if m.totpSecret != "" {
		code = strings.TrimSpace(code)
		if code == "" {
			return "", ErrMFARequired
		}
		ok, err := totp.ValidateCustom(code, m.totpSecret, now.UTC(), totpOpts)
		if err != nil || !ok {
			m.recordFailure(now, "totp")
			return "", ErrInvalidCredentials
		}
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	m.failures = 0
	m.token = token
	m.sessionID = generateSessionID()
	m.startTime = now
	m.lastActivity = now
	log.Printf("AUTH_LOGIN | session=%s mfa=%t", m.sessionID, m.totpSecret != "")
	return token, nil
}

// recordFailure counts a failed login. Caller holds mu.
func (m *Manager) recordFailure(now time.Time, factor string) {
	m.failures++
	log.Printf("AUTH_FAILURE | factor=%s attempts=%d", factor, m.failures)
	if m.failures >= MaxFailedAttempts {
		m.lockedUntil = now.Add(LockoutDuration)
		m.failures = 0
		log.Printf("AUTH_LOCKOUT | duration=%s", LockoutDuration)
	}
}

// Validate checks token against the active session. An expired session is
// ended.
func (m *Manager) Validate(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == "" {
		return ErrNoSession
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
		return ErrInvalidCredentials
	}
	if m.now().Sub(m.lastActivity) >= m.timeout {
		log.Printf("AUTH_EXPIRED | session=%s", m.sessionID)
		m.clear()
		return ErrExpired
	}
	return nil
}

// Logout ends the active session.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		log.Printf("AUTH_LOGOUT | session=%s", m.sessionID)
	}
	m.clear()
}

func (m *Manager) clear() {
	m.token = ""
	m.sessionID = ""
}

// =============================================================================
// ACTIVITY TRACKING
// =============================================================================

// RecordActivity refreshes the idle timer of the active session.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		m.lastActivity = m.now()
	}
}

// SessionID returns the active session ID, or "" when logged out.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// RemainingTime returns time until the session times out.
func (m *Manager) RemainingTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return 0
	}
	remaining := m.timeout - m.now().Sub(m.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired returns true if a session exists and has timed out.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != "" && m.now().Sub(m.lastActivity) >= m.timeout
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status represents the current session status.
type Status struct {
	Active        bool          `json:"active"`
	SessionID     string        `json:"session_id,omitempty"`
	StartTime     time.Time     `json:"start_time,omitempty"`
	Duration      time.Duration `json:"duration"`
	IdleTime      time.Duration `json:"idle_time"`
	RemainingTime time.Duration `json:"remaining_time"`
	Warning       bool          `json:"warning"`
	IsExpired     bool          `json:"expired"`
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == "" {
		return Status{}
	}

	now := m.now()
	idle := now.Sub(m.lastActivity)
	remaining := m.timeout - idle
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Active:        true,
		SessionID:     m.sessionID,
		StartTime:     m.startTime,
		Duration:      now.Sub(m.startTime),
		IdleTime:      idle,
		RemainingTime: remaining,
		Warning:       remaining > 0 && remaining <= m.warningBefore,
		IsExpired:     idle >= m.timeout,
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// HashPassword returns a bcrypt hash suitable for session.password_hash.
func HashPassword(password string) (string, error) {
	return hashPassword(password, bcrypt.DefaultCost)
}

func hashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// GenerateTOTPSecret creates a new base32 secret and its otpauth:// URL
// for enrolling an authenticator app.
func GenerateTOTPSecret(account string) (secret, url string, err error) {
	if account == "" {
		account = "chatmark"
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func generateSessionID() string {
	return "sess_" + uuid.NewString()
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}
