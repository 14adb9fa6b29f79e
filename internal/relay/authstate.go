package relay

import "sync"

type AuthState string

const (
	AuthUnknown          AuthState = "unknown"
	AuthAuthenticated    AuthState = "authenticated"
	AuthNotAuthenticated AuthState = "not_authenticated"
	AuthErrored          AuthState = "error"
)

// AuthStatus is a snapshot of the upstream authentication state.
type AuthStatus struct {
	Status               AuthState `json:"status"`
	User                 string    `json:"user,omitempty"`
	Email                string    `json:"email,omitempty"`
	TokenValidForSeconds int       `json:"token_valid_for_seconds,omitempty"`
	Detail               string    `json:"detail,omitempty"`
}

// AuthSession holds the process-wide upstream auth state. It is an
// injected value, not a package global. Populated lazily by the first
// probe, returned to unknown by Clear. A concurrent probe and clear
// race last-write-wins; both paths are idempotent so the worst case is
// one extra probe round trip.
type AuthSession struct {
	mu     sync.Mutex
	status AuthStatus
}

func NewAuthSession() *AuthSession {
	return &AuthSession{status: AuthStatus{Status: AuthUnknown}}
}

func (s *AuthSession) Snapshot() AuthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *AuthSession) Set(status AuthStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *AuthSession) Clear() {
	s.Set(AuthStatus{Status: AuthUnknown})
}
