// Package credentials owns identity material: opaque secure ids, the HMAC
// token service for user and room grants, and the deferred login registry
// behind the browser confirmation flow.
package credentials

import (
	"crypto/rand"
	"sync"
	"time"
)

const (
	// authTimeout is how long a deferred login waits for confirmation.
	authTimeout = 300 * time.Second
	// tokenTTL bounds the validity of minted user and room tokens.
	tokenTTL = 24 * time.Hour
	// minSecretBytes is the weakest secret Validate lets through.
	minSecretBytes = 32
)

// Service signs and verifies tokens and tracks deferred logins. One value
// per broker process.
type Service struct {
	secretOnce sync.Once
	secret     []byte

	loginTTL time.Duration

	mu      sync.Mutex
	pending map[string]*pendingLogin
}

// New builds a Service. An empty secret means no JWT_PRIVATE_KEY was
// configured; a random process-lifetime secret is generated on first use,
// which keeps single-process setups working while making tokens worthless
// across restarts.
func New(secret string) *Service {
	s := &Service{
		loginTTL: authTimeout,
		pending:  make(map[string]*pendingLogin),
	}
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s
}

func (s *Service) signingKey() []byte {
	s.secretOnce.Do(func() {
		if s.secret != nil {
			return
		}
		key := make([]byte, minSecretBytes)
		if _, err := rand.Read(key); err != nil {
			// crypto/rand failure means the process has no usable
			// entropy source; nothing sensible can continue.
			panic("credentials: reading random secret: " + err.Error())
		}
		s.secret = key
	})
	return s.secret
}
