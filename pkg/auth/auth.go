package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"go.uber.org/zap"
)

// AdminKeyHeader carries the admin credential on collection endpoints.
const AdminKeyHeader = "x-admin-key"

// Authorize reports whether presented matches configured. Both values are
// hashed to a fixed length first so the comparison time depends on neither
// content nor length. Empty values never authorize.
func Authorize(presented, configured string) bool {
	ok, _ := authorize(presented, configured)
	return ok
}

func authorize(presented, configured string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("panic during credential comparison: %v", r)
		}
	}()

	if presented == "" || configured == "" {
		return false, nil
	}

	p := sha256.Sum256([]byte(presented))
	c := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(p[:], c[:]) == 1, nil
}

// Guard holds the configured admin secret.
type Guard struct {
	adminKey string
	logger   *zap.Logger
}

func NewGuard(adminKey string, logger *zap.Logger) *Guard {
	return &Guard{adminKey: adminKey, logger: logger}
}

// Configured is false when no admin secret was provided.
func (g *Guard) Configured() bool {
	return g != nil && g.adminKey != ""
}

// AuthorizeRequest checks the value of the admin key header.
func (g *Guard) AuthorizeRequest(headerValue string) bool {
	if !g.Configured() {
		return false
	}
	ok, err := authorize(headerValue, g.adminKey)
	if err != nil {
		g.logger.Sugar().Errorw("Admin authorization failed", "error", err)
		return false
	}
	if !ok {
		g.logger.Sugar().Debugw("Rejected admin credential", "present", headerValue != "")
	}
	return ok
}
