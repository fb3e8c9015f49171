// Package auth guards the admit endpoint behind a single hashed API key,
// the minimal client boundary spec.md's admit contract needs.
package auth

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// Service checks X-API-Key against a single pre-hashed operator key. There
// is no multi-tenant client registry: the admit endpoint has one caller
// identity, matching spec.md's single-gateway scope.
type Service struct {
	keyHash []byte
}

// NewFromHash builds a Service from an already-bcrypt-hashed key, as loaded
// from config.
func NewFromHash(keyHash string) *Service {
	return &Service{keyHash: []byte(keyHash)}
}

// HashKey bcrypt-hashes a plaintext API key for storage in config/secrets.
func HashKey(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// Authenticate reports whether plaintext matches the configured key.
func (s *Service) Authenticate(plaintext string) bool {
	if len(s.keyHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.keyHash, []byte(plaintext)) == nil
}

// RequireAPIKey is Fiber middleware enforcing the X-API-Key header.
func (s *Service) RequireAPIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-API-Key")
		if key == "" || !s.Authenticate(key) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or missing API key"})
		}
		return c.Next()
	}
}
