package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"idverify/internal/auth"
	"idverify/internal/model"
)

// IdentityLocalKey stores the authenticated requester in Fiber locals.
const IdentityLocalKey = "identity"

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Authenticate requires a valid bearer JWT and stores the caller's identity
// under IdentityLocalKey.
func Authenticate(v TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		claims, err := v.ValidateToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		c.Locals(IdentityLocalKey, claims.Identity())
		return c.Next()
	}
}

// IdentityFromCtx returns the identity stored by Authenticate.
func IdentityFromCtx(c *fiber.Ctx) (model.Identity, bool) {
	id, ok := c.Locals(IdentityLocalKey).(model.Identity)
	return id, ok
}

// SharedToken guards machine-to-machine endpoints such as storage event
// hooks. An empty token rejects every request.
func SharedToken(token string) fiber.Handler {
	want := []byte(token)
	return func(c *fiber.Ctx) error {
		got, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid event token")
		}
		return c.Next()
	}
}
