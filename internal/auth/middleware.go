package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"filedepot/internal/access"
	"filedepot/internal/config"
)

// ActorMiddleware resolves the request's actor from either a bearer JWT
// or a static API token. Requests without credentials proceed as
// anonymous; requests with bad credentials are rejected.
func ActorMiddleware(jwtSecret string, apiTokens []config.APIToken) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if header := c.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return fiber.NewError(fiber.StatusUnauthorized, "Invalid auth header format")
			}
			claims, err := ParseToken(parts[1], jwtSecret)
			if err != nil {
				return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
			}
			c.Locals("actor", &access.Actor{ID: claims.Subject, Roles: claims.Roles})
			return c.Next()
		}

		if token := c.Get("X-Api-Token"); token != "" {
			for _, t := range apiTokens {
				if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(token)) == nil {
					c.Locals("actor", &access.Actor{ID: t.ActorID})
					return c.Next()
				}
			}
			return fiber.NewError(fiber.StatusUnauthorized, "Unknown API token")
		}

		// Anonymous: no actor in locals.
		return c.Next()
	}
}

// GetActor extracts the actor from a Fiber context; nil means anonymous.
func GetActor(c *fiber.Ctx) *access.Actor {
	actor, _ := c.Locals("actor").(*access.Actor)
	return actor
}
