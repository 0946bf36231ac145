package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"filedepot/internal/config"
)

const testSecret = "test-secret"

func TestTokenRoundtrip(t *testing.T) {
	token, err := GenerateToken("alice", []string{"staff"}, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "alice" || len(claims.Roles) != 1 || claims.Roles[0] != "staff" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, _ := GenerateToken("alice", nil, testSecret, time.Minute)
	if _, err := ParseToken(token, "other-secret"); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, _ := GenerateToken("alice", nil, testSecret, -time.Minute)
	if _, err := ParseToken(token, testSecret); err == nil {
		t.Fatal("expected expiry error")
	}
}

// actorApp mounts the middleware and echoes the resolved actor id.
func actorApp(t *testing.T, apiTokens []config.APIToken) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Use(ActorMiddleware(testSecret, apiTokens))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		if actor := GetActor(c); actor != nil {
			return c.SendString(actor.ID)
		}
		return c.SendString("anonymous")
	})
	return app
}

func whoami(t *testing.T, app *fiber.App, header, value string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", "/whoami", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	return resp.StatusCode, string(buf[:n])
}

func TestActorMiddleware_Anonymous(t *testing.T) {
	status, body := whoami(t, actorApp(t, nil), "", "")
	if status != 200 || body != "anonymous" {
		t.Fatalf("got %d %q", status, body)
	}
}

func TestActorMiddleware_Bearer(t *testing.T) {
	app := actorApp(t, nil)
	token, _ := GenerateToken("alice", nil, testSecret, time.Minute)

	status, body := whoami(t, app, "Authorization", "Bearer "+token)
	if status != 200 || body != "alice" {
		t.Fatalf("got %d %q", status, body)
	}

	if status, _ := whoami(t, app, "Authorization", "Bearer garbage"); status != 401 {
		t.Fatalf("garbage token status = %d", status)
	}
	if status, _ := whoami(t, app, "Authorization", "Basic dXNlcg=="); status != 401 {
		t.Fatalf("non-bearer scheme status = %d", status)
	}
}

func TestActorMiddleware_APIToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("svc-token-value"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	app := actorApp(t, []config.APIToken{{ActorID: "svc-ingest", TokenHash: string(hash)}})

	status, body := whoami(t, app, "X-Api-Token", "svc-token-value")
	if status != 200 || body != "svc-ingest" {
		t.Fatalf("got %d %q", status, body)
	}

	if status, _ := whoami(t, app, "X-Api-Token", "wrong"); status != 401 {
		t.Fatalf("wrong token status = %d", status)
	}
}
