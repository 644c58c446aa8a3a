package middleware

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func identityApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected(testSecret))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(fmt.Sprintf("%d:%s", UserID(c), UserRole(c)))
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestJWTProtectedPopulatesIdentity(t *testing.T) {
	app := identityApp()

	token := signToken(t, testSecret, jwt.MapClaims{"sub": "7", "role": "Admin", "exp": time.Now().Add(time.Hour).Unix()})
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	status, body := doRequest(t, app, req)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "7:admin", body)
}

func TestJWTProtectedDefaultsRoleAndPicksStrongest(t *testing.T) {
	app := identityApp()

	plain := signToken(t, testSecret, jwt.MapClaims{"user_id": float64(3)})
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "bearer "+plain)
	status, body := doRequest(t, app, req)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "3:user", body)

	multi := signToken(t, testSecret, jwt.MapClaims{"sub": "4", "roles": []interface{}{"user", "judge"}})
	req = httptest.NewRequest(http.MethodGet, "/whoami?access_token="+multi, nil)
	status, body = doRequest(t, app, req)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "4:judge", body)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := identityApp()

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"wrong secret":   "Bearer " + signToken(t, "other", jwt.MapClaims{"sub": "1"}),
		"expired":        "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "1", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no subject":     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"role": "admin"}),
		"zero subject":   "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "0"}),
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			status, body := doRequest(t, app, req)
			require.Equal(t, fiber.StatusUnauthorized, status)

			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(body), &payload))
			require.Equal(t, false, payload["success"])
		})
	}
}

func roleApp(userID interface{}, role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != nil {
			c.Locals(LocalUserID, userID)
		}
		c.Locals(LocalUserRole, role)
		return c.Next()
	})
	app.Use(RequireRole("admin", "judge"))
	app.Get("/guarded", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRequireRole(t *testing.T) {
	status, _ := doRequest(t, roleApp(uint(1), "admin"), httptest.NewRequest(http.MethodGet, "/guarded", nil))
	require.Equal(t, fiber.StatusOK, status)

	status, _ = doRequest(t, roleApp(uint(2), "Judge"), httptest.NewRequest(http.MethodGet, "/guarded", nil))
	require.Equal(t, fiber.StatusOK, status)

	status, _ = doRequest(t, roleApp(uint(3), "user"), httptest.NewRequest(http.MethodGet, "/guarded", nil))
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = doRequest(t, roleApp(nil, "admin"), httptest.NewRequest(http.MethodGet, "/guarded", nil))
	require.Equal(t, fiber.StatusUnauthorized, status)
}

func TestCorrelationIDEchoesOrMints(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		require.Equal(t, GetCorrelationID(c), CorrelationIDFromContext(c.UserContext()))
		return c.SendString(GetCorrelationID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "abc-123")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, "abc-123", resp.Header.Get(HeaderCorrelationID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, strings.Repeat("x", maxCorrelationIDLength+1))
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	minted := resp.Header.Get(HeaderCorrelationID)
	require.Len(t, minted, 36)
}

func TestRateLimitPerUser(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if id := c.Get("X-Test-User"); id == "1" {
			c.Locals(LocalUserID, uint(1))
		} else {
			c.Locals(LocalUserID, uint(2))
		}
		return c.Next()
	})
	app.Post("/submit", RateLimit("submit", 2, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	request := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set("X-Test-User", user)
		status, _ := doRequest(t, app, req)
		return status
	}

	require.Equal(t, fiber.StatusCreated, request("1"))
	require.Equal(t, fiber.StatusCreated, request("1"))
	require.Equal(t, fiber.StatusTooManyRequests, request("1"))
	require.Equal(t, fiber.StatusCreated, request("2"))
}

func TestRegisterServesRequestsAndRecovers(t *testing.T) {
	logger := zerolog.Nop()
	app := fiber.New()
	Register(app, Config{Logger: &logger, SkipPaths: []string{"/metrics"}})
	app.Get("/boom", func(c *fiber.Ctx) error {
		panic("boom")
	})
	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, fiber.StatusInternalServerError, status)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(HeaderCorrelationID))
}
