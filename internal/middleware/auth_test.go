package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"livecount/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func generateToken(userID int64, role string, exp time.Duration) string {
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(userID, 10),
		"role": role,
		"exp":  time.Now().Add(exp).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, _ := token.SignedString([]byte(testSecret))
	return s
}

func TestAuthRequired(t *testing.T) {
	app := fiber.New()
	InitMiddleware(&config.Config{JWTSecret: testSecret})

	app.Get("/test", AuthRequired, func(c *fiber.Ctx) error {
		id, _ := UserID(c)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"userID": id, "role": Role(c)})
	})

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID int64
		expectedRole   string
	}{
		{
			name:           "Happy Path",
			authHeader:     "Bearer " + generateToken(123, "ROLE_MEMBER", time.Hour),
			expectedStatus: http.StatusOK,
			expectedUserID: 123,
			expectedRole:   "ROLE_MEMBER",
		},
		{
			name:           "Missing Header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid Format",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Malformed Token",
			authHeader:     "Bearer malformed.token.here",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired Token",
			authHeader:     "Bearer " + generateToken(123, "", -time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Non Positive Subject",
			authHeader:     "Bearer " + generateToken(0, "", time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, float64(tt.expectedUserID), body["userID"])
				assert.Equal(t, tt.expectedRole, body["role"])
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	app := fiber.New()
	InitMiddleware(&config.Config{JWTSecret: testSecret})

	app.Get("/test", OptionalAuth, func(c *fiber.Ctx) error {
		id, ok := UserID(c)
		return c.JSON(fiber.Map{"userID": id, "authenticated": ok})
	})

	cases := map[string]struct {
		header string
		authed bool
	}{
		"anonymous":     {"", false},
		"garbage token": {"Bearer nope", false},
		"valid token":   {"Bearer " + generateToken(9, "", time.Hour), true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.authed, body["authenticated"])
		})
	}
}

func TestWebSocketAuth(t *testing.T) {
	app := fiber.New()
	InitMiddleware(&config.Config{JWTSecret: testSecret})

	app.Get("/ws-test", WebSocketAuth, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	tests := []struct {
		name           string
		tokenParam     string
		authHeader     string
		expectedStatus int
	}{
		{name: "Token via Query Param", tokenParam: generateToken(1, "", time.Hour), expectedStatus: http.StatusOK},
		{name: "Token via Header", authHeader: "Bearer " + generateToken(1, "", time.Hour), expectedStatus: http.StatusOK},
		{name: "Anonymous Viewer", expectedStatus: http.StatusOK},
		{name: "Invalid Token", tokenParam: "invalid-token", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/ws-test"
			if tt.tokenParam != "" {
				path += "?token=" + tt.tokenParam
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestRoleRequired(t *testing.T) {
	app := fiber.New()
	InitMiddleware(&config.Config{JWTSecret: testSecret})

	app.Delete("/live", AuthRequired, RoleRequired(RolePrefixAdmin, RolePrefixSeller), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Post("/flush", AuthRequired, AdminRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	do := func(method, path, role string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+generateToken(5, role, time.Hour))
		resp, err := app.Test(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/live", "ROLE_SELLER"))
	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/live", "ROLE_ADMIN_SUPER"))
	assert.Equal(t, http.StatusForbidden, do(http.MethodDelete, "/live", "ROLE_MEMBER"))
	assert.Equal(t, http.StatusAccepted, do(http.MethodPost, "/flush", "ROLE_ADMIN"))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/flush", "ROLE_SELLER"))
}
