package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"livecount/internal/engagement"
	"livecount/internal/models"
	"livecount/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- humanizeParam (pure function, no HTTP) ---

func TestHumanizeParam(t *testing.T) {
	tests := []struct {
		param    string
		expected string
	}{
		{"id", "ID"},
		{"broadcastId", "broadcast ID"},
		{"vodId", "vod ID"},
		{"sellerId", "seller ID"},
		{"something", "something"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			assert.Equal(t, tt.expected, humanizeParam(tt.param))
		})
	}
}

// --- parseID ---

func TestParseID(t *testing.T) {
	app := fiber.New()
	app.Get("/items/:id", func(c *fiber.Ctx) error {
		id, err := parseID(c, "id")
		if err != nil {
			return nil
		}
		return c.JSON(fiber.Map{"id": id})
	})

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedID     int64
	}{
		{"Valid", "/items/42", http.StatusOK, 42},
		{"Beyond int32", "/items/9000000000", http.StatusOK, 9000000000},
		{"Zero", "/items/0", http.StatusBadRequest, 0},
		{"Negative", "/items/-3", http.StatusBadRequest, 0},
		{"Not A Number", "/items/abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]int64
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedID, body["id"])
			} else {
				var body models.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "Invalid ID", body.Error)
			}
		})
	}
}

// --- respondError ---

func TestRespondError_MapsEngineErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"Invalid Viewer", fmt.Errorf("record vod view: %w", engagement.ErrInvalidViewer), http.StatusBadRequest},
		{"Invalid Broadcast", engagement.ErrInvalidBroadcast, http.StatusBadRequest},
		{"Store Down", fmt.Errorf("like count: %w", store.ErrUnavailable), http.StatusServiceUnavailable},
		{"Other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestAnonymousViewerID(t *testing.T) {
	known := uuid.NewString()
	assert.Equal(t, known, anonymousViewerID(known))

	for _, bad := range []string{"", "not-a-uuid", "12345"} {
		got := anonymousViewerID(bad)
		assert.NotEqual(t, bad, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
	}
}
