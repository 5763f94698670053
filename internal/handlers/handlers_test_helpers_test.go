package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/csrnotify/internal/auth"
	"github.com/charlesng35/csrnotify/internal/database/testutil"
	"github.com/charlesng35/csrnotify/internal/dispatch"
	"github.com/charlesng35/csrnotify/internal/middleware"
	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	"github.com/charlesng35/csrnotify/internal/services"
	"github.com/charlesng35/csrnotify/pkg/response"
)

var baseTime = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []string
}

func (d *recordingDispatcher) Send(_ context.Context, n *models.Notification, _ dispatch.Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n.ID)
	return nil
}

func (d *recordingDispatcher) sentIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

type testEnv struct {
	db         *gorm.DB
	repo       *repository.GormNotificationRepository
	prefs      *repository.GormPreferenceRepository
	engine     *services.Engine
	dispatcher *recordingDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	repo, err := repository.NewNotificationRepository(db)
	require.NoError(t, err)
	prefs, err := repository.NewPreferenceRepository(db)
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	engine, err := services.NewEngine(services.EngineDeps{
		Notifications: repo,
		Preferences:   prefs,
		Dispatcher:    dispatcher,
	}, services.WithNow(func() time.Time { return baseTime }))
	require.NoError(t, err)

	return &testEnv{db: db, repo: repo, prefs: prefs, engine: engine, dispatcher: dispatcher}
}

func (e *testEnv) seed(t *testing.T, n models.Notification) *models.Notification {
	t.Helper()
	if n.Channel == "" {
		n.Channel = models.ChannelDatabase
	}
	if n.Type == "" {
		n.Type = "donation_received"
	}
	if n.Title == "" {
		n.Title = "Thank you"
	}
	require.NoError(t, e.repo.Create(context.Background(), &n))
	return &n
}

func adminClaims() *iauth.Claims {
	return &iauth.Claims{UserID: "operator", Roles: []string{iauth.RoleAdmin}}
}

func userClaims(userID string) *iauth.Claims {
	return &iauth.Claims{UserID: userID}
}

// withClaims stands in for the bearer middleware.
func withClaims(claims *iauth.Claims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.CtxClaimsKey, claims)
			c.Set(middleware.CtxUserIDKey, claims.UserID)
		}
		c.Next()
	}
}

func newRouter(claims *iauth.Claims) *gin.Engine {
	r := gin.New()
	r.Use(withClaims(claims))
	return r
}

func perform(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals the data member of a success envelope into dest and returns the envelope.
func decode(t *testing.T, rec *httptest.ResponseRecorder, dest any) response.Response {
	t.Helper()

	var envelope struct {
		Success bool                `json:"success"`
		Data    json.RawMessage     `json:"data"`
		Error   *response.ErrorInfo `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	if dest != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, dest))
	}
	return response.Response{Success: envelope.Success, Error: envelope.Error}
}

func ptr[T any](v T) *T {
	return &v
}
