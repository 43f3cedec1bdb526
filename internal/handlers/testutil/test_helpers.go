package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/api"
	"github.com/charlesng35/trialkit/internal/app"
	iauth "github.com/charlesng35/trialkit/internal/auth"
	sharedtestutil "github.com/charlesng35/trialkit/internal/database/testutil"
	"github.com/charlesng35/trialkit/internal/middleware"
	"github.com/charlesng35/trialkit/internal/models"
	"github.com/charlesng35/trialkit/internal/services"
	"github.com/charlesng35/trialkit/pkg/response"
)

const (
	jwtSecret = "test-suite-super-secret-key-32-bytes!!"
	jwtIssuer = "test-suite"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Config   *app.Config
	Services api.Services
}

// EnvOption customises the environment before the router is built.
type EnvOption func(*envOptions)

type envOptions struct {
	campaigns []models.Campaign
	configure []func(*app.Config)
	locker    services.Locker
}

// WithCampaigns seeds campaigns into the test database.
func WithCampaigns(campaigns ...models.Campaign) EnvOption {
	return func(o *envOptions) {
		o.campaigns = append(o.campaigns, campaigns...)
	}
}

// WithConfig mutates the loaded configuration.
func WithConfig(fn func(cfg *app.Config)) EnvOption {
	return func(o *envOptions) {
		if fn != nil {
			o.configure = append(o.configure, fn)
		}
	}
}

// WithLocker injects the quota locker the server would build from Redis.
func WithLocker(locker services.Locker) EnvOption {
	return func(o *envOptions) {
		o.locker = locker
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var options envOptions
	for _, opt := range opts {
		opt(&options)
	}

	db := sharedtestutil.MustOpenTestDB(t,
		sharedtestutil.WithAutoMigrate(),
		sharedtestutil.WithCampaigns(options.campaigns...),
	)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = jwtSecret
	cfg.Auth.JWT.Issuer = jwtIssuer
	for _, fn := range options.configure {
		fn(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         jwtIssuer,
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	svcs, err := api.NewServices(db, cfg, api.ServiceDeps{Locker: options.locker})
	require.NoError(t, err)

	router, err := api.NewRouter(db, jwtSvc, cfg, svcs, middleware.NewMemoryRateStore())
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Config:   cfg,
		Services: svcs,
	}
}

// Token issues an access token for the user as the identity provider would.
func (e *Env) Token(userID, email, plan string) string {
	e.T.Helper()

	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: userID,
		Email:  email,
		Plan:   plan,
	})
	require.NoError(e.T, err)
	return token
}

// NewUser returns a random user id with a free-plan token.
func (e *Env) NewUser() (string, string) {
	e.T.Helper()

	userID := "user-" + uuid.NewString()
	return userID, e.Token(userID, userID+"@example.com", "free")
}

// RecordUsage inserts rows into a usage table owned by another service.
func (e *Env) RecordUsage(userID string, model string, count int) {
	e.T.Helper()

	now := time.Now().UTC()
	for i := 0; i < count; i++ {
		var row any
		switch model {
		case "experience":
			row = &models.Experience{ID: uuid.NewString(), UserID: userID, CreatedAt: now}
		case "es_document":
			row = &models.ESDocument{ID: uuid.NewString(), UserID: userID, CreatedAt: now}
		case "interview_session":
			row = &models.InterviewSession{ID: uuid.NewString(), UserID: userID, CreatedAt: now}
		default:
			e.T.Fatalf("unknown usage model %q", model)
		}
		require.NoError(e.T, e.DB.Create(row).Error)
	}
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
