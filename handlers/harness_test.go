package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/billing"
	"github.com/lookmax/lookmax/backend/go-services/internal/config"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/identity"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/internal/payments"
	"github.com/lookmax/lookmax/backend/go-services/internal/sessions"
	"github.com/lookmax/lookmax/backend/go-services/internal/tokens"
	"github.com/lookmax/lookmax/backend/go-services/internal/users"
	"github.com/lookmax/lookmax/backend/go-services/internal/webhooks"
	"github.com/lookmax/lookmax/backend/go-services/pkg/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const webhookSecret = "whsec_handlers"

type fakeGateway struct {
	mu        sync.Mutex
	intents   map[string]*payments.PaymentIntent
	cancelled []string
	err       error
}

func (f *fakeGateway) CreateCustomer(_ context.Context, _, _, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "cus_" + userID, nil
}

func (f *fakeGateway) CreateCheckout(_ context.Context, r payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payments.CheckoutSession{ID: "cs_" + r.UserID, URL: "https://checkout.example/cs_" + r.UserID}, nil
}

func (f *fakeGateway) CreatePaymentIntent(_ context.Context, r payments.PaymentIntentRequest) (*payments.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payments.PaymentIntent{ID: "pi_new", ClientSecret: "pi_new_secret", Customer: r.CustomerID, Amount: r.Amount, Currency: r.Currency}, nil
}

func (f *fakeGateway) RetrievePaymentIntent(_ context.Context, id string) (*payments.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pi, ok := f.intents[id]; ok {
		return pi, nil
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeGateway) CancelAtPeriodEnd(_ context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, subscriptionID)
	return nil
}

type testServer struct {
	router   *gin.Engine
	redis    *mr.Miniredis
	repo     *users.MemoryUserRepository
	users    *users.Service
	sessions *sessions.Service
	tokens   *tokens.Service
	ent      *entitlement.Service
	gateway  *fakeGateway
	cfg      *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := mr.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{}
	cfg.JWT.Secret = "handlers-test-secret-32-bytes-xxxx"
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = 24 * time.Hour
	cfg.OIDC.Provider = "google"

	repo := users.NewMemoryUserRepository()
	usersSvc := users.NewService(repo, users.WithBcryptCost(bcrypt.MinCost))
	sessionsSvc := sessions.NewService(sessions.NewRedisRepository(rdb, "refresh:"))
	tokenSvc := tokens.NewService(cfg.JWT.Secret)
	blacklist := sessions.NewBlacklist(rdb)
	resolver := identity.NewResolver(tokenSvc, repo, identity.WithRevocations(blacklist))

	ent := entitlement.NewService(repo, entitlement.WithSyncHooks(), entitlement.WithCacheInvalidator(resolver))
	gw := &fakeGateway{intents: map[string]*payments.PaymentIntent{}}
	billingSvc := billing.NewService(gw, ent, billing.Plan{PriceID: "price_1", Amount: 999, Currency: "usd", PublishableKey: "pk_test"})
	pipeline := webhooks.NewPipeline(webhookSecret, webhooks.NewMemoryLedger(), ent)

	r := gin.New()
	auth := middleware.Authenticate(resolver)
	NewAuthHandler(cfg, usersSvc, sessionsSvc, tokenSvc, WithBlacklist(blacklist)).Register(r, auth)
	NewPaymentsHandler(billingSvc, pipeline).Register(r, auth)
	api := r.Group("/api/v1", auth)
	NewUsersHandler(usersSvc, resolver).Register(api)
	admin := r.Group("/admin", auth, middleware.RequireRole(models.RoleAdmin))
	NewAdminHandler(usersSvc, sessionsSvc, resolver).Register(admin)

	return &testServer{router: r, redis: m, repo: repo, users: usersSvc, sessions: sessionsSvc, tokens: tokenSvc, ent: ent, gateway: gw, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signUp registers an account and returns its tokens.
func (s *testServer) signUp(t *testing.T, email string) TokenResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/register", "", gin.H{"email": email, "name": "Test", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tr TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))
	return tr
}

func (s *testServer) promote(t *testing.T, userID string) {
	t.Helper()
	ok, err := s.repo.SetRole(context.Background(), userID, models.RoleAdmin)
	require.NoError(t, err)
	require.True(t, ok)
}

// unsignedIDToken builds a JWT-shaped string the insecure verifier accepts,
// valid for an hour.
func unsignedIDToken(claims gin.H) string {
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	payload, _ := json.Marshal(claims)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString(payload) + "."
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Code
}
