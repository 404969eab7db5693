package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/billing"
	"github.com/lookmax/lookmax/backend/go-services/internal/payments"
	"github.com/lookmax/lookmax/backend/go-services/internal/webhooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) webhook(t *testing.T, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) signedWebhook(t *testing.T, payload string) *httptest.ResponseRecorder {
	return s.webhook(t, payload, webhooks.SignatureHeader([]byte(payload), webhookSecret, time.Now()))
}

func checkoutEvent(eventID, userID string) string {
	return fmt.Sprintf(`{"id":%q,"type":"checkout.session.completed","created":%d,
		"data":{"object":{"object":"checkout.session","customer":"cus_%s","subscription":"sub_%s",
		"payment_status":"paid","metadata":{"user_id":%q}}}}`, eventID, time.Now().Unix(), userID, userID, userID)
}

func (s *testServer) status(t *testing.T, bearer string) billing.StatusResult {
	t.Helper()
	w := s.do(t, http.MethodGet, "/payments/status", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st billing.StatusResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestPayments_RequireAuthentication(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/payments/create-checkout", "/payments/create-payment-intent", "/payments/verify", "/payments/cancel"} {
		w := s.do(t, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/payments/status", "", nil).Code)
}

func TestCreateCheckout(t *testing.T) {
	s := newTestServer(t)
	tr := s.signUp(t, "alice@example.com")

	w := s.do(t, http.MethodPost, "/payments/create-checkout", tr.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res billing.CheckoutResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "cs_"+tr.User.ID, res.SessionID)
	assert.NotEmpty(t, res.URL)

	// a checkout alone grants nothing
	assert.False(t, s.status(t, tr.AccessToken).IsActive)
}

func TestCreateCheckout_UpstreamUnavailable(t *testing.T) {
	s := newTestServer(t)
	tr := s.signUp(t, "alice@example.com")
	s.gateway.err = apperrors.ErrUpstreamUnavailable

	w := s.do(t, http.MethodPost, "/payments/create-checkout", tr.AccessToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreatePaymentIntent(t *testing.T) {
	s := newTestServer(t)
	tr := s.signUp(t, "alice@example.com")

	w := s.do(t, http.MethodPost, "/payments/create-payment-intent", tr.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res billing.PaymentIntentResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "pi_new_secret", res.ClientSecret)
	assert.Equal(t, "pk_test", res.PublishableKey)
	assert.Equal(t, int64(999), res.Amount)
}

func TestWebhook_ActivatesAndDeduplicates(t *testing.T) {
	s := newTestServer(t)
	tr := s.signUp(t, "alice@example.com")
	payload := checkoutEvent("evt_1", tr.User.ID)

	w := s.signedWebhook(t, payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, s.status(t, tr.AccessToken).IsActive)

	// the identity cache was invalidated, so /auth/me sees it at once
	w = s.do(t, http.MethodGet, "/auth/me", tr.AccessToken, nil)
	var me UserView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.True(t, me.IsPremium)

	w = s.signedWebhook(t, payload)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Received bool            `json:"received"`
		Result   webhooks.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Received)
	assert.True(t, body.Result.Duplicate)
}

func TestWebhook_IntegrityFailures(t *testing.T) {
	s := newTestServer(t)
	tr := s.signUp(t, "alice@example.com")
	payload := checkoutEvent("evt_forged", tr.User.ID)

	w := s.webhook(t, payload, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_signature", errorCode(t, w))

	w = s.webhook(t, payload, webhooks.SignatureHeader([]byte(payload), "whsec_attacker", time.Now()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, s.status(t, tr.AccessToken).IsActive)

	w = s.signedWebhook(t, `{"id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed_payload", errorCode(t, w))
}

func TestWebhook_Oversized(t *testing.T) {
	s := newTestServer(t)
	big := bytes.Repeat([]byte("a"), MaxWebhookBody+1)
	w := s.webhook(t, string(big), "t=1,v1=00")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestWebhook_UnknownTypeAcknowledged(t *testing.T) {
	s := newTestServer(t)
	w := s.signedWebhook(t, `{"id":"evt_x","type":"customer.created","data":{"object":{}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ignored":true`)
}

func TestVerifyPayment(t *testing.T) {
	s := newTestServer(t)
	tr := s.signUp(t, "alice@example.com")
	other := s.signUp(t, "bob@example.com")
	s.gateway.intents["pi_ok"] = &payments.PaymentIntent{
		ID: "pi_ok", Status: "succeeded", Customer: "cus_" + tr.User.ID,
		Created: time.Now().Unix(), Metadata: map[string]string{"user_id": tr.User.ID},
	}
	s.gateway.intents["pi_pending"] = &payments.PaymentIntent{
		ID: "pi_pending", Status: "requires_payment_method", Metadata: map[string]string{"user_id": tr.User.ID},
	}

	w := s.do(t, http.MethodPost, "/payments/verify", other.AccessToken, gin.H{"paymentIntentId": "pi_ok"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/payments/verify", tr.AccessToken, gin.H{"paymentIntentId": "pi_pending"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/payments/verify", tr.AccessToken, gin.H{"paymentIntentId": "pi_missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/payments/verify", tr.AccessToken, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/payments/verify", tr.AccessToken, gin.H{"paymentIntentId": "pi_ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st billing.StatusResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.IsActive)
	assert.False(t, s.status(t, other.AccessToken).IsActive)
}

func TestCancel(t *testing.T) {
	s := newTestServer(t)
	tr := s.signUp(t, "alice@example.com")

	w := s.do(t, http.MethodPost, "/payments/cancel", tr.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, s.signedWebhook(t, checkoutEvent("evt_c", tr.User.ID)).Code)
	w = s.do(t, http.MethodPost, "/payments/cancel", tr.AccessToken, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []string{"sub_" + tr.User.ID}, s.gateway.cancelled)

	// nothing changes locally until the provider confirms
	st := s.status(t, tr.AccessToken)
	assert.True(t, st.IsActive)
	assert.False(t, st.CancelAtPeriodEnd)
}
