package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobpilot/internal/database"
	"jobpilot/internal/payment"
	"jobpilot/internal/subscription"
)

type fakeVerifier struct {
	err    error
	called []string
}

func (v *fakeVerifier) VerifyTransaction(_ context.Context, txHash string) error {
	v.called = append(v.called, txHash)
	return v.err
}

func newSubscriptionTestHandler(t *testing.T) (*SubscriptionHandler, *fakeVerifier, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	verifier := &fakeVerifier{}
	h := NewSubscriptionHandler(subscription.NewService(db), verifier)
	return h, verifier, db
}

func seedBasicProfile(t *testing.T, db *gorm.DB, userID uint, used int) {
	t.Helper()
	profile := database.UserProfile{
		UserID: userID,
		Email:  "a@b.c",
		Subscription: database.Subscription{
			Plan:                    subscription.PlanBasic,
			PlanStartDate:           time.Now(),
			MonthlyApplicationsUsed: used,
		},
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func TestGetSubscriptionReportsRemaining(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _, db := newSubscriptionTestHandler(t)
	seedBasicProfile(t, db, 1, 4)

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodGet, "/v1/subscription", nil, 1)
	h.GetSubscription(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"plan":"basic"`) {
		t.Fatalf("expected basic plan, got %s", body)
	}
	if !strings.Contains(body, `"remainingApplications":6`) {
		t.Fatalf("expected remaining 6, got %s", body)
	}
}

func TestUpgradeVerifiesTransaction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, verifier, db := newSubscriptionTestHandler(t)
	seedBasicProfile(t, db, 1, 7)

	body := `{"transactionHash":"0xabc"}`
	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodPost, "/v1/subscription", bytes.NewBufferString(body), 1)
	c.Request.Header.Set("Content-Type", "application/json")
	h.Upgrade(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if len(verifier.called) != 1 || verifier.called[0] != "0xabc" {
		t.Fatalf("expected verifier called with hash, got %v", verifier.called)
	}

	var profile database.UserProfile
	if err := db.Where("user_id = ?", 1).First(&profile).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.Subscription.Plan != subscription.PlanPro {
		t.Fatalf("expected pro, got %q", profile.Subscription.Plan)
	}
	if profile.Subscription.MonthlyApplicationsUsed != 0 {
		t.Fatalf("expected usage reset, got %d", profile.Subscription.MonthlyApplicationsUsed)
	}
	if profile.Subscription.PlanExpiryDate == nil {
		t.Fatal("expected expiry date set")
	}
}

func TestUpgradeRejectedWhenVerificationFails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, verifier, db := newSubscriptionTestHandler(t)
	seedBasicProfile(t, db, 1, 0)
	verifier.err = payment.ErrTransactionNotFound

	body := `{"transactionHash":"0xabc"}`
	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodPost, "/v1/subscription", bytes.NewBufferString(body), 1)
	c.Request.Header.Set("Content-Type", "application/json")
	h.Upgrade(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}

	var profile database.UserProfile
	if err := db.Where("user_id = ?", 1).First(&profile).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.Subscription.Plan != subscription.PlanBasic {
		t.Fatalf("expected plan unchanged, got %q", profile.Subscription.Plan)
	}
}

func TestUpgradeRequiresTransactionHash(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, verifier, _ := newSubscriptionTestHandler(t)

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodPost, "/v1/subscription", bytes.NewBufferString(`{}`), 1)
	c.Request.Header.Set("Content-Type", "application/json")
	h.Upgrade(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
	if len(verifier.called) != 0 {
		t.Fatal("verifier should not be called without a hash")
	}
}

func TestDowngradeEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _, db := newSubscriptionTestHandler(t)

	expiry := time.Now().AddDate(0, 1, 0)
	profile := database.UserProfile{
		UserID: 1,
		Email:  "a@b.c",
		Subscription: database.Subscription{
			Plan:           subscription.PlanPro,
			PlanStartDate:  time.Now(),
			PlanExpiryDate: &expiry,
		},
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodDelete, "/v1/subscription", nil, 1)
	h.Downgrade(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	var loaded database.UserProfile
	if err := db.Where("user_id = ?", 1).First(&loaded).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if loaded.Subscription.Plan != subscription.PlanBasic {
		t.Fatalf("expected basic, got %q", loaded.Subscription.Plan)
	}
	if loaded.Subscription.PlanExpiryDate != nil {
		t.Fatalf("expected expiry cleared, got %v", loaded.Subscription.PlanExpiryDate)
	}
}
