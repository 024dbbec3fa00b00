package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"jobpilot/internal/database"
	"jobpilot/internal/subscription"
)

const profileBody = `{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com","city":"London"}`

func TestGetProfileNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewProfileHandler(newTestDB(t))

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodGet, "/v1/profile", nil, 1)
	h.GetProfile(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}
}

func TestUpdateProfileCreatesWithDefaultSubscription(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := NewProfileHandler(db)

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodPost, "/v1/profile", bytes.NewBufferString(profileBody), 1)
	c.Request.Header.Set("Content-Type", "application/json")
	h.UpdateProfile(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	var profile database.UserProfile
	if err := db.Where("user_id = ?", 1).First(&profile).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.FirstName != "Ada" || profile.Email != "ada@example.com" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	// 首次保存带出默认 Basic 订阅。
	if profile.Subscription.Plan != subscription.PlanBasic {
		t.Fatalf("expected basic plan, got %q", profile.Subscription.Plan)
	}
	if profile.Subscription.MonthlyApplicationsUsed != 0 {
		t.Fatalf("expected zero usage, got %d", profile.Subscription.MonthlyApplicationsUsed)
	}
	if profile.Subscription.PlanStartDate.IsZero() {
		t.Fatal("expected plan start date set")
	}
}

func TestUpdateProfileDoesNotTouchSubscription(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := NewProfileHandler(db)

	expiry := time.Now().AddDate(0, 1, 0)
	existing := database.UserProfile{
		UserID:    1,
		FirstName: "Old",
		LastName:  "Name",
		Email:     "old@example.com",
		Subscription: database.Subscription{
			Plan:                    subscription.PlanPro,
			PlanStartDate:           time.Now().Add(-time.Hour),
			PlanExpiryDate:          &expiry,
			MonthlyApplicationsUsed: 33,
		},
	}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodPost, "/v1/profile", bytes.NewBufferString(profileBody), 1)
	c.Request.Header.Set("Content-Type", "application/json")
	h.UpdateProfile(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	var profile database.UserProfile
	if err := db.Where("user_id = ?", 1).First(&profile).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.FirstName != "Ada" {
		t.Fatalf("expected fields updated, got %q", profile.FirstName)
	}
	if profile.Subscription.Plan != subscription.PlanPro {
		t.Fatalf("expected subscription untouched, got %q", profile.Subscription.Plan)
	}
	if profile.Subscription.MonthlyApplicationsUsed != 33 {
		t.Fatalf("expected usage untouched, got %d", profile.Subscription.MonthlyApplicationsUsed)
	}
}

func TestUpdateProfileValidatesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewProfileHandler(newTestDB(t))

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodPost, "/v1/profile", bytes.NewBufferString(`{"firstName":"Ada"}`), 1)
	c.Request.Header.Set("Content-Type", "application/json")
	h.UpdateProfile(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
}

func TestGetProfileIncludesSubscription(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := NewProfileHandler(db)

	profile := database.UserProfile{
		UserID:    1,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Subscription: database.Subscription{
			Plan:                    subscription.PlanBasic,
			PlanStartDate:           time.Now(),
			MonthlyApplicationsUsed: 2,
		},
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodGet, "/v1/profile", nil, 1)
	h.GetProfile(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"plan":"basic"`) || !strings.Contains(body, `"monthlyApplicationsUsed":2`) {
		t.Fatalf("expected subscription in response, got %s", body)
	}
}
