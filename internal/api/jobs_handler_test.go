package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobpilot/internal/database"
	"jobpilot/internal/jobs"
	"jobpilot/internal/subscription"
)

func newJobsTestHandler(t *testing.T) (*JobsHandler, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	subs := subscription.NewService(db)
	jobsService := jobs.NewService(db, subs, nil, nil)
	return NewJobsHandler(db, jobsService), db
}

func seedJobPrereqs(t *testing.T, db *gorm.DB, userID uint, used int) {
	t.Helper()
	if err := db.Create(&database.Credential{UserID: userID, PlatformEmail: "a@b.c", PlatformPassword: "pw"}).Error; err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	if err := db.Create(&database.Resume{UserID: userID, Filename: "cv.pdf", ObjectKey: fmt.Sprintf("resumes/%d/k", userID)}).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
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

func postCreateJob(t *testing.T, h *JobsHandler, userID uint, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodPost, "/v1/jobs", bytes.NewBufferString(body), userID)
	c.Request.Header.Set("Content-Type", "application/json")
	h.CreateJob(c)
	return w
}

const validJobBody = `{"searchKeywords":"golang backend","searchLocation":"Berlin","maxApplications":3}`

func TestCreateJobPrerequisiteOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, db := newJobsTestHandler(t)

	// 无任何前置：先提示凭据。
	w := postCreateJob(t, h, 1, validJobBody)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "credentials") {
		t.Fatalf("expected credentials hint, got %d %s", w.Code, w.Body.String())
	}

	if err := db.Create(&database.Credential{UserID: 1, PlatformEmail: "a@b.c", PlatformPassword: "pw"}).Error; err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	w = postCreateJob(t, h, 1, validJobBody)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "resume") {
		t.Fatalf("expected resume hint, got %d %s", w.Code, w.Body.String())
	}

	if err := db.Create(&database.Resume{UserID: 1, Filename: "cv.pdf", ObjectKey: "resumes/1/k"}).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	w = postCreateJob(t, h, 1, validJobBody)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "profile") {
		t.Fatalf("expected profile hint, got %d %s", w.Code, w.Body.String())
	}

	profile := database.UserProfile{
		UserID: 1,
		Email:  "a@b.c",
		Subscription: database.Subscription{
			Plan:          subscription.PlanBasic,
			PlanStartDate: time.Now(),
		},
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	w = postCreateJob(t, h, 1, validJobBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"jobId"`) {
		t.Fatalf("expected jobId in response, got %s", w.Body.String())
	}
}

func TestCreateJobQuotaExhaustedResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, db := newJobsTestHandler(t)
	seedJobPrereqs(t, db, 1, subscription.PlanLimits[subscription.PlanBasic])

	w := postCreateJob(t, h, 1, validJobBody)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"code":4001`) {
		t.Fatalf("expected quota error code, got %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "limit reached") {
		t.Fatalf("expected quota message, got %s", w.Body.String())
	}
}

func TestCreateJobValidationResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, db := newJobsTestHandler(t)
	seedJobPrereqs(t, db, 1, 0)

	w := postCreateJob(t, h, 1, `{"searchKeywords":"  ","searchLocation":"Berlin"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
}

func TestGetJobOwnership(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, db := newJobsTestHandler(t)

	job := database.Job{UserID: 1, Status: jobs.StatusPending, SearchKeywords: "go", SearchLocation: "remote", MaxApplications: 3}
	if err := db.Create(&job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodGet, "/v1/jobs/1", nil, 1)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(job.ID)}}
	h.GetJob(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	c = newAuthedContext(t, w, http.MethodGet, "/v1/jobs/1", nil, 2)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(job.ID)}}
	h.GetJob(c)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	c = newAuthedContext(t, w, http.MethodGet, "/v1/jobs/999", nil, 1)
	c.Params = gin.Params{{Key: "id", Value: "999"}}
	h.GetJob(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCancelJobEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, db := newJobsTestHandler(t)

	job := database.Job{UserID: 1, Status: jobs.StatusPending, SearchKeywords: "go", SearchLocation: "remote", MaxApplications: 3}
	if err := db.Create(&job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodDelete, "/v1/jobs/1", nil, 1)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(job.ID)}}
	h.CancelJob(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"cancelled":true`) {
		t.Fatalf("expected cancelled=true, got %s", w.Body.String())
	}

	// 已取消的任务再取消：成功响应但不发生迁移。
	w = httptest.NewRecorder()
	c = newAuthedContext(t, w, http.MethodDelete, "/v1/jobs/1", nil, 1)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(job.ID)}}
	h.CancelJob(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"cancelled":false`) {
		t.Fatalf("expected cancelled=false, got %s", w.Body.String())
	}
}

func TestListJobsScopedToUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, db := newJobsTestHandler(t)

	for _, userID := range []uint{1, 1, 2} {
		job := database.Job{UserID: userID, Status: jobs.StatusPending, SearchKeywords: "go", SearchLocation: "remote", MaxApplications: 3}
		if err := db.Create(&job).Error; err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	w := httptest.NewRecorder()
	c := newAuthedContext(t, w, http.MethodGet, "/v1/jobs", nil, 1)
	h.ListJobs(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if got := strings.Count(w.Body.String(), `"status"`); got != 2 {
		t.Fatalf("expected 2 jobs for user 1, got %d in %s", got, w.Body.String())
	}
}
