package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"jobpilot/internal/api/middleware"
	"jobpilot/internal/database"
	"jobpilot/internal/subscription"
)

// ProfileHandler 负责求职档案的读写。
type ProfileHandler struct {
	db *gorm.DB
}

// NewProfileHandler 构造 ProfileHandler。
func NewProfileHandler(db *gorm.DB) *ProfileHandler {
	return &ProfileHandler{db: db}
}

type profileRequest struct {
	FirstName  string `json:"firstName" binding:"required"`
	MiddleName string `json:"middleName"`
	LastName   string `json:"lastName" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	ZipCode    string `json:"zipCode"`
	Country    string `json:"country"`

	LinkedinURL  string `json:"linkedinUrl"`
	PortfolioURL string `json:"portfolioUrl"`
	GithubURL    string `json:"githubUrl"`

	ExperienceYears string `json:"experienceYears"`
	CurrentCompany  string `json:"currentCompany"`
	CurrentPosition string `json:"currentPosition"`
	EducationLevel  string `json:"educationLevel"`
	AboutMe         string `json:"aboutMe"`

	SearchKeywords string `json:"searchKeywords"`
	SearchLocation string `json:"searchLocation"`

	Extra datatypes.JSON `json:"extra,omitempty"`
}

type profileResponse struct {
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName,omitempty"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	ZipCode    string `json:"zipCode,omitempty"`
	Country    string `json:"country,omitempty"`

	LinkedinURL  string `json:"linkedinUrl,omitempty"`
	PortfolioURL string `json:"portfolioUrl,omitempty"`
	GithubURL    string `json:"githubUrl,omitempty"`

	ExperienceYears string `json:"experienceYears,omitempty"`
	CurrentCompany  string `json:"currentCompany,omitempty"`
	CurrentPosition string `json:"currentPosition,omitempty"`
	EducationLevel  string `json:"educationLevel,omitempty"`
	AboutMe         string `json:"aboutMe,omitempty"`

	SearchKeywords string `json:"searchKeywords,omitempty"`
	SearchLocation string `json:"searchLocation,omitempty"`

	Extra datatypes.JSON `json:"extra,omitempty"`

	Subscription subscription.Snapshot `json:"subscription"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// GetProfile 返回当前用户的档案，不存在时为 404。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var profile database.UserProfile
	err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "profile not found")
			return
		}
		middleware.LoggerFromContext(c).Error("load profile failed", slog.Any("error", err))
		Internal(c, "failed to fetch profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": newProfileResponse(profile)})
}

// UpdateProfile 写入档案；首次保存时顺带落下默认 Basic 订阅。
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	var existing database.UserProfile
	err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error
	switch {
	case err == nil:
		// 档案更新不触碰订阅字段。
		if err := h.db.WithContext(ctx).Model(&existing).Updates(profileUpdates(req)).Error; err != nil {
			logger.Error("update profile failed", slog.Any("error", err))
			Internal(c, "failed to update profile")
			return
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile := newProfileModel(userID, req)
		profile.Subscription = database.Subscription{
			Plan:          subscription.PlanBasic,
			PlanStartDate: time.Now(),
		}
		if err := h.db.WithContext(ctx).Create(&profile).Error; err != nil {
			logger.Error("create profile failed", slog.Any("error", err))
			Internal(c, "failed to update profile")
			return
		}
	default:
		logger.Error("lookup profile failed", slog.Any("error", err))
		Internal(c, "failed to update profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func newProfileModel(userID uint, req profileRequest) database.UserProfile {
	return database.UserProfile{
		UserID:          userID,
		FirstName:       req.FirstName,
		MiddleName:      req.MiddleName,
		LastName:        req.LastName,
		Email:           req.Email,
		Phone:           req.Phone,
		Address:         req.Address,
		City:            req.City,
		State:           req.State,
		ZipCode:         req.ZipCode,
		Country:         req.Country,
		LinkedinURL:     req.LinkedinURL,
		PortfolioURL:    req.PortfolioURL,
		GithubURL:       req.GithubURL,
		ExperienceYears: req.ExperienceYears,
		CurrentCompany:  req.CurrentCompany,
		CurrentPosition: req.CurrentPosition,
		EducationLevel:  req.EducationLevel,
		AboutMe:         req.AboutMe,
		SearchKeywords:  req.SearchKeywords,
		SearchLocation:  req.SearchLocation,
		Extra:           req.Extra,
	}
}

func profileUpdates(req profileRequest) map[string]any {
	updates := map[string]any{
		"first_name":       req.FirstName,
		"middle_name":      req.MiddleName,
		"last_name":        req.LastName,
		"email":            req.Email,
		"phone":            req.Phone,
		"address":          req.Address,
		"city":             req.City,
		"state":            req.State,
		"zip_code":         req.ZipCode,
		"country":          req.Country,
		"linkedin_url":     req.LinkedinURL,
		"portfolio_url":    req.PortfolioURL,
		"github_url":       req.GithubURL,
		"experience_years": req.ExperienceYears,
		"current_company":  req.CurrentCompany,
		"current_position": req.CurrentPosition,
		"education_level":  req.EducationLevel,
		"about_me":         req.AboutMe,
		"search_keywords":  req.SearchKeywords,
		"search_location":  req.SearchLocation,
	}
	if req.Extra != nil {
		updates["extra"] = req.Extra
	}
	return updates
}

func newProfileResponse(profile database.UserProfile) profileResponse {
	return profileResponse{
		FirstName:       profile.FirstName,
		MiddleName:      profile.MiddleName,
		LastName:        profile.LastName,
		Email:           profile.Email,
		Phone:           profile.Phone,
		Address:         profile.Address,
		City:            profile.City,
		State:           profile.State,
		ZipCode:         profile.ZipCode,
		Country:         profile.Country,
		LinkedinURL:     profile.LinkedinURL,
		PortfolioURL:    profile.PortfolioURL,
		GithubURL:       profile.GithubURL,
		ExperienceYears: profile.ExperienceYears,
		CurrentCompany:  profile.CurrentCompany,
		CurrentPosition: profile.CurrentPosition,
		EducationLevel:  profile.EducationLevel,
		AboutMe:         profile.AboutMe,
		SearchKeywords:  profile.SearchKeywords,
		SearchLocation:  profile.SearchLocation,
		Extra:           profile.Extra,
		Subscription: subscription.Snapshot{
			Plan:                    profile.Subscription.Plan,
			PlanStartDate:           profile.Subscription.PlanStartDate,
			PlanExpiryDate:          profile.Subscription.PlanExpiryDate,
			MonthlyApplicationsUsed: profile.Subscription.MonthlyApplicationsUsed,
		},
		UpdatedAt: profile.UpdatedAt,
	}
}
