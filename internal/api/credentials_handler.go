package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobpilot/internal/api/middleware"
	"jobpilot/internal/database"
)

// CredentialsHandler 维护用户在招聘平台上的登录凭据。
type CredentialsHandler struct {
	db *gorm.DB
}

// NewCredentialsHandler 构造 CredentialsHandler。
func NewCredentialsHandler(db *gorm.DB) *CredentialsHandler {
	return &CredentialsHandler{db: db}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GetCredentials 只汇报凭据是否存在，绝不回传密码。
func (h *CredentialsHandler) GetCredentials(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var cred database.Credential
	err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"hasCredentials": false})
			return
		}
		middleware.LoggerFromContext(c).Error("load credentials failed", slog.Any("error", err))
		Internal(c, "failed to fetch credentials")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hasCredentials": true,
		"email":          cred.PlatformEmail,
		"verified":       cred.Verified,
	})
}

// SaveCredentials 保存或覆盖凭据，每个用户只保留一份。
func (h *CredentialsHandler) SaveCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		BadRequest(c, "email and password are required")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	var cred database.Credential
	err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred).Error
	switch {
	case err == nil:
		// 覆盖后视为未验证，等自动化流程重新确认。
		updates := map[string]any{
			"platform_email":    req.Email,
			"platform_password": req.Password,
			"verified":          false,
		}
		if err := h.db.WithContext(ctx).Model(&cred).Updates(updates).Error; err != nil {
			logger.Error("update credentials failed", slog.Any("error", err))
			Internal(c, "failed to save credentials")
			return
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		cred = database.Credential{
			UserID:           userID,
			PlatformEmail:    req.Email,
			PlatformPassword: req.Password,
		}
		if err := h.db.WithContext(ctx).Create(&cred).Error; err != nil {
			logger.Error("create credentials failed", slog.Any("error", err))
			Internal(c, "failed to save credentials")
			return
		}
	default:
		logger.Error("lookup credentials failed", slog.Any("error", err))
		Internal(c, "failed to save credentials")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
