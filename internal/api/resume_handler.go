package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"jobpilot/internal/database"
)

// resumeStorage 是 ResumeHandler 依赖的对象存储操作子集。
type resumeStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// downloadLinkTTL 限时直链的有效期。
const downloadLinkTTL = 15 * time.Minute

// ResumeHandler 负责简历文件的上传、查询、下载与删除。
// 每个用户只保留一份简历，新上传会替换旧文件。
type ResumeHandler struct {
	DB           *gorm.DB
	Storage      resumeStorage
	Logger       *slog.Logger
	ClamdAddr    string
	MaxBytes     int64
	AllowedTypes []string
}

// NewResumeHandler 返回 ResumeHandler 实例。
func NewResumeHandler(db *gorm.DB, storageClient resumeStorage, logger *slog.Logger, clamdAddr string, maxBytes int64, allowedTypes []string) *ResumeHandler {
	return &ResumeHandler{
		DB:           db,
		Storage:      storageClient,
		Logger:       logger,
		ClamdAddr:    clamdAddr,
		MaxBytes:     maxBytes,
		AllowedTypes: allowedTypes,
	}
}

func (h *ResumeHandler) typeAllowed(contentType string) bool {
	for _, t := range h.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// UploadResume 校验类型与大小、扫描病毒后写入对象存储，并替换旧简历。
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	contentType := file.Header.Get("Content-Type")
	if !h.typeAllowed(contentType) {
		BadRequest(c, "invalid file type, only PDF and Word documents are allowed")
		return
	}
	if file.Size > h.MaxBytes {
		BadRequest(c, fmt.Sprintf("file too large, maximum size is %d bytes", h.MaxBytes))
		return
	}

	// 未配置 clamd 时跳过扫描（本地开发与测试环境）。
	if h.ClamdAddr != "" {
		clamdClient := clamd.NewClamd(h.ClamdAddr)

		fileReader, err := file.Open()
		if err != nil {
			Internal(c, "failed to open file")
			return
		}

		abortChan := make(chan bool)
		scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
		fileReader.Close()
		if err != nil {
			h.Logger.Error("scan resume", slog.String("error", err.Error()))
			Internal(c, "failed to scan file")
			return
		}
		defer close(abortChan)

		for result := range scanChan {
			if result.Status != clamd.RES_OK {
				BadRequest(c, "malicious file detected")
				return
			}
		}
	}

	ctx := c.Request.Context()
	prefix := fmt.Sprintf("resumes/%d/", userID)

	// 先清掉旧简历，存储与元数据都只保留最新一份。
	if err := h.Storage.DeletePrefix(ctx, prefix); err != nil {
		h.Logger.Error("delete old resume objects", slog.String("error", err.Error()))
		Internal(c, "failed to replace resume")
		return
	}
	// 物理删除：user_id 上有唯一索引，软删除的旧行会挡住新纪录。
	if err := h.DB.WithContext(ctx).Unscoped().Where("user_id = ?", userID).Delete(&database.Resume{}).Error; err != nil {
		h.Logger.Error("delete old resume record", slog.String("error", err.Error()))
		Internal(c, "failed to replace resume")
		return
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer fileReader.Close()

	objectKey := fmt.Sprintf("%s%s", prefix, uuid.NewString())
	if _, err := h.Storage.UploadFile(ctx, objectKey, fileReader, file.Size, contentType); err != nil {
		h.Logger.Error("upload resume", slog.String("error", err.Error()))
		Internal(c, "failed to upload file")
		return
	}

	resume := database.Resume{
		UserID:      userID,
		Filename:    file.Filename,
		ContentType: contentType,
		Size:        file.Size,
		ObjectKey:   objectKey,
	}
	if err := h.DB.WithContext(ctx).Create(&resume).Error; err != nil {
		h.Logger.Error("save resume record", slog.String("error", err.Error()))
		Internal(c, "failed to save resume")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"resumeId": resume.ID,
		"filename": resume.Filename,
	})
}

// CheckResume 汇报当前用户是否已有简历。
func (h *ResumeHandler) CheckResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var resume database.Resume
	err := h.DB.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"exists": false})
			return
		}
		h.Logger.Error("check resume", slog.String("error", err.Error()))
		Internal(c, "failed to check resume")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":     true,
		"id":         resume.ID,
		"filename":   resume.Filename,
		"uploadDate": resume.CreatedAt,
	})
}

// loadOwnedResume 按路径参数定位简历并做属主校验，失败时已写好响应。
func (h *ResumeHandler) loadOwnedResume(c *gin.Context) (*database.Resume, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}

	resumeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid resume id")
		return nil, false
	}

	var resume database.Resume
	err = h.DB.WithContext(c.Request.Context()).
		First(&resume, uint(resumeID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
			return nil, false
		}
		h.Logger.Error("load resume", slog.String("error", err.Error()))
		Internal(c, "failed to fetch resume")
		return nil, false
	}
	if resume.UserID != userID {
		Forbidden(c, "access denied")
		return nil, false
	}
	return &resume, true
}

// DownloadResume 按 ID 回传简历文件，只允许属主访问。
func (h *ResumeHandler) DownloadResume(c *gin.Context) {
	resume, ok := h.loadOwnedResume(c)
	if !ok {
		return
	}

	object, err := h.Storage.GetObject(c.Request.Context(), resume.ObjectKey)
	if err != nil {
		h.Logger.Error("fetch resume object", slog.String("objectKey", resume.ObjectKey), slog.String("error", err.Error()))
		Internal(c, "failed to fetch resume")
		return
	}
	defer object.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", resume.Filename))
	c.Header("Content-Type", resume.ContentType)
	c.Header("Content-Length", strconv.FormatInt(resume.Size, 10))
	if _, err := io.Copy(c.Writer, object); err != nil {
		h.Logger.Error("stream resume", slog.String("error", err.Error()))
	}
}

// DownloadLink 生成简历的限时下载直链，供前端直连对象存储。
func (h *ResumeHandler) DownloadLink(c *gin.Context) {
	resume, ok := h.loadOwnedResume(c)
	if !ok {
		return
	}

	link, err := h.Storage.GeneratePresignedURL(c.Request.Context(), resume.ObjectKey, downloadLinkTTL)
	if err != nil {
		h.Logger.Error("presign resume object", slog.String("objectKey", resume.ObjectKey), slog.String("error", err.Error()))
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":              link,
		"expiresInSeconds": int(downloadLinkTTL.Seconds()),
	})
}

// DeleteResume 删除简历文件与元数据，没有简历时为 404。
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()

	var resume database.Resume
	err := h.DB.WithContext(ctx).Where("user_id = ?", userID).First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "no resume to delete")
			return
		}
		h.Logger.Error("load resume", slog.String("error", err.Error()))
		Internal(c, "failed to delete resume")
		return
	}

	if err := h.Storage.DeleteObject(ctx, resume.ObjectKey); err != nil {
		h.Logger.Error("delete resume object", slog.String("objectKey", resume.ObjectKey), slog.String("error", err.Error()))
		Internal(c, "failed to delete resume")
		return
	}
	if err := h.DB.WithContext(ctx).Unscoped().Delete(&resume).Error; err != nil {
		h.Logger.Error("delete resume record", slog.String("error", err.Error()))
		Internal(c, "failed to delete resume")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
