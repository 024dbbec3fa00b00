package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobpilot/internal/api/middleware"
	"jobpilot/internal/payment"
	"jobpilot/internal/subscription"
)

// SubscriptionHandler 暴露订阅查询与升降级接口。
// 升级必须携带链上交易哈希，由服务端向 RPC 节点核实后才生效。
type SubscriptionHandler struct {
	Subs     *subscription.Service
	Verifier payment.Verifier
}

// NewSubscriptionHandler 构造 SubscriptionHandler。
func NewSubscriptionHandler(subs *subscription.Service, verifier payment.Verifier) *SubscriptionHandler {
	return &SubscriptionHandler{Subs: subs, Verifier: verifier}
}

type upgradeRequest struct {
	TransactionHash string `json:"transactionHash"`
}

// GetSubscription 返回当前订阅快照与本月剩余额度。
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	snapshot, err := h.Subs.Current(c.Request.Context(), userID)
	if err != nil {
		middleware.LoggerFromContext(c).Error("load subscription failed", slog.Any("error", err))
		Internal(c, "failed to fetch subscription")
		return
	}

	remaining := subscription.PlanLimit(snapshot.Plan) - snapshot.MonthlyApplicationsUsed
	if remaining < 0 {
		remaining = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription":          snapshot,
		"limit":                 subscription.PlanLimit(snapshot.Plan),
		"remainingApplications": remaining,
	})
}

// Upgrade 核实付款交易后将用户升级为 Pro，有效期一个月。
func (h *SubscriptionHandler) Upgrade(c *gin.Context) {
	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TransactionHash == "" {
		BadRequest(c, "transactionHash is required")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	logger := middleware.LoggerFromContext(c)

	if err := h.Verifier.VerifyTransaction(c.Request.Context(), req.TransactionHash); err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidTransactionHash),
			errors.Is(err, payment.ErrTransactionNotFound),
			errors.Is(err, payment.ErrTransactionFailed),
			errors.Is(err, payment.ErrWrongRecipient):
			BadRequest(c, err.Error())
		default:
			logger.Error("verify transaction failed", slog.Any("error", err))
			Error(c, http.StatusBadGateway, "failed to verify transaction")
		}
		return
	}

	expiry := time.Now().AddDate(0, 1, 0)
	if err := h.Subs.Upgrade(c.Request.Context(), userID, &expiry); err != nil {
		if errors.Is(err, subscription.ErrProfileNotFound) {
			BadRequest(c, "please complete your profile before upgrading")
			return
		}
		logger.Error("upgrade subscription failed", slog.Any("error", err))
		Internal(c, "failed to upgrade subscription")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"plan":           subscription.PlanPro,
		"planExpiryDate": expiry,
	})
}

// Downgrade 立即降回 Basic 档。
func (h *SubscriptionHandler) Downgrade(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	if err := h.Subs.Downgrade(c.Request.Context(), userID); err != nil {
		if errors.Is(err, subscription.ErrProfileNotFound) {
			NotFound(c, "profile not found")
			return
		}
		middleware.LoggerFromContext(c).Error("downgrade subscription failed", slog.Any("error", err))
		Internal(c, "failed to downgrade subscription")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "plan": subscription.PlanBasic})
}
