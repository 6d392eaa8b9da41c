package controllers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/billing"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

const maxWebhookBytes = 1 << 20

type BillingController struct {
	DB      *gorm.DB
	Billing *billing.Service
	// BaseURL is where checkout return/cancel redirects land by default.
	BaseURL string
	Log     *zap.Logger
}

type subscribeRequest struct {
	Provider  string `json:"provider" binding:"required,oneof=paypal stripe"`
	ReturnURL string `json:"return_url" binding:"omitempty,url"`
	CancelURL string `json:"cancel_url" binding:"omitempty,url"`
}

func respondBillingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrAlreadyActive), errors.Is(err, billing.ErrNoSubscription):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "club not found"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// Subscribe starts a checkout for the caller's club.
func (bc *BillingController) Subscribe(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	base := strings.TrimRight(bc.BaseURL, "/")
	if req.ReturnURL == "" {
		req.ReturnURL = base + "/admin/billing?status=success"
	}
	if req.CancelURL == "" {
		req.CancelURL = base + "/admin/billing?status=cancelled"
	}
	checkout, err := bc.Billing.Subscribe(c.Request.Context(), clubIDOf(user), req.Provider, req.ReturnURL, req.CancelURL)
	if err != nil {
		respondBillingError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

func (bc *BillingController) Status(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var club models.Club
	if err := bc.DB.Where("id = ?", clubIDOf(user)).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"club_id":             club.ID,
		"subscription_status": club.SubscriptionStatus,
		"billing_provider":    club.BillingProvider,
		"subscription_id":     club.SubscriptionID,
		"plan":                club.Plan,
		"providers":           bc.Billing.Configured(),
	})
}

func (bc *BillingController) Cancel(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	club, err := bc.Billing.Cancel(c.Request.Context(), clubIDOf(user))
	if err != nil {
		respondBillingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription_status": club.SubscriptionStatus})
}

// Webhook returns the handler for one provider's webhook endpoint.
func (bc *BillingController) Webhook(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}
		applied, err := bc.Billing.HandleWebhook(c.Request.Context(), provider, c.Request, body)
		if err != nil {
			if bc.Log != nil {
				bc.Log.Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
			}
			respondBillingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": applied})
	}
}
