package api

import (
	"errors"
	"net/http"
	"time"

	"membership-api/internal/models"
	"membership-api/internal/response"
	"membership-api/internal/services"

	"github.com/gin-gonic/gin"
)

// GetTenants gets all active tenants
func (h *Handlers) GetTenants(c *gin.Context) {
	tenants, err := h.Tenants.GetAllTenants(c.Request.Context())
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to get tenants")
		return
	}
	response.SuccessJSON(c, tenants)
}

// CreateTenantRequest represents create tenant request
type CreateTenantRequest struct {
	BotName            string `json:"bot_name" binding:"required"`
	DisplayName        string `json:"display_name"`
	BotToken           string `json:"bot_token" binding:"required"`
	ChannelID          int64  `json:"channel_id" binding:"required"`
	PromoterChatID     int64  `json:"promoter_chat_id"`
	PriceWeekly        string `json:"price_weekly"`
	PriceMonthly       string `json:"price_monthly"`
	PriceLifetime      string `json:"price_lifetime"`
	PayPalMonthlyURL   string `json:"paypal_monthly_url"`
	PayPalLifetimeURL  string `json:"paypal_lifetime_url"`
	CryptoAddress      string `json:"crypto_address"`
	WelcomeAssetURL    string `json:"welcome_asset_url"`
	PortalReturnURL    string `json:"portal_return_url"`
	WebhookCallbackURL string `json:"webhook_callback_url"`
	WebhookSecret      string `json:"webhook_secret"`
}

// CreateTenant creates a new tenant. Its bot is connected on next restart.
func (h *Handlers) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	tenant := &models.Tenant{
		BotName:            req.BotName,
		DisplayName:        req.DisplayName,
		BotToken:           req.BotToken,
		ChannelID:          req.ChannelID,
		PromoterChatID:     req.PromoterChatID,
		PriceWeekly:        req.PriceWeekly,
		PriceMonthly:       req.PriceMonthly,
		PriceLifetime:      req.PriceLifetime,
		PayPalMonthlyURL:   req.PayPalMonthlyURL,
		PayPalLifetimeURL:  req.PayPalLifetimeURL,
		CryptoAddress:      req.CryptoAddress,
		WelcomeAssetURL:    req.WelcomeAssetURL,
		PortalReturnURL:    req.PortalReturnURL,
		WebhookCallbackURL: req.WebhookCallbackURL,
		WebhookSecret:      req.WebhookSecret,
	}

	if err := h.Tenants.CreateTenant(c.Request.Context(), tenant); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to create tenant: "+err.Error())
		return
	}

	response.CreatedJSON(c, "Tenant created successfully", tenant)
}

// UpdateTenantRequest represents update tenant request
type UpdateTenantRequest struct {
	DisplayName        *string `json:"display_name"`
	BotToken           *string `json:"bot_token"`
	ChannelID          *int64  `json:"channel_id"`
	PromoterChatID     *int64  `json:"promoter_chat_id"`
	PriceWeekly        *string `json:"price_weekly"`
	PriceMonthly       *string `json:"price_monthly"`
	PriceLifetime      *string `json:"price_lifetime"`
	PayPalMonthlyURL   *string `json:"paypal_monthly_url"`
	PayPalLifetimeURL  *string `json:"paypal_lifetime_url"`
	CryptoAddress      *string `json:"crypto_address"`
	WelcomeAssetURL    *string `json:"welcome_asset_url"`
	PortalReturnURL    *string `json:"portal_return_url"`
	WebhookCallbackURL *string `json:"webhook_callback_url"`
	WebhookSecret      *string `json:"webhook_secret"`
	IsActive           *bool   `json:"is_active"`
}

// updates builds the column map from the fields that were sent. Pointers
// let callers clear a field with "".
func (req *UpdateTenantRequest) updates() map[string]interface{} {
	updates := make(map[string]interface{})
	setString := func(column string, v *string) {
		if v != nil {
			updates[column] = *v
		}
	}
	setString("display_name", req.DisplayName)
	setString("bot_token", req.BotToken)
	setString("price_weekly", req.PriceWeekly)
	setString("price_monthly", req.PriceMonthly)
	setString("price_lifetime", req.PriceLifetime)
	setString("paypal_monthly_url", req.PayPalMonthlyURL)
	setString("paypal_lifetime_url", req.PayPalLifetimeURL)
	setString("crypto_address", req.CryptoAddress)
	setString("welcome_asset_url", req.WelcomeAssetURL)
	setString("portal_return_url", req.PortalReturnURL)
	setString("webhook_callback_url", req.WebhookCallbackURL)
	setString("webhook_secret", req.WebhookSecret)
	if req.ChannelID != nil {
		updates["channel_id"] = *req.ChannelID
	}
	if req.PromoterChatID != nil {
		updates["promoter_chat_id"] = *req.PromoterChatID
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	return updates
}

// UpdateTenant updates an existing tenant
func (h *Handlers) UpdateTenant(c *gin.Context) {
	var req UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	updates := req.updates()
	if len(updates) == 0 {
		response.ErrorJSON(c, http.StatusBadRequest, "No fields to update")
		return
	}

	if err := h.Tenants.UpdateTenant(c.Request.Context(), c.Param("bot"), updates); err != nil {
		if errors.Is(err, services.ErrTenantNotFound) {
			response.ErrorJSON(c, http.StatusNotFound, err.Error())
			return
		}
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to update tenant: "+err.Error())
		return
	}

	response.SuccessJSON(c, gin.H{"bot_name": c.Param("bot"), "updated": len(updates)})
}

// DeleteTenant deletes a tenant
func (h *Handlers) DeleteTenant(c *gin.Context) {
	if err := h.Tenants.DeleteTenant(c.Request.Context(), c.Param("bot")); err != nil {
		if errors.Is(err, services.ErrTenantNotFound) {
			response.ErrorJSON(c, http.StatusNotFound, err.Error())
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to delete tenant: "+err.Error())
		return
	}

	response.SuccessJSON(c, gin.H{"bot_name": c.Param("bot"), "deleted": true})
}

// GetTenantStats gets membership and revenue statistics for a tenant
func (h *Handlers) GetTenantStats(c *gin.Context) {
	stats, err := h.Tenants.GetTenantStats(c.Request.Context(), c.Param("bot"), time.Now())
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to get tenant stats: "+err.Error())
		return
	}
	response.SuccessJSON(c, stats)
}
