package api

import (
	"context"

	"membership-api/internal/middleware"
	"membership-api/internal/models"
	"membership-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v76"
)

// EventReconciler handles verified Stripe events.
type EventReconciler interface {
	Reconcile(ctx context.Context, event stripe.Event) services.Result
}

// MemberQueries is the read side of the member store used by admin routes.
type MemberQueries interface {
	GetMember(ctx context.Context, userID int64, botName string) (*models.Member, error)
	ListMembers(ctx context.Context, botName string, activeOnly bool) ([]models.Member, error)
}

// TransactionQueries lists payment rows.
type TransactionQueries interface {
	ListTransactions(ctx context.Context, botName string, limit int) ([]models.Transaction, error)
}

// Handlers carries the collaborators of every route.
type Handlers struct {
	WebhookSecret string
	AdminAPIKey   string

	Reconciler   EventReconciler
	Members      MemberQueries
	Transactions TransactionQueries
	Tenants      *services.TenantService
	Reports      *services.ReportService
	Gateways     services.Gateways

	// DedupStats reports the in-process dedup cache on /health, nil when a
	// shared backend is used.
	DedupStats func() map[string]interface{}
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	r.Use(middleware.RequestID(), middleware.RequestLogger())

	// Stripe calls this; authenticity comes from the signature, not a key
	r.POST("/webhook/stripe", h.StripeWebhook)

	api := r.Group("/api")
	{
		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware(h.AdminAPIKey))
		{
			admin.GET("/tenants", h.GetTenants)
			admin.POST("/tenants", h.CreateTenant)
			admin.PUT("/tenants/:bot", h.UpdateTenant)
			admin.DELETE("/tenants/:bot", h.DeleteTenant)
			admin.GET("/tenants/:bot/stats", h.GetTenantStats)

			admin.GET("/members/:bot", h.ListMembers)
			admin.GET("/members/:bot/:user", h.GetMember)
			admin.POST("/members/:bot/:user/revoke", h.RevokeMember)

			admin.GET("/transactions", h.ListTransactions)
			admin.POST("/report", h.SendReport)
			admin.POST("/sweep", h.SweepExpired)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "membership-api",
			"tenants": len(h.Gateways),
		}
		if h.DedupStats != nil {
			body["dedup"] = h.DedupStats()
		}
		c.JSON(200, body)
	})
}
