package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"membership-api/internal/api"
	"membership-api/internal/config"
	"membership-api/internal/database"
	"membership-api/internal/services"
	"membership-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "membership-api",
	Short:   "Telegram membership backend driven by Stripe webhooks",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sweepCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and admin HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is everything the commands share once bootstrapped
type app struct {
	gateways   services.Gateways
	members    *database.MemberRepository
	ledger     *database.ActionLogRepository
	tenants    *services.TenantService
	reports    *services.ReportService
	metrics    *services.Metrics
	dedupCache services.DedupCache
}

// bootstrap loads config, opens storage, seeds tenants and connects bots
func bootstrap() *app {
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}
	cfg := config.AppConfig

	logging.InitLogging(cfg.LogLevel, cfg.LogFormat)

	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	declared, err := config.LoadTenants(cfg.TenantsFile)
	if err != nil {
		log.Fatal("Failed to load tenants:", err)
	}
	if err := database.SeedTenants(database.GetDB(), declared); err != nil {
		log.Fatal("Failed to seed tenants:", err)
	}

	tenantService := services.NewTenantService(database.GetDB())
	tenants, err := tenantService.GetAllTenants(context.Background())
	if err != nil {
		log.Fatal("Failed to load tenants from database:", err)
	}
	if len(tenants) == 0 {
		logging.Warnf("No tenants configured, webhooks will be acknowledged but not fulfilled")
	}

	gateways := services.BuildGateways(tenants, cfg.InviteLinkTTL())
	members := database.NewMemberRepository(database.GetDB())
	ledger := database.NewActionLogRepository(database.GetDB())

	return &app{
		gateways:   gateways,
		members:    members,
		ledger:     ledger,
		tenants:    tenantService,
		reports:    services.NewReportService(members, ledger, gateways, cfg.AdminUserID, cfg.ExpiryWarnDays),
		metrics:    services.NewMetrics(prometheus.DefaultRegisterer),
		dedupCache: newDedupCache(cfg),
	}
}

func newDedupCache(cfg *config.Config) services.DedupCache {
	if cfg.DedupBackend == "redis" {
		if client := database.GetRedis(); client != nil {
			logging.Infof("Using Redis dedup cache (window %s)", cfg.DedupWindow())
			return services.NewRedisDedupCache(client, cfg.DedupWindow())
		}
		logging.Warnf("DEDUP_BACKEND=redis but REDIS_URL is not set, falling back to memory")
	}

	cache := services.NewMemoryDedupCache(cfg.DedupWindow(), cfg.DedupMaxEntries)
	cache.StartCleanupRoutine(time.Minute)
	return cache
}

func (a *app) dedupStats() func() map[string]interface{} {
	if mem, ok := a.dedupCache.(*services.MemoryDedupCache); ok {
		return mem.GetStats
	}
	return nil
}

func (a *app) notifier() *services.FanOut {
	cfg := config.AppConfig
	fanOut := services.NewFanOut(a.metrics).
		Add("telegram", services.NewTelegramNotifier(a.gateways, cfg.AdminUserID)).
		Add("callback", services.NewWebhookNotifier(a.gateways))
	if cfg.BrevoAPIKey != "" && cfg.AdminEmail != "" {
		fanOut.Add("email", services.NewBrevoService())
	}
	return fanOut
}

func runServer() {
	a := bootstrap()
	defer database.CloseDatabase()
	cfg := config.AppConfig

	if cfg.StripeWebhookSecret == "" {
		log.Fatal("STRIPE_WEBHOOK_SECRET is required")
	}

	reconciler := services.NewReconciler(a.members, a.ledger, a.dedupCache, a.gateways, a.notifier(),
		services.WithMetrics(a.metrics),
		services.WithSideEffectTimeout(cfg.SideEffectTimeout()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.reports.RunDaily(ctx, cfg.ReportHourUTC)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery())

	api.SetupRoutes(r, &api.Handlers{
		WebhookSecret: cfg.StripeWebhookSecret,
		AdminAPIKey:   cfg.AdminAPIKey,
		Reconciler:    reconciler,
		Members:       a.members,
		Transactions:  a.ledger,
		Tenants:       a.tenants,
		Reports:       a.reports,
		Gateways:      a.gateways,
		DedupStats:    a.dedupStats(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Infof("Starting server on port %s with %d tenants", cfg.Port, len(a.gateways))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	logging.Infof("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("Server shutdown failed: %v", err)
	}

	// Let invite links and notifications already in flight finish
	reconciler.Wait()
	if mem, ok := a.dedupCache.(*services.MemoryDedupCache); ok {
		mem.Stop()
	}
}
