package database

import (
	"context"
	"fmt"
	"time"

	"membership-api/internal/config"
	"membership-api/internal/models"
	"membership-api/pkg/logging"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	DB          *gorm.DB
	RedisClient *redis.Client
)

// InitDatabase initializes database connection
func InitDatabase() error {
	if err := initSQL(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Redis is only needed when the dedup cache is shared between processes
	if config.AppConfig.RedisURL != "" {
		if err := initRedis(); err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	if err := AutoMigrate(DB); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// initSQL opens PostgreSQL, or SQLite when no DATABASE_URL is configured
func initSQL() error {
	var err error
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	if dsn := config.AppConfig.DatabaseURL; dsn == "" {
		logging.Infof("Database URL not set, using SQLite for development")
		DB, err = gorm.Open(sqlite.Open("membership-api.db"), gormConfig)
	} else {
		DB, err = gorm.Open(postgres.Open(dsn), gormConfig)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(1)
	}

	logging.Infof("Database connected successfully")
	return nil
}

// OpenSQLite opens and migrates a SQLite database, used by tests and tooling.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// initRedis initializes Redis connection
func initRedis() error {
	redisURL := config.AppConfig.RedisURL
	logging.Infof("Connecting to Redis: %s", maskRedisURL(redisURL))

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	RedisClient = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Infof("Redis connected successfully")
	return nil
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "***" + url[len(url)-10:]
	}
	return "***"
}

// AutoMigrate performs database migration
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Tenant{},
		&models.Member{},
		&models.ActionLog{},
	)
}

// SeedTenants upserts the tenants declared in the tenants file. Rows created
// through the admin API are left alone.
func SeedTenants(db *gorm.DB, tenants []config.TenantConfig) error {
	for _, tc := range tenants {
		tenant := models.Tenant{
			BotName:            tc.BotName,
			DisplayName:        tc.DisplayName,
			BotToken:           tc.BotToken,
			IsActive:           true,
			ChannelID:          tc.ChannelID,
			PromoterChatID:     tc.PromoterChatID,
			PriceWeekly:        tc.PriceWeekly,
			PriceMonthly:       tc.PriceMonthly,
			PriceLifetime:      tc.PriceLifetime,
			PayPalMonthlyURL:   tc.PayPalMonthlyURL,
			PayPalLifetimeURL:  tc.PayPalLifetimeURL,
			CryptoAddress:      tc.CryptoAddress,
			WelcomeAssetURL:    tc.WelcomeAssetURL,
			PortalReturnURL:    tc.PortalReturnURL,
			WebhookCallbackURL: tc.WebhookCallbackURL,
			WebhookSecret:      tc.WebhookSecret,
		}

		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bot_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name",
				"bot_token",
				"channel_id",
				"promoter_chat_id",
				"price_weekly",
				"price_monthly",
				"price_lifetime",
				"paypal_monthly_url",
				"paypal_lifetime_url",
				"crypto_address",
				"welcome_asset_url",
				"portal_return_url",
				"webhook_callback_url",
				"webhook_secret",
				"updated_at",
			}),
		}).Create(&tenant).Error
		if err != nil {
			return fmt.Errorf("failed to seed tenant %s: %w", tc.BotName, err)
		}
	}

	if len(tenants) > 0 {
		logging.Infof("Seeded %d tenants", len(tenants))
	}
	return nil
}

// GetDB returns database instance
func GetDB() *gorm.DB {
	return DB
}

// GetRedis returns Redis client, nil when Redis is not configured
func GetRedis() *redis.Client {
	return RedisClient
}

// CloseDatabase closes database connections
func CloseDatabase() error {
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logging.Errorf("Failed to close database: %v", err)
			}
		}
	}

	if RedisClient != nil {
		if err := RedisClient.Close(); err != nil {
			logging.Errorf("Failed to close Redis: %v", err)
		}
	}

	return nil
}
