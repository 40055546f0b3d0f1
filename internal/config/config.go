package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Payment
	PaymentProcessorURL string
	PaymentTimeout      time.Duration

	// 貸出ポリシー（呼び出し箇所ごとに値が揺れていた歴史があるため、定数ではなく設定とする）
	FineBlockThreshold        decimal.Decimal // この金額を超える未払い延滞料金があると新規貸出を拒否する
	YearlyFineDiscountPercent int             // 年額会員の延滞料金レートに適用する割引率（%）

	// Reservation
	HoldWindow    time.Duration // ready予約の受け取り期限
	SweepInterval time.Duration // 失効予約の掃き出し間隔

	// Rate Limit
	RateLimitGeneral int // API全般のレート（req/min/member）
	RateLimitBorrow  int // 貸出系操作のレート（req/min/member）

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.PaymentProcessorURL = os.Getenv("PAYMENT_PROCESSOR_URL")
	if cfg.PaymentProcessorURL == "" {
		missing = append(missing, "PAYMENT_PROCESSOR_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PaymentTimeout = getEnvDuration("PAYMENT_TIMEOUT", 10*time.Second)
	cfg.FineBlockThreshold = getEnvDecimal("FINE_BLOCK_THRESHOLD", decimal.NewFromInt(100))
	cfg.YearlyFineDiscountPercent = getEnvInt("YEARLY_FINE_DISCOUNT_PERCENT", 10)
	cfg.HoldWindow = getEnvDuration("HOLD_WINDOW", 48*time.Hour)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBorrow = getEnvInt("RATE_LIMIT_BORROW", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return defaultVal
	}
	return d
}
