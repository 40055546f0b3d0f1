package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	BorrowRate      rate.Limit    // 貸出・予約系操作のレート（req/sec）。20/60
	BorrowBurst     int           // 貸出・予約系操作のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 要件: API全般 120 req/min/member、貸出・予約系 20 req/min/member
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		BorrowRate:      rate.Limit(20.0 / 60.0), // ~0.333 req/sec
		BorrowBurst:     20,
		CleanupInterval: 5 * time.Minute,
	}
}

// memberLimiter は会員ごとのレートリミッターとアクセス時刻を保持する。
type memberLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は会員ごとのレート制限を管理する。
// API全般のレート制限と貸出・予約系操作のレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*memberLimiter

	borrowMu       sync.RWMutex
	borrowLimiters map[string]*memberLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*memberLimiter),
		borrowLimiters:  make(map[string]*memberLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストに会員IDが含まれている必要がある（MemberContextMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID, err := MemberIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateGeneralLimiter(memberID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("member_id", memberID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BorrowMiddleware は貸出・予約系操作専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) BorrowMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID, err := MemberIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateBorrowLimiter(memberID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.BorrowRate)
				slog.Warn("rate limit exceeded",
					slog.String("member_id", memberID),
					slog.String("limit_type", "borrow"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// BorrowLimiterCount は現在管理されている貸出系リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) BorrowLimiterCount() int {
	rl.borrowMu.RLock()
	defer rl.borrowMu.RUnlock()
	return len(rl.borrowLimiters)
}

// getOrCreateGeneralLimiter は会員のAPI全般リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateGeneralLimiter(memberID string) *rate.Limiter {
	rl.generalMu.RLock()
	ml, exists := rl.generalLimiters[memberID]
	rl.generalMu.RUnlock()

	if exists {
		rl.generalMu.Lock()
		ml.lastAccess = time.Now()
		rl.generalMu.Unlock()
		return ml.limiter
	}

	rl.generalMu.Lock()
	defer rl.generalMu.Unlock()

	// ダブルチェック
	if ml, exists := rl.generalLimiters[memberID]; exists {
		ml.lastAccess = time.Now()
		return ml.limiter
	}

	limiter := rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst)
	rl.generalLimiters[memberID] = &memberLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// getOrCreateBorrowLimiter は会員の貸出系リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateBorrowLimiter(memberID string) *rate.Limiter {
	rl.borrowMu.RLock()
	ml, exists := rl.borrowLimiters[memberID]
	rl.borrowMu.RUnlock()

	if exists {
		rl.borrowMu.Lock()
		ml.lastAccess = time.Now()
		rl.borrowMu.Unlock()
		return ml.limiter
	}

	rl.borrowMu.Lock()
	defer rl.borrowMu.Unlock()

	// ダブルチェック
	if ml, exists := rl.borrowLimiters[memberID]; exists {
		ml.lastAccess = time.Now()
		return ml.limiter
	}

	limiter := rate.NewLimiter(rl.config.BorrowRate, rl.config.BorrowBurst)
	rl.borrowLimiters[memberID] = &memberLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for memberID, ml := range rl.generalLimiters {
		if now.Sub(ml.lastAccess) > ttl {
			delete(rl.generalLimiters, memberID)
		}
	}
	rl.generalMu.Unlock()

	rl.borrowMu.Lock()
	for memberID, ml := range rl.borrowLimiters {
		if now.Sub(ml.lastAccess) > ttl {
			delete(rl.borrowLimiters, memberID)
		}
	}
	rl.borrowMu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
