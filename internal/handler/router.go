package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lendman/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DBがこのインターフェースを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.HTTPStatusRecorder

	// /metrics に公開するPrometheusハンドラー（nilの場合は公開しない）
	MetricsHandler http.Handler

	// 貸出
	CirculationService CirculationServiceInterface

	// 予約
	ReservationService ReservationServiceInterface

	// 延滞料金・決済
	FineService      FineServiceInterface
	PaymentCollector PaymentCollectorInterface
	PaymentCallback  PaymentCallbackInterface

	// 在庫・会員
	InventoryService InventoryServiceInterface
	MemberSync       MemberSyncInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → Logging → MemberContext → RateLimit
//
// ヘルスチェック・Webhook・管理ルートは会員コンテキストの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}

	circulationHandler := NewCirculationHandler(deps.CirculationService)
	reservationHandler := NewReservationHandler(deps.ReservationService)
	fineHandler := NewFineHandler(deps.FineService, deps.PaymentCollector)
	titleHandler := NewTitleHandler(deps.InventoryService)
	paymentHandler := NewPaymentHandler(deps.PaymentCallback, deps.MemberSync)

	// --- 認証不要のルート ---

	// ヘルスチェック
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheusメトリクス
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 外部システムからのWebhook
	r.Post("/api/payments/callback", paymentHandler.Callback)
	r.Post("/api/members/sync", paymentHandler.SyncMember)

	// 管理ルート（上流ゲートウェイで管理者のみに制限される前提）
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/titles", titleHandler.RegisterTitle)
		r.Put("/titles/{id}/stock", titleHandler.AdjustStock)
		r.Delete("/titles/{id}", titleHandler.DeactivateTitle)
		r.Post("/fines/{id}/waive", fineHandler.Waive)
	})

	// --- 会員コンテキストが必要なルート ---
	// ミドルウェアスタック: MemberContext → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewMemberContextMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 貸出管理
		r.Route("/api/loans", func(r chi.Router) {
			// POST /api/loans - 貸出（貸出系専用レート制限を追加）
			r.With(deps.RateLimiter.BorrowMiddleware()).Post("/", circulationHandler.Borrow)
			r.Get("/", circulationHandler.ListLoans)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/renew", circulationHandler.Renew)
				r.Post("/return", circulationHandler.Return)
			})
		})

		// 予約管理
		r.Route("/api/reservations", func(r chi.Router) {
			// POST /api/reservations - 予約（貸出系専用レート制限を追加）
			r.With(deps.RateLimiter.BorrowMiddleware()).Post("/", reservationHandler.Reserve)
			r.Get("/", reservationHandler.ListReservations)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/convert", reservationHandler.Convert)
				r.Delete("/", reservationHandler.Cancel)
			})
		})

		// 延滞料金管理
		r.Route("/api/fines", func(r chi.Router) {
			r.Get("/", fineHandler.ListFines)
			r.Get("/balance", fineHandler.GetBalance)
			r.Post("/{id}/collect", fineHandler.Collect)
		})

		// 在庫照会
		r.Get("/api/titles/{id}/availability", titleHandler.GetAvailability)
	})

	return r
}
