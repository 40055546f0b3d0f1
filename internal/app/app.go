package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/lendman/internal/circulation"
	"github.com/hitoshi/lendman/internal/config"
	"github.com/hitoshi/lendman/internal/database"
	"github.com/hitoshi/lendman/internal/fine"
	"github.com/hitoshi/lendman/internal/handler"
	"github.com/hitoshi/lendman/internal/inventory"
	"github.com/hitoshi/lendman/internal/logger"
	"github.com/hitoshi/lendman/internal/metrics"
	"github.com/hitoshi/lendman/internal/middleware"
	"github.com/hitoshi/lendman/internal/payment"
	"github.com/hitoshi/lendman/internal/policy"
	"github.com/hitoshi/lendman/internal/repository"
	"github.com/hitoshi/lendman/internal/reservation"
	"github.com/hitoshi/lendman/internal/worker/cleanup"
	"github.com/hitoshi/lendman/internal/worker/expiry"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	titleRepo := repository.NewPostgresTitleRepo(db)
	memberRepo := repository.NewPostgresMemberRepo(db)
	loanRepo := repository.NewPostgresLoanRepo(db)
	reservationRepo := repository.NewPostgresReservationRepo(db)
	fineRepo := repository.NewPostgresFineRepo(db)
	paymentRepo := repository.NewPostgresPaymentRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	policySvc := policy.NewService(policy.Config{
		YearlyFineDiscountPercent: cfg.YearlyFineDiscountPercent,
	})

	reservationSvc := reservation.NewService(
		memberRepo, titleRepo, reservationRepo, policySvc,
		collector, slog.Default(),
		reservation.Config{HoldWindow: cfg.HoldWindow},
	)

	// 増冊で空いたコピーも返却と同じ経路で待ち行列に渡す
	ledger := inventory.NewLedger(titleRepo, reservationSvc, slog.Default())

	circulationSvc := circulation.NewService(
		memberRepo, loanRepo, fineRepo, ledger, policySvc,
		reservationSvc, collector, slog.Default(),
		circulation.Config{FineBlockThreshold: cfg.FineBlockThreshold},
	)

	fineSvc := fine.NewService(fineRepo, collector, slog.Default())

	processor := payment.NewHTTPProcessor(cfg.PaymentProcessorURL, cfg.PaymentTimeout)
	paymentSvc := payment.NewService(paymentRepo, fineRepo, processor, fineSvc, slog.Default())

	// 5. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレートはreq/min単位なのでreq/secに変換する
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.BorrowRate = rate.Limit(float64(cfg.RateLimitBorrow) / 60.0)
	rateLimiterCfg.BorrowBurst = cfg.RateLimitBorrow

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		MetricsHandler:    metrics.Handler(registry),

		CirculationService: circulationSvc,
		ReservationService: reservationSvc,
		FineService:        fineSvc,
		PaymentCollector:   paymentSvc,
		PaymentCallback:    paymentSvc,
		InventoryService:   ledger,
		MemberSync:         memberRepo,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、失効掃き出しワーカーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	titleRepo := repository.NewPostgresTitleRepo(db)
	memberRepo := repository.NewPostgresMemberRepo(db)
	reservationRepo := repository.NewPostgresReservationRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 予約サービスと失効掃き出しワーカーの初期化
	policySvc := policy.NewService(policy.Config{
		YearlyFineDiscountPercent: cfg.YearlyFineDiscountPercent,
	})
	reservationSvc := reservation.NewService(
		memberRepo, titleRepo, reservationRepo, policySvc,
		collector, slog.Default(),
		reservation.Config{HoldWindow: cfg.HoldWindow},
	)

	sweeper := expiry.NewSweeper(reservationSvc, slog.Default())
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 終端予約の削除ジョブを日次で実行
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
	)

	// 失効掃き出しワーカーをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
