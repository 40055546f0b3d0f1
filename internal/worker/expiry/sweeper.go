// Package expiry は受け取り期限切れ予約の失効掃き出しワーカーを提供する。
// 失効で戻ったコピーは待ち行列の次の会員に引き渡される。
package expiry

import (
	"context"
	"log/slog"
	"time"
)

// ReservationExpirer は期限切れ予約の失効と取りこぼし昇格の回収インターフェース。
type ReservationExpirer interface {
	// ExpireStale は受け取り期限を過ぎたready予約を失効させ、失効件数を返す。
	ExpireStale(ctx context.Context) (int, error)

	// PromoteBacklog は在庫に空きがあるのにpending予約が残っているタイトルの
	// 待ち行列を昇格させ、昇格数を返す。
	PromoteBacklog(ctx context.Context) (int, error)
}

// Sweeper は期限切れ予約の失効と取りこぼし昇格の回収を定期実行するワーカー。
// どちらの処理も冪等であり、複数回実行しても安全。返却・増冊時の
// 非同期昇格が取りこぼされた場合のリカバリはPromoteBacklogが担う
// （at-least-once）。
type Sweeper struct {
	expirer ReservationExpirer
	logger  *slog.Logger
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
func NewSweeper(expirer ReservationExpirer, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		expirer: expirer,
		logger:  logger,
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("失効掃き出しワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("失効掃き出しの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("失効掃き出しワーカーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("失効掃き出しの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は失効掃き出しと取りこぼし昇格の回収を1回実行する。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	expired, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		return err
	}

	// 失効で戻ったコピーはExpireStale内で昇格済み。ここでは
	// それ以外の経路で取りこぼされた昇格を回収する。
	promoted, err := s.expirer.PromoteBacklog(ctx)
	if err != nil {
		return err
	}

	if expired == 0 && promoted == 0 {
		return nil
	}

	duration := time.Since(start)
	s.logger.Info("失効掃き出しが完了しました",
		slog.Int("expired_count", expired),
		slog.Int("promoted_count", promoted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
