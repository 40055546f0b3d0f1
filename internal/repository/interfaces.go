// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/model"
)

// TitleRepository はタイトルと在庫カウンタの永続化インターフェース。
// available_copiesの変更はすべて単一の条件付きUPDATEで行い、
// アプリケーションコードでのread-then-writeは許可しない。
type TitleRepository interface {
	// FindByID は指定IDのタイトルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Title, error)

	// Create はタイトルを作成する。
	Create(ctx context.Context, title *model.Title) error

	// TryAcquire はavailable_copies > 0の場合のみ1冊確保（減算）する。
	// 確保できた場合はtrueを返す。チェックと減算は単一のUPDATE文で行われる。
	TryAcquire(ctx context.Context, titleID string) (bool, error)

	// Release は確保されていたコピーを1冊返却（加算）する。
	// available_copies >= total_copiesの状態で呼ばれた場合はfalseを返す。
	// falseは在庫不変条件の違反を意味する。
	Release(ctx context.Context, titleID string) (bool, error)

	// AdjustTotal は総冊数をnewTotalに変更し、差分をavailable_copiesに反映する。
	// 貸出中・確保中の冊数（total - available）を下回る縮小はfalseを返す。
	AdjustTotal(ctx context.Context, titleID string, newTotal int) (bool, error)

	// Deactivate はタイトルを非アクティブ化する。貸出参照が残るため削除はしない。
	Deactivate(ctx context.Context, titleID string) error
}

// MemberRepository は会員スナップショットの永続化インターフェース。
// 外部のID/サブスクリプション基盤が所有するデータの結果整合なコピーを保持する。
type MemberRepository interface {
	// FindByID は指定IDの会員スナップショットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Member, error)

	// Upsert はサブスクリプション基盤からの通知で会員スナップショットを冪等に更新する。
	Upsert(ctx context.Context, member *model.Member) error
}

// LoanRepository は貸出データの永続化インターフェース。
// 同一貸出への並行操作は条件付きUPDATE（楽観的ガード）で直列化する。
type LoanRepository interface {
	// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Loan, error)

	// CountActiveByMember は会員の未返却貸出数を返す。
	CountActiveByMember(ctx context.Context, memberID string) (int, error)

	// Create は貸出を作成する。
	Create(ctx context.Context, loan *model.Loan) error

	// MarkReturned はstatus='active'の場合のみ返却済みに更新する。
	// すでに返却済みの場合はfalseを返す（冪等性ガード）。
	MarkReturned(ctx context.Context, loanID string, returnedAt time.Time, returnedBy string) (bool, error)

	// Renew はrenewal_countが期待値と一致するactiveな貸出のみ更新する。
	// 並行する更新・返却と競合した場合はfalseを返す。
	Renew(ctx context.Context, loanID string, newDueDate time.Time, newRate decimal.Decimal, expectedRenewals int) (bool, error)

	// ListByMember は会員の貸出一覧を発行日時の降順で返す。
	ListByMember(ctx context.Context, memberID string) ([]*model.Loan, error)
}

// ReservationRepository は予約データの永続化インターフェース。
// 昇格・失効のように在庫カウンタと予約状態を同時に動かす操作は、
// 単一トランザクションとしてここで実装する。
type ReservationRepository interface {
	// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Reservation, error)

	// FindActiveByMemberAndTitle は会員の非終端（pending/ready）予約を検索する。
	// 見つからない場合はnilを返す。
	FindActiveByMemberAndTitle(ctx context.Context, memberID, titleID string) (*model.Reservation, error)

	// Create は予約を作成する。
	Create(ctx context.Context, reservation *model.Reservation) error

	// PromoteHead はタイトルの待ち行列の先頭（requested_at昇順、同時刻はid昇順）を
	// readyに昇格させ、空いたコピーを在庫から確保する。
	// コピーの確保と状態遷移は同一トランザクションで行われ、
	// 確保できるコピーがない場合・待機中の予約がない場合はnilを返す。
	// 並行する昇格はタイトル単位で直列化され、先頭より後ろの予約が
	// 先に昇格することはない。
	PromoteHead(ctx context.Context, titleID string, readyAt time.Time, expiresAt time.Time) (*model.Reservation, error)

	// TitleIDsWithPromotableBacklog はpending予約が待機していて、かつ
	// 貸出可能なコピーが残っているタイトルのID一覧を返す。
	// 取りこぼされた昇格のリカバリ（定期ワーカー）に使われる。
	TitleIDsWithPromotableBacklog(ctx context.Context) ([]string, error)

	// FulfillAndCreateLoan はready状態かつ期限内の予約をfulfilledに遷移させ、
	// 確保済みコピーに対する貸出を同一トランザクションで作成する。
	// 在庫の再減算は行わない（コピーは昇格時に確保済み）。
	// 予約がready・期限内でない場合はfalseを返す。
	FulfillAndCreateLoan(ctx context.Context, reservationID string, now time.Time, loan *model.Loan) (bool, error)

	// CancelPending はpending状態の予約をcancelledに遷移させる。
	CancelPending(ctx context.Context, reservationID string) (bool, error)

	// CancelReady はready状態の予約をcancelledに遷移させ、
	// 確保済みコピーを同一トランザクションで在庫に戻す。
	CancelReady(ctx context.Context, reservationID string) (bool, error)

	// ExpireStale は受け取り期限を過ぎたready予約をexpiredに遷移させ、
	// 確保済みコピーを在庫に戻す。両方の更新は同一トランザクションで行われる。
	// 失効した予約の一覧を返す。
	ExpireStale(ctx context.Context, now time.Time) ([]*model.Reservation, error)

	// ListByMember は会員の予約一覧をrequested_atの降順で返す。
	ListByMember(ctx context.Context, memberID string) ([]*model.Reservation, error)
}

// FineRepository は延滞料金データの永続化インターフェース。
type FineRepository interface {
	// FindByID は指定IDの延滞料金を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Fine, error)

	// FindByLoanID は貸出IDで延滞料金を検索する。見つからない場合はnilを返す。
	FindByLoanID(ctx context.Context, loanID string) (*model.Fine, error)

	// Create は延滞料金を作成する。同一貸出への二重生成はON CONFLICTで無視し、
	// 新規作成された場合のみtrueを返す。
	Create(ctx context.Context, fine *model.Fine) (bool, error)

	// PendingBalanceByMember は会員のpending延滞料金の合計額を返す。
	PendingBalanceByMember(ctx context.Context, memberID string) (decimal.Decimal, error)

	// MarkPaid はpending状態の延滞料金のみpaidに更新する。
	MarkPaid(ctx context.Context, fineID string) (bool, error)

	// MarkWaived はpending状態の延滞料金のみwaivedに更新する。
	MarkWaived(ctx context.Context, fineID, reason string) (bool, error)

	// ListPendingByMember は会員のpending延滞料金一覧を発行日時の降順で返す。
	ListPendingByMember(ctx context.Context, memberID string) ([]*model.Fine, error)
}

// PaymentRepository は決済データの永続化インターフェース。
type PaymentRepository interface {
	// FindByID は指定IDの決済を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Payment, error)

	// Create は決済を作成する。
	Create(ctx context.Context, payment *model.Payment) error

	// UpdateProviderPaymentID はプロセッサ側の決済IDを記録する。
	UpdateProviderPaymentID(ctx context.Context, paymentID, providerPaymentID string) error

	// MarkResult はpending状態の決済のみ結果（completed/failed）に更新する。
	// コールバックの再送に対して冪等。
	MarkResult(ctx context.Context, paymentID string, status model.PaymentStatus) (bool, error)
}
