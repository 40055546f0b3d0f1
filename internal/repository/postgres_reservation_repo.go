package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/lendman/internal/model"
)

// PostgresReservationRepo はPostgreSQLを使用した予約リポジトリ。
// 在庫カウンタと予約状態を同時に動かす操作（昇格・失効・ready取消・貸出変換）は
// 単一トランザクションで実装し、中間状態が観測されないようにする。
type PostgresReservationRepo struct {
	db *sql.DB
}

// NewPostgresReservationRepo はPostgresReservationRepoを生成する。
func NewPostgresReservationRepo(db *sql.DB) *PostgresReservationRepo {
	return &PostgresReservationRepo{db: db}
}

const reservationColumns = `id, title_id, member_id, status, requested_at,
	ready_at, expires_at, created_at, updated_at`

// scanReservation は1行分の予約レコードを読み取る。
func scanReservation(scanner interface{ Scan(...any) error }) (*model.Reservation, error) {
	res := &model.Reservation{}
	var readyAt, expiresAt sql.NullTime

	err := scanner.Scan(
		&res.ID, &res.TitleID, &res.MemberID, &res.Status,
		&res.RequestedAt, &readyAt, &expiresAt, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if readyAt.Valid {
		res.ReadyAt = &readyAt.Time
	}
	if expiresAt.Valid {
		res.ExpiresAt = &expiresAt.Time
	}

	return res, nil
}

// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
func (r *PostgresReservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)

	res, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("予約の取得に失敗しました: %w", err)
	}

	return res, nil
}

// FindActiveByMemberAndTitle は会員の非終端（pending/ready）予約を検索する。
func (r *PostgresReservationRepo) FindActiveByMemberAndTitle(ctx context.Context, memberID, titleID string) (*model.Reservation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE member_id = $1 AND title_id = $2 AND status IN ('pending', 'ready')
		 LIMIT 1`,
		memberID, titleID,
	)

	res, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("予約の検索に失敗しました: %w", err)
	}

	return res, nil
}

// Create は予約を作成する。
func (r *PostgresReservationRepo) Create(ctx context.Context, reservation *model.Reservation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reservations (id, title_id, member_id, status, requested_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		reservation.ID, reservation.TitleID, reservation.MemberID,
		reservation.Status, reservation.RequestedAt,
		reservation.CreatedAt, reservation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("予約の作成に失敗しました: %w", err)
	}
	return nil
}

// PromoteHead はタイトルの待ち行列の先頭をreadyに昇格させ、
// 空いたコピーを在庫から確保する。
//
// トランザクション内の手順:
//  1. 在庫から1冊確保（条件付きUPDATE、available_copies > 0）。
//     titles行の行ロックがタイトル単位の昇格を直列化する。
//     並行する昇格処理はここでブロックし、先にコミットした側の結果を見る。
//  2. 待ち行列の先頭をFOR UPDATEで取得。
//     SKIP LOCKEDは使わない: ロック中の先頭を飛ばして後続を昇格させると
//     FIFO順が壊れる。手順1の直列化によりここで競合する昇格処理はいない。
//  3. 予約をreadyに遷移
//
// 待機中の予約がない場合・確保できるコピーがない場合はnilを返す（ロールバック）。
func (r *PostgresReservationRepo) PromoteHead(ctx context.Context, titleID string, readyAt time.Time, expiresAt time.Time) (*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("昇格トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	// 1. 空いたコピーを予約のために確保する
	// （一般貸出に回らないよう、available_copiesを先に減算する）
	result, err := tx.ExecContext(ctx,
		`UPDATE titles
		 SET available_copies = available_copies - 1, updated_at = now()
		 WHERE id = $1 AND available_copies > 0`,
		titleID,
	)
	if err != nil {
		return nil, fmt.Errorf("予約用コピーの確保に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("予約用コピー確保の結果取得に失敗しました: %w", err)
	}
	if affected == 0 {
		// 確保できるコピーがない。予約はpendingのまま残す。
		return nil, nil
	}

	// 2. 待ち行列の先頭を取得（FIFO: requested_at昇順、同時刻はid昇順）
	row := tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE title_id = $1 AND status = 'pending'
		 ORDER BY requested_at ASC, id ASC
		 LIMIT 1
		 FOR UPDATE`,
		titleID,
	)

	res, err := scanReservation(row)
	if err == sql.ErrNoRows {
		// 待機中の予約がない。ロールバックで確保分は在庫に戻る。
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("待機中予約の取得に失敗しました: %w", err)
	}

	// 3. 予約をreadyに遷移
	_, err = tx.ExecContext(ctx,
		`UPDATE reservations
		 SET status = 'ready', ready_at = $2, expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		res.ID, readyAt, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("予約の昇格に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("昇格トランザクションのコミットに失敗しました: %w", err)
	}

	res.Status = model.ReservationReady
	res.ReadyAt = &readyAt
	res.ExpiresAt = &expiresAt

	return res, nil
}

// FulfillAndCreateLoan はready状態かつ期限内の予約をfulfilledに遷移させ、
// 確保済みコピーに対する貸出を同一トランザクションで作成する。
// コピーは昇格時にすでに確保されているため、在庫の再減算は行わない。
func (r *PostgresReservationRepo) FulfillAndCreateLoan(ctx context.Context, reservationID string, now time.Time, loan *model.Loan) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("貸出変換トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE reservations
		 SET status = 'fulfilled', updated_at = now()
		 WHERE id = $1 AND status = 'ready' AND expires_at > $2`,
		reservationID, now,
	)
	if err != nil {
		return false, fmt.Errorf("予約の完了処理に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("予約完了処理の結果取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loans (id, title_id, member_id, status, issued_date, due_date,
		                    renewal_count, daily_fine_rate, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		loan.ID, loan.TitleID, loan.MemberID, loan.Status,
		loan.IssuedDate, loan.DueDate, loan.RenewalCount,
		loan.DailyFineRate.String(), loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("予約からの貸出作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("貸出変換トランザクションのコミットに失敗しました: %w", err)
	}

	return true, nil
}

// CancelPending はpending状態の予約をcancelledに遷移させる。
func (r *PostgresReservationRepo) CancelPending(ctx context.Context, reservationID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = 'cancelled', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		reservationID,
	)
	if err != nil {
		return false, fmt.Errorf("予約の取り消しに失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("予約取り消しの結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// CancelReady はready状態の予約をcancelledに遷移させ、
// 確保済みコピーを同一トランザクションで在庫に戻す。
func (r *PostgresReservationRepo) CancelReady(ctx context.Context, reservationID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("予約取り消しトランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	var titleID string
	err = tx.QueryRowContext(ctx,
		`UPDATE reservations SET status = 'cancelled', updated_at = now()
		 WHERE id = $1 AND status = 'ready'
		 RETURNING title_id`,
		reservationID,
	).Scan(&titleID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("予約の取り消しに失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE titles
		 SET available_copies = available_copies + 1, updated_at = now()
		 WHERE id = $1 AND available_copies < total_copies`,
		titleID,
	)
	if err != nil {
		return false, fmt.Errorf("確保済みコピーの返却に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("予約取り消しトランザクションのコミットに失敗しました: %w", err)
	}

	return true, nil
}

// ExpireStale は受け取り期限を過ぎたready予約をexpiredに遷移させ、
// 確保済みコピーを在庫に戻す。状態遷移と在庫返却は同一トランザクションで行い、
// 片方だけが適用された状態（コピーのリーク）を防ぐ。
func (r *PostgresReservationRepo) ExpireStale(ctx context.Context, now time.Time) ([]*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("失効トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`UPDATE reservations SET status = 'expired', updated_at = now()
		 WHERE status = 'ready' AND expires_at <= $1
		 RETURNING `+reservationColumns,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("予約の失効処理に失敗しました: %w", err)
	}

	var expired []*model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("失効予約の読み取りに失敗しました: %w", err)
		}
		expired = append(expired, res)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("失効予約の走査に失敗しました: %w", err)
	}
	rows.Close()

	// 失効した予約ごとに確保済みコピーを在庫に戻す
	for _, res := range expired {
		_, err := tx.ExecContext(ctx,
			`UPDATE titles
			 SET available_copies = available_copies + 1, updated_at = now()
			 WHERE id = $1 AND available_copies < total_copies`,
			res.TitleID,
		)
		if err != nil {
			return nil, fmt.Errorf("失効予約のコピー返却に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("失効トランザクションのコミットに失敗しました: %w", err)
	}

	return expired, nil
}

// TitleIDsWithPromotableBacklog はpending予約が待機していて、かつ
// 貸出可能なコピーが残っているタイトルのID一覧を返す。
func (r *PostgresReservationRepo) TitleIDsWithPromotableBacklog(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT r.title_id
		 FROM reservations r
		 JOIN titles t ON t.id = r.title_id
		 WHERE r.status = 'pending' AND t.available_copies > 0`,
	)
	if err != nil {
		return nil, fmt.Errorf("昇格可能なタイトルの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var titleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("昇格可能なタイトルの読み取りに失敗しました: %w", err)
		}
		titleIDs = append(titleIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("昇格可能なタイトルの走査に失敗しました: %w", err)
	}

	return titleIDs, nil
}

// ListByMember は会員の予約一覧をrequested_atの降順で返す。
func (r *PostgresReservationRepo) ListByMember(ctx context.Context, memberID string) ([]*model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE member_id = $1 ORDER BY requested_at DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var reservations []*model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("予約一覧の読み取りに失敗しました: %w", err)
		}
		reservations = append(reservations, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予約一覧の走査に失敗しました: %w", err)
	}

	return reservations, nil
}

// compile-time interface check
var _ ReservationRepository = (*PostgresReservationRepo)(nil)
