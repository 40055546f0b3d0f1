// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordBorrow()
	RecordBorrowRejected(reason string)
	RecordReturn()
	RecordFineIssued()
	RecordFineSettled()
	RecordFineWaived()
	RecordReservationPromoted()
	RecordReservationExpired()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	borrowTotal         prometheus.Counter
	borrowRejected      *prometheus.CounterVec
	returnTotal         prometheus.Counter
	fineIssued          prometheus.Counter
	fineSettled         prometheus.Counter
	fineWaived          prometheus.Counter
	reservationPromoted prometheus.Counter
	reservationExpired  prometheus.Counter
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		borrowTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lendman_borrow_total",
			Help: "貸出成功の合計数",
		}),
		borrowRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendman_borrow_rejected_total",
			Help: "貸出拒否の理由別合計数",
		}, []string{"reason"}),
		returnTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lendman_return_total",
			Help: "返却の合計数",
		}),
		fineIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lendman_fine_issued_total",
			Help: "発行された延滞料金の合計数",
		}),
		fineSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lendman_fine_settled_total",
			Help: "消し込まれた延滞料金の合計数",
		}),
		fineWaived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lendman_fine_waived_total",
			Help: "免除された延滞料金の合計数",
		}),
		reservationPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lendman_reservation_promoted_total",
			Help: "readyに昇格した予約の合計数",
		}),
		reservationExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lendman_reservation_expired_total",
			Help: "受け取り期限切れで失効した予約の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.borrowTotal,
		c.borrowRejected,
		c.returnTotal,
		c.fineIssued,
		c.fineSettled,
		c.fineWaived,
		c.reservationPromoted,
		c.reservationExpired,
		c.httpStatus,
	)

	return c
}

// RecordBorrow は貸出成功を記録する。
func (c *Collector) RecordBorrow() {
	c.borrowTotal.Inc()
}

// RecordBorrowRejected は貸出拒否を理由付きで記録する。
func (c *Collector) RecordBorrowRejected(reason string) {
	c.borrowRejected.WithLabelValues(reason).Inc()
}

// RecordReturn は返却を記録する。
func (c *Collector) RecordReturn() {
	c.returnTotal.Inc()
}

// RecordFineIssued は延滞料金の発行を記録する。
func (c *Collector) RecordFineIssued() {
	c.fineIssued.Inc()
}

// RecordFineSettled は延滞料金の消し込みを記録する。
func (c *Collector) RecordFineSettled() {
	c.fineSettled.Inc()
}

// RecordFineWaived は延滞料金の免除を記録する。
func (c *Collector) RecordFineWaived() {
	c.fineWaived.Inc()
}

// RecordReservationPromoted は予約のready昇格を記録する。
func (c *Collector) RecordReservationPromoted() {
	c.reservationPromoted.Inc()
}

// RecordReservationExpired は予約の失効を記録する。
func (c *Collector) RecordReservationExpired() {
	c.reservationExpired.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
