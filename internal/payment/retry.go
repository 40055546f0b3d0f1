package payment

import "time"

// collectResult はHTTPステータスコードに基づく回収依頼結果の分類。
type collectResult int

const (
	// collectResultOK は依頼受理（200/202）。
	collectResultOK collectResult = iota
	// collectResultFatal は再試行しても回復しないステータス（4xx）。
	collectResultFatal
	// collectResultRetry は再試行可能なステータス（429/5xx）。
	collectResultRetry
)

const (
	// maxAttempts は回収依頼の最大試行回数。
	maxAttempts = 3
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 200 * time.Millisecond
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 2 * time.Second
)

// classifyStatus はHTTPステータスコードを回収依頼結果に分類する。
func classifyStatus(statusCode int) collectResult {
	switch {
	case statusCode == 200 || statusCode == 202:
		return collectResultOK
	case statusCode == 429:
		return collectResultRetry
	case statusCode >= 500:
		return collectResultRetry
	default:
		return collectResultFatal
	}
}

// calculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回200ms、2倍ずつ増加、最大2秒。
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
