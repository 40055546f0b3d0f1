// Package payment は外部決済プロセッサとの橋渡しを提供する。
// コアは回収依頼を送り、結果は非同期のコールバックで受け取る。
// 決済手段（カード情報等）には一切触れない。
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Processor は決済プロセッサへの回収依頼インターフェース。
type Processor interface {
	// RequestCollection は金額の回収を依頼し、プロセッサ側の決済IDを返す。
	// 結果は同期的には返らず、後続のコールバックで通知される。
	RequestCollection(ctx context.Context, amount decimal.Decimal, reference string) (string, error)
}

// HTTPProcessor はHTTP API経由の決済プロセッサクライアント。
type HTTPProcessor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProcessor はHTTPProcessorを生成する。
func NewHTTPProcessor(baseURL string, timeout time.Duration) *HTTPProcessor {
	return &HTTPProcessor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// collectionRequest は回収依頼のリクエストボディ。
type collectionRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

// collectionResponse は回収依頼のレスポンスボディ。
type collectionResponse struct {
	PaymentID string `json:"payment_id"`
}

// RequestCollection は金額の回収を依頼し、プロセッサ側の決済IDを返す。
// 一時的な失敗（接続エラー・429・5xx）は指数バックオフで再試行する。
func (p *HTTPProcessor) RequestCollection(ctx context.Context, amount decimal.Decimal, reference string) (string, error) {
	body, err := json.Marshal(collectionRequest{
		Amount:    amount.String(),
		Reference: reference,
	})
	if err != nil {
		return "", fmt.Errorf("回収依頼の組み立てに失敗しました: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(calculateBackoff(attempt - 1)):
			}
		}

		paymentID, retryable, err := p.doRequest(ctx, body)
		if err == nil {
			return paymentID, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("回収依頼が%d回の試行後も失敗しました: %w", maxAttempts, lastErr)
}

// doRequest は回収依頼を1回送信する。2番目の戻り値は再試行可能かを示す。
func (p *HTTPProcessor) doRequest(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/collections", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("回収依頼リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("決済プロセッサへの接続に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	switch classifyStatus(resp.StatusCode) {
	case collectResultRetry:
		return "", true, fmt.Errorf("決済プロセッサがエラーを返しました: status=%d", resp.StatusCode)
	case collectResultFatal:
		return "", false, fmt.Errorf("決済プロセッサがエラーを返しました: status=%d", resp.StatusCode)
	}

	var result collectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, fmt.Errorf("回収依頼レスポンスの解析に失敗しました: %w", err)
	}

	return result.PaymentID, false, nil
}

// compile-time interface check
var _ Processor = (*HTTPProcessor)(nil)
