// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
)

// memberIDHeaderName は上流の認証ゲートウェイが付与する会員IDヘッダー。
const memberIDHeaderName = "X-Member-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// memberIDContextKey はリクエストコンテキストに会員IDを格納するためのキー。
var memberIDContextKey = contextKey("member_id")

// NewMemberContextMiddleware はX-Member-IDヘッダーから会員IDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// 会員の認証自体は上流のゲートウェイが担い、本サービスはIDの存在のみを要求する。
// ヘッダーのないリクエストには401 Unauthorizedを返す。
func NewMemberContextMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID := r.Header.Get(memberIDHeaderName)
			if memberID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), memberIDContextKey, memberID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MemberIDFromContext はリクエストコンテキストから会員IDを取得する。
// 会員コンテキストミドルウェアを通過したリクエストでのみ有効。
func MemberIDFromContext(ctx context.Context) (string, error) {
	memberID, ok := ctx.Value(memberIDContextKey).(string)
	if !ok || memberID == "" {
		return "", fmt.Errorf("member ID not found in context")
	}
	return memberID, nil
}

// ContextWithMemberID はコンテキストに会員IDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithMemberID(ctx context.Context, memberID string) context.Context {
	return context.WithValue(ctx, memberIDContextKey, memberID)
}
