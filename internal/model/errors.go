// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, content, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeStoryNotFound = "STORY_NOT_FOUND"
	ErrCodeUnknownList   = "UNKNOWN_LIST"
	ErrCodeSearchFailed  = "SEARCH_FAILED"
	ErrCodeUpstream      = "UPSTREAM_ERROR"
)

// NewStoryNotFoundError はストーリー未検出エラーを生成する。
func NewStoryNotFoundError(id int) *APIError {
	return &APIError{
		Code:     ErrCodeStoryNotFound,
		Message:  "story not found",
		Category: "content",
		Action:   fmt.Sprintf("ストーリーID（%d）を確認してください。", id),
	}
}

// NewUnknownListError は未知のリスト名エラーを生成する。
func NewUnknownListError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownList,
		Message:  fmt.Sprintf("未知のリスト名です: %s", name),
		Category: "validation",
		Action:   "リスト名には topstories、day、week のいずれかを指定してください。",
	}
}

// NewSearchFailedError は検索失敗エラーを生成する。
func NewSearchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSearchFailed,
		Message:  fmt.Sprintf("検索に失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamError は上流API呼び出し失敗エラーを生成する。
func NewUpstreamError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("上流APIの呼び出しに失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
