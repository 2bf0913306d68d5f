// Package storage はクライアント側の耐久キーバリューストレージの抽象を定義する。
// キーは不透明な文字列、値はJSONシリアライズ可能な構造化データ。
// 操作は断続的に失敗しうるため、リトライは呼び出し元の責務とする。
package storage

import "context"

// Storage は非同期キーバリューストレージのインターフェース。
type Storage interface {
	// Get は指定キーの値をoutへデコードする。キーが存在しない場合は(false, nil)を返す。
	Get(ctx context.Context, key string, out any) (bool, error)
	// Set は指定キーへ値を書き込む。
	Set(ctx context.Context, key string, value any) error
	// Remove は指定キーを削除する。キーが存在しなくてもエラーにしない。
	Remove(ctx context.Context, key string) error
	// Keys は格納中の全キーを返す。
	Keys(ctx context.Context) ([]string, error)
}
