package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileExt はストレージファイルの拡張子。
const fileExt = ".json"

// FileStorage はディレクトリ配下にキーごとの1 JSONファイルとして値を永続化する
// Storage実装。キーはファイル名として安全なようにエスケープする。
// 書き込みは一時ファイル + renameでアトミックに行う。
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage はFileStorageの新しいインスタンスを生成する。
// ディレクトリが存在しない場合は作成する。
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ストレージディレクトリの作成に失敗しました: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

// Get は指定キーの値をoutへデコードする。キーが存在しない場合は(false, nil)を返す。
func (s *FileStorage) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("キーの読み込みに失敗しました (%s): %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("値のパースに失敗しました (%s): %w", key, err)
	}
	return true, nil
}

// Set は指定キーへ値を書き込む。
func (s *FileStorage) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("値のシリアライズに失敗しました (%s): %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("キーの書き込みに失敗しました (%s): %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("キーの差し替えに失敗しました (%s): %w", key, err)
	}
	return nil
}

// Remove は指定キーを削除する。キーが存在しなくてもエラーにしない。
func (s *FileStorage) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("キーの削除に失敗しました (%s): %w", key, err)
	}
	return nil
}

// Keys は格納中の全キーを返す。
func (s *FileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("キー一覧の取得に失敗しました: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			// エスケープ形式として不正なファイル名はキーとみなさない
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// path はキーに対応するファイルパスを返す。
func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileExt)
}
