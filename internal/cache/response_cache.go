// Package cache はリクエストハンドラーが読み取るインメモリレスポンスキャッシュを提供する。
package cache

import (
	"sync"

	"github.com/hitoshi/hnreader/internal/model"
)

// ResponseCache はリスト名からハイドレート済みアイテム配列へのマップ。
// リフレッシュサイクルごとに配列全体をアトミックに差し替えるため、
// 読み取り側が構築途中のリストを観測することはない。
type ResponseCache struct {
	mu    sync.RWMutex
	lists map[model.ListName][]*model.Item
}

// NewResponseCache はResponseCacheの新しいインスタンスを生成する。
func NewResponseCache() *ResponseCache {
	return &ResponseCache{
		lists: make(map[model.ListName][]*model.Item),
	}
}

// Get は指定リストのハイドレート済みアイテム配列を返す。
// 未知のリスト名、または未構築の場合はnilを返す。
func (c *ResponseCache) Get(name model.ListName) []*model.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lists[name]
}

// Set は指定リストの配列を丸ごと差し替える。
func (c *ResponseCache) Set(name model.ListName, items []*model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[name] = items
}

// Names は現在キャッシュされているリスト名の一覧を返す。
func (c *ResponseCache) Names() []model.ListName {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]model.ListName, 0, len(c.lists))
	for name := range c.lists {
		names = append(names, name)
	}
	return names
}
