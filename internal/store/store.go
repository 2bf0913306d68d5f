// Package store はアイテムとトップストーリーリストのディスクバック型
// キーバリューストアを提供する。スナップショットはリフレッシュサイクルごとに
// 単一JSONファイルへアトミックに書き出す。
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// defaultStalenessRatio は鮮度判定の既定閾値。
// (now - lastUpdated) / (lastUpdated - time) がこの値を超えたら古いとみなす。
const defaultStalenessRatio = 0.25

// ItemStore はプロセス内のアイテム/リストストア。
// サーバー側のアイテムデータの正本を排他的に所有する。
type ItemStore struct {
	mu     sync.RWMutex
	items  map[int]*model.Item
	lists  map[model.ListName]*model.TopStoryList
	path   string
	ratio  float64
	logger *slog.Logger

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewItemStore はItemStoreの新しいインスタンスを生成する。
// pathはスナップショットファイルのパス。ratioが0以下の場合は既定値0.25を使用する。
func NewItemStore(path string, ratio float64, logger *slog.Logger) *ItemStore {
	if ratio <= 0 {
		ratio = defaultStalenessRatio
	}
	return &ItemStore{
		items:  make(map[int]*model.Item),
		lists:  make(map[model.ListName]*model.TopStoryList),
		path:   path,
		ratio:  ratio,
		logger: logger,
		now:    time.Now,
	}
}

// Get は指定IDのアイテムを返す。
// 未格納、または鮮度判定で古いと判断された場合はnilを返し、
// 呼び出し元に再取得を促す。
func (s *ItemStore) Get(id int) *model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil
	}
	if s.isStale(item) {
		return nil
	}
	return item
}

// GetAny は鮮度判定を行わずに指定IDのアイテムを返す。
// パージ対象の計算など、鮮度に関係なく存在確認したい場合に使用する。
func (s *ItemStore) GetAny(id int) *model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[id]
}

// Put はアイテムを格納する。LastUpdatedの設定は呼び出し元の責務。
func (s *ItemStore) Put(item *model.Item) {
	if item == nil || item.ID <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// GetList は指定名のトップストーリーリストを返す。未格納の場合はnilを返す。
func (s *ItemStore) GetList(name model.ListName) *model.TopStoryList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lists[name]
}

// PutList はトップストーリーリストを格納する。
func (s *ItemStore) PutList(name model.ListName, list *model.TopStoryList) {
	if list == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[name] = list
}

// Purge はkeepに含まれないアイテムを全て削除し、削除件数を返す。
// リストレコードは更新サイクルの途中で参照される可能性があるため削除対象にしない。
func (s *ItemStore) Purge(keep map[int]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id := range s.items {
		if _, ok := keep[id]; !ok {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// Len は格納中のアイテム数を返す。
func (s *ItemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// snapshotFile はスナップショットのシリアライズ形式。
type snapshotFile struct {
	Items map[int]*model.Item                    `json:"items"`
	Lists map[model.ListName]*model.TopStoryList `json:"lists"`
}

// Snapshot はストア全体を単一JSONファイルへ書き出す。
// 一時ファイルへの書き込み後にrenameで差し替えるため、
// 書き込み中の読み取りでも部分的な内容が見えることはない。
func (s *ItemStore) Snapshot() error {
	s.mu.RLock()
	data, err := json.Marshal(snapshotFile{Items: s.items, Lists: s.lists})
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("スナップショットのシリアライズに失敗しました: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("スナップショットの書き込みに失敗しました: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("スナップショットの差し替えに失敗しました: %w", err)
	}

	s.logger.Info("スナップショットを書き出しました",
		slog.String("path", s.path),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Reload はスナップショットファイルからストアの内容を復元する。
// ファイルが存在しない場合は空のストアのまま正常終了する（初回起動時）。
func (s *ItemStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("スナップショットファイルが存在しないため空のストアで開始します",
				slog.String("path", s.path),
			)
			return nil
		}
		return fmt.Errorf("スナップショットの読み込みに失敗しました: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("スナップショットのパースに失敗しました: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Items != nil {
		s.items = snap.Items
	}
	if snap.Lists != nil {
		s.lists = snap.Lists
	}

	s.logger.Info("スナップショットを復元しました",
		slog.String("path", filepath.Clean(s.path)),
		slog.Int("item_count", len(s.items)),
		slog.Int("list_count", len(s.lists)),
	)
	return nil
}

// isStale はアイテムが鮮度判定で古いとみなされるかを返す。
// 取り込みからの経過時間を、取り込み時点でのコンテンツ年齢で割った比が
// 閾値を超えたら古い。新しいコンテンツほど積極的に、古いコンテンツほど
// まれに再取得される。LastUpdatedが無いアイテムは常に古い。
// 分母は最低1秒にクランプする（取り込みと作成が同一秒の場合のゼロ除算対策）。
func (s *ItemStore) isStale(item *model.Item) bool {
	if item.LastUpdated == 0 {
		return true
	}
	age := s.now().Unix() - item.LastUpdated
	den := item.LastUpdated - item.Time
	if den < 1 {
		den = 1
	}
	return float64(age)/float64(den) > s.ratio
}
