package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/hitoshi/hnreader/internal/client/persisted"
	"github.com/hitoshi/hnreader/internal/client/storage"
	"github.com/hitoshi/hnreader/internal/model"
)

// 各永続ストアの名前空間キー。
const (
	storeNameLists     = "pagelists"
	storeNameRead      = "readitems"
	storeNameCollapsed = "collapsed"
	storeNameSettings  = "settings"
)

// itemKeyPrefix は個別アイテムのストレージキーの接頭辞。
const itemKeyPrefix = "item:"

// reservedKeys は名前空間ストアが使用するキーの集合。
// パージ時の削除対象から除外する。
var reservedKeys = map[string]bool{
	storeNameLists:     true,
	storeNameRead:      true,
	storeNameCollapsed: true,
	storeNameSettings:  true,
}

// PageList はページごとにキャッシュされたリストのサマリーとサーバー更新時刻。
type PageList struct {
	Summaries    []model.StorySummary `json:"summaries"`
	ServerUpdate int64                `json:"serverUpdate"`
}

// Settings はUI設定。名前空間の1つとして永続ストア機構を共有する。
type Settings struct {
	Theme    string `json:"theme"`
	ShowDead bool   `json:"showDead"`
}

// Config は同期レイヤーの調整パラメータ。
// いずれも根拠が文書化されていない経験的定数のため、設定値として保持する。
type Config struct {
	// ReadRetention は既読/折りたたみレコードの保持期間（デフォルト: 7日）。
	ReadRetention time.Duration
	// PurgeKeepRecent はパージ時に保持する直近既読件数（デフォルト: 50）。
	PurgeKeepRecent int
	// PurgeDelay は設定ストアのハイドレーション完了からパージ実行までの遅延。
	PurgeDelay time.Duration
}

// DefaultConfig はデフォルトの同期レイヤー設定を返す。
func DefaultConfig() Config {
	return Config{
		ReadRetention:   7 * 24 * time.Hour,
		PurgeKeepRecent: 50,
		PurgeDelay:      10 * time.Second,
	}
}

// Reader はクライアント側の同期レイヤー。
// ローカルの永続キャッシュを優先し、無い場合のみサーバーAPIを呼び出す。
// 失敗はUI側へは投げず、ログに記録してゼロ値を返す。
type Reader struct {
	storage storage.Storage
	api     API
	logger  *slog.Logger
	config  Config

	lists     *persisted.Store[map[string]PageList]
	read      *persisted.Store[map[int]int64]
	collapsed *persisted.Store[map[int]int64]
	settings  *persisted.Store[Settings]

	purgeOnce gosync.Once

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewReader はReaderの新しいインスタンスを生成する。
// 各名前空間の永続ストアは独立しており、個別にハイドレートされる。
func NewReader(st storage.Storage, api API, logger *slog.Logger, config Config) *Reader {
	return &Reader{
		storage:   st,
		api:       api,
		logger:    logger,
		config:    config,
		lists:     persisted.NewStore(storeNameLists, map[string]PageList{}, st, logger),
		read:      persisted.NewStore(storeNameRead, map[int]int64{}, st, logger),
		collapsed: persisted.NewStore(storeNameCollapsed, map[int]int64{}, st, logger),
		settings:  persisted.NewStore(storeNameSettings, Settings{}, st, logger),
		now:       time.Now,
	}
}

// Hydrate は全名前空間ストアを並行してハイドレートする。
// 設定ストアのハイドレーション完了後、一定遅延を置いてローカルパージを
// 1回だけ実行する（変更のたびには実行せず、I/Oを抑える）。
func (r *Reader) Hydrate(ctx context.Context) {
	var wg gosync.WaitGroup
	for _, hydrate := range []func(context.Context){
		r.lists.Hydrate,
		r.read.Hydrate,
		r.collapsed.Hydrate,
	} {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(hydrate)
	}
	wg.Wait()

	r.settings.Hydrate(ctx)

	r.purgeOnce.Do(func() {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.config.PurgeDelay):
			}
			r.PruneStale(ctx)
			if err := r.PurgeLocalStorage(ctx); err != nil {
				r.logger.Warn("ローカルストレージのパージに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}()
	})
}

// GetContent は指定IDのアイテムを返す。
// ローカルの永続アイテムキャッシュに存在すればネットワーク呼び出しなしで返す。
// 無ければサーバーから取得し、ID をキーに永続化してから返す。
// 失敗時はnilを返す（UIへはエラーを投げない）。
func (r *Reader) GetContent(ctx context.Context, id int) *model.Item {
	key := itemKey(id)

	var cached model.Item
	found, err := r.storage.Get(ctx, key, &cached)
	if err != nil {
		r.logger.Warn("ローカルアイテムキャッシュの読み込みに失敗しました",
			slog.Int("item_id", id),
			slog.String("error", err.Error()),
		)
	} else if found {
		return &cached
	}

	item, err := r.api.FetchStory(ctx, id)
	if err != nil {
		r.logger.Warn("ストーリーの取得に失敗しました",
			slog.Int("item_id", id),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if item == nil {
		return nil
	}

	// 永続化失敗は取得結果の利用を妨げない
	if err := r.storage.Set(ctx, key, item); err != nil {
		r.logger.Warn("アイテムの永続化に失敗しました",
			slog.Int("item_id", id),
			slog.String("error", err.Error()),
		)
	}
	return item
}

// GetContentForPage は指定ページのストーリーサマリー一覧を返す。
// ローカルのリストキャッシュに存在すればそれを返す（サマリーのみの
// キャッシュでも有効）。無ければサーバーから完全なアイテムを取得し、
// 個別アイテムとサマリーリストの両方を永続化してからサマリーを返す。
// 失敗時はnilを返す。
func (r *Reader) GetContentForPage(ctx context.Context, page string) []model.StorySummary {
	if pl, ok := r.lists.Get()[page]; ok {
		return pl.Summaries
	}

	items, err := r.api.FetchList(ctx, page)
	if err != nil {
		r.logger.Warn("リストの取得に失敗しました",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		return nil
	}

	for _, item := range items {
		if err := r.storage.Set(ctx, itemKey(item.ID), item); err != nil {
			r.logger.Warn("アイテムの永続化に失敗しました",
				slog.Int("item_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.PersistStoryList(ctx, page, items)

	summaries := make([]model.StorySummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, model.SummaryFromItem(item))
	}
	return summaries
}

// PersistStoryList は指定ページのサマリーリストを永続化する。
// 上書きするのは、着信データの最大アイテムタイムスタンプが現在キャッシュの
// 記録タイムスタンプより真に新しい場合、またはまだ何もキャッシュされていない
// 場合のみ（遅い古いレスポンスが、先に完了した速いリフレッシュの結果を
// 上書きするのを防ぐ）。着信の空リストが非空のキャッシュを上書きすることはない。
func (r *Reader) PersistStoryList(ctx context.Context, page string, items []*model.Item) {
	maxTS := maxTimestamp(items)
	summaries := make([]model.StorySummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, model.SummaryFromItem(item))
	}

	r.lists.Update(ctx, func(m map[string]PageList) map[string]PageList {
		out := make(map[string]PageList, len(m)+1)
		for k, v := range m {
			out[k] = v
		}

		cur, ok := out[page]
		if ok {
			// 上流の一時的な空レスポンスから防御する
			if len(summaries) == 0 && len(cur.Summaries) > 0 {
				return out
			}
			if maxTS <= cur.ServerUpdate {
				return out
			}
		}

		out[page] = PageList{Summaries: summaries, ServerUpdate: maxTS}
		return out
	})
}

// MarkRead は指定IDを既読として記録する。
// 既存エントリは上書きしない（最初の訪問時刻が残り続ける）。
func (r *Reader) MarkRead(ctx context.Context, id int) {
	ts := r.now().Unix()
	r.read.Update(ctx, func(m map[int]int64) map[int]int64 {
		if _, ok := m[id]; ok {
			return m
		}
		out := make(map[int]int64, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out[id] = ts
		return out
	})
}

// IsRead は指定IDが既読かを返す。
func (r *Reader) IsRead(id int) bool {
	_, ok := r.read.Get()[id]
	return ok
}

// PruneStale は保持期間を超過した既読/折りたたみレコードを削除する。
func (r *Reader) PruneStale(ctx context.Context) {
	cutoff := r.now().Add(-r.config.ReadRetention).Unix()

	prune := func(m map[int]int64) map[int]int64 {
		out := make(map[int]int64, len(m))
		for id, ts := range m {
			if ts >= cutoff {
				out[id] = ts
			}
		}
		return out
	}

	r.read.Update(ctx, prune)
	r.collapsed.Update(ctx, prune)
}

// PurgeLocalStorage はローカルキャッシュのガベージコレクションを行う。
// 全ページリストが参照するIDと、直近に既読になったN件のIDの和集合を計算し、
// それ以外の個別アイテムキャッシュを削除する。ストレージ形式の移行で残った
// 不正な形式のキーも併せて削除する。
func (r *Reader) PurgeLocalStorage(ctx context.Context) error {
	keep := make(map[int]struct{})

	for _, pl := range r.lists.Get() {
		for _, s := range pl.Summaries {
			keep[s.ID] = struct{}{}
		}
	}
	for _, id := range r.recentlyRead(r.config.PurgeKeepRecent) {
		keep[id] = struct{}{}
	}

	keys, err := r.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("キー一覧の取得に失敗しました: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if reservedKeys[key] {
			continue
		}

		id, ok := parseItemKey(key)
		if ok {
			if _, keepIt := keep[id]; keepIt {
				continue
			}
		}
		// 保持対象外のアイテム、または不正な形式のキー
		if err := r.storage.Remove(ctx, key); err != nil {
			r.logger.Warn("キーの削除に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	r.logger.Info("ローカルストレージのパージが完了しました",
		slog.Int("kept_count", len(keep)),
		slog.Int("removed_count", removed),
	)
	return nil
}

// Settings は現在のUI設定を返す。
func (r *Reader) Settings() Settings {
	return r.settings.Get()
}

// UpdateSettings はUI設定を更新する。
func (r *Reader) UpdateSettings(ctx context.Context, fn func(Settings) Settings) {
	r.settings.Update(ctx, fn)
}

// recentlyRead は既読タイムスタンプの新しい順に最大n件のIDを返す。
func (r *Reader) recentlyRead(n int) []int {
	read := r.read.Get()

	ids := make([]int, 0, len(read))
	for id := range read {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if read[ids[i]] != read[ids[j]] {
			return read[ids[i]] > read[ids[j]]
		}
		return ids[i] > ids[j]
	})

	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// itemKey は個別アイテムのストレージキーを返す。
func itemKey(id int) string {
	return itemKeyPrefix + strconv.Itoa(id)
}

// parseItemKey はストレージキーからアイテムIDを取り出す。
// アイテムキーの形式でない場合は(0, false)を返す。
func parseItemKey(key string) (int, bool) {
	if !strings.HasPrefix(key, itemKeyPrefix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(key, itemKeyPrefix))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// maxTimestamp はアイテム配列の最大LastUpdatedを返す。空配列は0を返す。
func maxTimestamp(items []*model.Item) int64 {
	var max int64
	for _, item := range items {
		if item.LastUpdated > max {
			max = item.LastUpdated
		}
	}
	return max
}
