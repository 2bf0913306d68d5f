package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	gosync "sync"
	"testing"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// memStorage はテスト用のインメモリStorage実装。
type memStorage struct {
	mu   gosync.Mutex
	data map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Get(_ context.Context, key string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (m *memStorage) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStorage) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *memStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// mockAPI はテスト用のAPI実装。
type mockAPI struct {
	fetchStoryFunc func(ctx context.Context, id int) (*model.Item, error)
	fetchListFunc  func(ctx context.Context, page string) ([]*model.Item, error)

	mu         gosync.Mutex
	storyCalls int
	listCalls  int
}

func (a *mockAPI) FetchStory(ctx context.Context, id int) (*model.Item, error) {
	a.mu.Lock()
	a.storyCalls++
	a.mu.Unlock()
	if a.fetchStoryFunc != nil {
		return a.fetchStoryFunc(ctx, id)
	}
	return nil, nil
}

func (a *mockAPI) FetchList(ctx context.Context, page string) ([]*model.Item, error) {
	a.mu.Lock()
	a.listCalls++
	a.mu.Unlock()
	if a.fetchListFunc != nil {
		return a.fetchListFunc(ctx, page)
	}
	return nil, nil
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// newTestReader はハイドレート済みのReaderを生成する。
// 自動パージが走らないようPurgeDelayを十分長く取る。
func newTestReader(t *testing.T, st *memStorage, api API) *Reader {
	t.Helper()
	config := DefaultConfig()
	config.PurgeDelay = time.Hour
	r := NewReader(st, api, newTestLogger(), config)
	r.Hydrate(context.Background())
	return r
}

func TestGetContent_LocalCacheSkipsNetwork(t *testing.T) {
	st := newMemStorage()
	api := &mockAPI{}
	r := newTestReader(t, st, api)
	ctx := context.Background()

	cached := &model.Item{ID: 7, Type: model.ItemTypeStory, Title: "cached"}
	if err := st.Set(ctx, "item:7", cached); err != nil {
		t.Fatal(err)
	}

	got := r.GetContent(ctx, 7)
	if got == nil || got.Title != "cached" {
		t.Fatalf("got = %+v, want cached item", got)
	}
	if api.storyCalls != 0 {
		t.Errorf("ローカルヒット時にネットワーク呼び出しが発生した: %d", api.storyCalls)
	}
}

func TestGetContent_FetchesAndPersistsOnMiss(t *testing.T) {
	st := newMemStorage()
	api := &mockAPI{
		fetchStoryFunc: func(_ context.Context, id int) (*model.Item, error) {
			return &model.Item{ID: id, Type: model.ItemTypeStory, Title: "fresh"}, nil
		},
	}
	r := newTestReader(t, st, api)
	ctx := context.Background()

	got := r.GetContent(ctx, 9)
	if got == nil || got.Title != "fresh" {
		t.Fatalf("got = %+v, want fetched item", got)
	}
	if !st.has("item:9") {
		t.Error("取得したアイテムが永続化されていない")
	}
}

func TestGetContent_ServerMissReturnsNil(t *testing.T) {
	r := newTestReader(t, newMemStorage(), &mockAPI{})

	if got := r.GetContent(context.Background(), 999); got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestGetContentForPage_CachedSummaries(t *testing.T) {
	st := newMemStorage()
	api := &mockAPI{}
	r := newTestReader(t, st, api)
	ctx := context.Background()

	r.PersistStoryList(ctx, "top", []*model.Item{
		{ID: 1, Type: model.ItemTypeStory, Title: "one", LastUpdated: 100},
	})

	summaries := r.GetContentForPage(ctx, "top")
	if len(summaries) != 1 || summaries[0].ID != 1 {
		t.Fatalf("summaries = %+v", summaries)
	}
	if api.listCalls != 0 {
		t.Errorf("キャッシュ済みページでネットワーク呼び出しが発生した: %d", api.listCalls)
	}
}

func TestGetContentForPage_FetchPersistsItemsAndList(t *testing.T) {
	st := newMemStorage()
	api := &mockAPI{
		fetchListFunc: func(_ context.Context, _ string) ([]*model.Item, error) {
			return []*model.Item{
				{ID: 1, Type: model.ItemTypeStory, Title: "one", LastUpdated: 100},
				{ID: 2, Type: model.ItemTypeStory, Title: "two", LastUpdated: 110},
			}, nil
		},
	}
	r := newTestReader(t, st, api)
	ctx := context.Background()

	summaries := r.GetContentForPage(ctx, "top")
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}
	if !st.has("item:1") || !st.has("item:2") {
		t.Error("個別アイテムが永続化されていない")
	}

	// 2回目はキャッシュから返る
	r.GetContentForPage(ctx, "top")
	if api.listCalls != 1 {
		t.Errorf("listCalls = %d, want 1", api.listCalls)
	}
}

// TestPersistStoryList_TimestampGuard は遅い古いレスポンスが
// 先に完了した新しいリフレッシュの結果を上書きしないことを確認する。
func TestPersistStoryList_TimestampGuard(t *testing.T) {
	r := newTestReader(t, newMemStorage(), &mockAPI{})
	ctx := context.Background()

	r.PersistStoryList(ctx, "top", []*model.Item{
		{ID: 1, Type: model.ItemTypeStory, Title: "newer", LastUpdated: 100},
	})

	// 最大タイムスタンプ90の古いデータは無視される
	r.PersistStoryList(ctx, "top", []*model.Item{
		{ID: 2, Type: model.ItemTypeStory, Title: "stale", LastUpdated: 90},
	})
	if got := r.lists.Get()["top"]; got.Summaries[0].ID != 1 {
		t.Errorf("古いデータがキャッシュを上書きした: %+v", got)
	}

	// 等しいタイムスタンプも上書きしない（真に新しい場合のみ）
	r.PersistStoryList(ctx, "top", []*model.Item{
		{ID: 3, Type: model.ItemTypeStory, Title: "equal", LastUpdated: 100},
	})
	if got := r.lists.Get()["top"]; got.Summaries[0].ID != 1 {
		t.Errorf("同時刻のデータがキャッシュを上書きした: %+v", got)
	}

	// 最大タイムスタンプ150の新しいデータは上書きする
	r.PersistStoryList(ctx, "top", []*model.Item{
		{ID: 4, Type: model.ItemTypeStory, Title: "fresher", LastUpdated: 150},
	})
	got := r.lists.Get()["top"]
	if got.Summaries[0].ID != 4 || got.ServerUpdate != 150 {
		t.Errorf("新しいデータがキャッシュを上書きしていない: %+v", got)
	}
}

func TestPersistStoryList_EmptyNeverClobbersNonEmpty(t *testing.T) {
	r := newTestReader(t, newMemStorage(), &mockAPI{})
	ctx := context.Background()

	r.PersistStoryList(ctx, "top", []*model.Item{
		{ID: 1, Type: model.ItemTypeStory, LastUpdated: 100},
	})
	r.PersistStoryList(ctx, "top", nil)

	if got := r.lists.Get()["top"]; len(got.Summaries) != 1 {
		t.Errorf("空リストが非空キャッシュを上書きした: %+v", got)
	}
}

func TestPersistStoryList_OrderIndependence(t *testing.T) {
	newer := []*model.Item{{ID: 1, Type: model.ItemTypeStory, Title: "newer", LastUpdated: 200}}
	older := []*model.Item{{ID: 2, Type: model.ItemTypeStory, Title: "older", LastUpdated: 100}}

	// どちらの到着順でも最終状態は新しい方になる
	for name, order := range map[string][][]*model.Item{
		"古→新": {older, newer},
		"新→古": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			r := newTestReader(t, newMemStorage(), &mockAPI{})
			ctx := context.Background()
			for _, items := range order {
				r.PersistStoryList(ctx, "top", items)
			}
			got := r.lists.Get()["top"]
			if got.ServerUpdate != 200 || got.Summaries[0].ID != 1 {
				t.Errorf("最終状態 = %+v, want newer", got)
			}
		})
	}
}

func TestMarkRead_FirstTimestampWins(t *testing.T) {
	r := newTestReader(t, newMemStorage(), &mockAPI{})
	ctx := context.Background()

	r.now = func() time.Time { return time.Unix(1000, 0) }
	r.MarkRead(ctx, 5)

	r.now = func() time.Time { return time.Unix(2000, 0) }
	r.MarkRead(ctx, 5)

	if !r.IsRead(5) {
		t.Fatal("IsRead(5) = false")
	}
	if ts := r.read.Get()[5]; ts != 1000 {
		t.Errorf("既読タイムスタンプ = %d, want 1000 (最初の訪問時刻を維持)", ts)
	}
}

func TestPruneStale_RemovesExpiredRecords(t *testing.T) {
	r := newTestReader(t, newMemStorage(), &mockAPI{})
	ctx := context.Background()

	base := time.Unix(10_000_000, 0)

	// 8日前の既読と1日前の既読
	r.now = func() time.Time { return base.Add(-8 * 24 * time.Hour) }
	r.MarkRead(ctx, 1)
	r.now = func() time.Time { return base.Add(-24 * time.Hour) }
	r.MarkRead(ctx, 2)

	r.now = func() time.Time { return base }
	r.PruneStale(ctx)

	if r.IsRead(1) {
		t.Error("保持期間超過の既読レコードが削除されていない")
	}
	if !r.IsRead(2) {
		t.Error("保持期間内の既読レコードが削除された")
	}
}

// TestPurgeLocalStorage_KeepsListReferencedAndRecentlyRead はパージの
// 保持集合がページリスト参照IDと直近既読N件の和集合であることを確認する。
func TestPurgeLocalStorage_KeepsListReferencedAndRecentlyRead(t *testing.T) {
	st := newMemStorage()
	api := &mockAPI{}
	config := DefaultConfig()
	config.PurgeDelay = time.Hour
	config.PurgeKeepRecent = 2
	r := NewReader(st, api, newTestLogger(), config)
	ctx := context.Background()
	r.Hydrate(ctx)

	// リストが参照するアイテム1、既読のみのアイテム2〜4、孤立アイテム5
	for id := 1; id <= 5; id++ {
		if err := st.Set(ctx, itemKey(id), &model.Item{ID: id, Type: model.ItemTypeStory}); err != nil {
			t.Fatal(err)
		}
	}
	r.PersistStoryList(ctx, "top", []*model.Item{
		{ID: 1, Type: model.ItemTypeStory, LastUpdated: 100},
	})
	for i, id := range []int{2, 3, 4} {
		ts := time.Unix(int64(1000+i), 0)
		r.now = func() time.Time { return ts }
		r.MarkRead(ctx, id)
	}

	if err := r.PurgeLocalStorage(ctx); err != nil {
		t.Fatalf("PurgeLocalStorage() error = %v", err)
	}

	// 保持: リスト参照の1 + 直近既読2件(4, 3)。アイテム2と5は削除。
	for _, id := range []int{1, 3, 4} {
		if !st.has(itemKey(id)) {
			t.Errorf("保持対象のアイテム%dが削除された", id)
		}
	}
	for _, id := range []int{2, 5} {
		if st.has(itemKey(id)) {
			t.Errorf("保持対象外のアイテム%dが削除されていない", id)
		}
	}
}

func TestPurgeLocalStorage_PreservesNamespacesAndRemovesMalformedKeys(t *testing.T) {
	st := newMemStorage()
	r := newTestReader(t, newMemStorage(), &mockAPI{})
	r.storage = st
	ctx := context.Background()

	// 名前空間キーと不正な形式のキーを混在させる
	if err := st.Set(ctx, storeNameRead, map[int]int64{1: 100}); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "item:not-a-number", "junk"); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "legacy-cache-entry", "junk"); err != nil {
		t.Fatal(err)
	}

	if err := r.PurgeLocalStorage(ctx); err != nil {
		t.Fatalf("PurgeLocalStorage() error = %v", err)
	}

	if !st.has(storeNameRead) {
		t.Error("名前空間キーが削除された")
	}
	if st.has("item:not-a-number") || st.has("legacy-cache-entry") {
		t.Error("不正な形式のキーが削除されていない")
	}
}

func TestSettings_UpdateRoundtrip(t *testing.T) {
	r := newTestReader(t, newMemStorage(), &mockAPI{})
	ctx := context.Background()

	r.UpdateSettings(ctx, func(s Settings) Settings {
		s.Theme = "dark"
		s.ShowDead = true
		return s
	})

	got := r.Settings()
	if got.Theme != "dark" || !got.ShowDead {
		t.Errorf("Settings() = %+v", got)
	}
}
