package persisted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/hnreader/internal/client/storage"
)

// mockStorage はインメモリのStorage実装。各操作を関数フィールドで差し替え可能。
type mockStorage struct {
	getFunc    func(ctx context.Context, key string, out any) (bool, error)
	setFunc    func(ctx context.Context, key string, value any) error
	removeFunc func(ctx context.Context, key string) error
	keysFunc   func(ctx context.Context) ([]string, error)

	mu       sync.Mutex
	setCalls int
}

var _ storage.Storage = (*mockStorage)(nil)

func (m *mockStorage) Get(ctx context.Context, key string, out any) (bool, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, key, out)
	}
	return false, nil
}

func (m *mockStorage) Set(ctx context.Context, key string, value any) error {
	m.mu.Lock()
	m.setCalls++
	m.mu.Unlock()
	if m.setFunc != nil {
		return m.setFunc(ctx, key, value)
	}
	return nil
}

func (m *mockStorage) Remove(ctx context.Context, key string) error {
	if m.removeFunc != nil {
		return m.removeFunc(ctx, key)
	}
	return nil
}

func (m *mockStorage) Keys(ctx context.Context) ([]string, error) {
	if m.keysFunc != nil {
		return m.keysFunc(ctx)
	}
	return nil, nil
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// encodeInto はGetのoutへ値をJSON経由で書き込むヘルパー。
func encodeInto(t *testing.T, value, out any) {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func TestUpdate_BeforeHydrationAppliesInMemory(t *testing.T) {
	s := NewStore("counters", map[string]int{}, &mockStorage{}, newTestLogger())

	s.Update(context.Background(), func(v map[string]int) map[string]int {
		v["a"] = 1
		return v
	})

	if got := s.Get()["a"]; got != 1 {
		t.Errorf("ハイドレーション前のUpdateがインメモリ値へ反映されていない: %d", got)
	}
	if s.Hydrated() {
		t.Error("Hydrate前にHydrated() = true")
	}
}

// TestHydrate_ReplaysQueuedMutationsOntoLoadedValue はロードが遅く、
// その間に複数の変更が積まれた場合でも、読み込んだ値の上へ変更が
// 呼び出し順に再生されることを確認する（インメモリ状態での上書き禁止）。
func TestHydrate_ReplaysQueuedMutationsOntoLoadedValue(t *testing.T) {
	st := &mockStorage{
		getFunc: func(_ context.Context, _ string, out any) (bool, error) {
			// 永続側には起動前から存在していた値がある
			encodeInto(t, map[string]int{"persisted": 100}, out)
			return true, nil
		},
	}
	s := NewStore("counters", map[string]int{}, st, newTestLogger())
	ctx := context.Background()

	// ハイドレーション前の変更を2件積む
	s.Update(ctx, func(v map[string]int) map[string]int {
		v["a"] = 1
		return v
	})
	s.Update(ctx, func(v map[string]int) map[string]int {
		v["a"] = v["a"] + 10
		return v
	})

	s.Hydrate(ctx)

	got := s.Get()
	if got["persisted"] != 100 {
		t.Errorf("読み込んだ値が失われている: %v", got)
	}
	if got["a"] != 11 {
		t.Errorf("キューの再生順が保存されていない: a = %d, want 11", got["a"])
	}
	if !s.Hydrated() {
		t.Error("Hydrate後にHydrated() = false")
	}
}

func TestHydrate_KeepsMutationIssuedDuringSlowLoad(t *testing.T) {
	loadStarted := make(chan struct{})
	release := make(chan struct{})
	st := &mockStorage{
		getFunc: func(_ context.Context, _ string, out any) (bool, error) {
			close(loadStarted)
			<-release // 遅いストレージを模倣
			encodeInto(t, []int{1}, out)
			return true, nil
		},
	}
	s := NewStore[[]int]("reads", nil, st, newTestLogger())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Hydrate(ctx)
	}()

	// ロードがブロックしている間に変更を発行する
	<-loadStarted
	s.Update(ctx, func(v []int) []int {
		return append(v, 2)
	})
	close(release)
	<-done

	got := s.Get()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("ロード中に発行した変更が失われた: %v, want [1 2]", got)
	}
	if !s.Hydrated() {
		t.Error("Hydrate後にHydrated() = false")
	}
}

func TestHydrate_NoPersistedValueKeepsQueuedState(t *testing.T) {
	st := &mockStorage{}
	s := NewStore("settings", map[string]int{"initial": 1}, st, newTestLogger())
	ctx := context.Background()

	s.Update(ctx, func(v map[string]int) map[string]int {
		v["early"] = 2
		return v
	})

	s.Hydrate(ctx)

	got := s.Get()
	if got["initial"] != 1 || got["early"] != 2 {
		t.Errorf("永続値なしの場合はキュー適用済み初期値が正となるべき: %v", got)
	}
	if st.setCalls == 0 {
		t.Error("ハイドレーション完了時に現在値が永続化されていない")
	}
}

func TestHydrate_IsIdempotent(t *testing.T) {
	st := &mockStorage{}
	s := NewStore("settings", 0, st, newTestLogger())
	ctx := context.Background()

	s.Hydrate(ctx)
	callsAfterFirst := st.setCalls
	s.Hydrate(ctx)

	if st.setCalls != callsAfterFirst {
		t.Error("2回目のHydrateで再読み込み・再永続化が発生した")
	}
}

func TestUpdate_AfterHydrationPersists(t *testing.T) {
	st := &mockStorage{}
	s := NewStore("settings", 0, st, newTestLogger())
	ctx := context.Background()
	s.Hydrate(ctx)

	callsBefore := st.setCalls
	s.Update(ctx, func(v int) int { return v + 1 })

	if s.Get() != 1 {
		t.Errorf("Get() = %d, want 1", s.Get())
	}
	if st.setCalls != callsBefore+1 {
		t.Errorf("setCalls = %d, want %d", st.setCalls, callsBefore+1)
	}
}

// TestPersist_RetriesWithBackoffThenGivesUp は永続化が3回で打ち切られ、
// インメモリ値は有効なまま保留フラグが立つことを確認する。
func TestPersist_RetriesWithBackoffThenGivesUp(t *testing.T) {
	st := &mockStorage{
		setFunc: func(_ context.Context, _ string, _ any) error {
			return errors.New("disk full")
		},
	}
	s := NewStore("settings", 0, st, newTestLogger())

	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	ctx := context.Background()
	s.Hydrate(ctx) // 永続値なし → 初回persistで3回失敗
	callsAfterHydrate := st.setCalls

	if callsAfterHydrate != 3 {
		t.Errorf("setCalls = %d, want 3", callsAfterHydrate)
	}
	if len(slept) != 2 || slept[0] != 250*time.Millisecond || slept[1] != 500*time.Millisecond {
		t.Errorf("バックオフ列 = %v, want [250ms 500ms]", slept)
	}
	if !s.PersistPending() {
		t.Error("リトライ枯渇後にPersistPending() = false")
	}

	s.Update(ctx, func(v int) int { return v + 1 })
	if s.Get() != 1 {
		t.Error("永続化失敗後もインメモリ値は有効でなければならない")
	}
}

func TestPersist_PendingClearsOnNextSuccess(t *testing.T) {
	fail := true
	st := &mockStorage{}
	st.setFunc = func(_ context.Context, _ string, _ any) error {
		if fail {
			return errors.New("transient")
		}
		return nil
	}
	s := NewStore("settings", 0, st, newTestLogger())
	s.sleep = func(time.Duration) {}
	ctx := context.Background()

	s.Hydrate(ctx)
	if !s.PersistPending() {
		t.Fatal("前提: 永続化保留になっていない")
	}

	fail = false
	s.Update(ctx, func(v int) int { return v + 1 })

	if s.PersistPending() {
		t.Error("永続化成功後もPersistPending() = true")
	}
}
