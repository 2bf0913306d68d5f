// Package refresh はトップストーリーリストの定期リフレッシュ処理を提供する。
// スケジューラ、リストごとのカデンス制御、ストアのガベージコレクションを含む。
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hnreader/internal/cache"
	"github.com/hitoshi/hnreader/internal/model"
)

// リストごとのリフレッシュカデンス（ティックカウンターの剰余）。
// 基本ティックは10分間隔を想定しており、dayは1時間ごと、weekは6時間ごと、
// monthの整理パスは24時間ごとに実行される。
const (
	dayCadence   = 6
	weekCadence  = 36
	monthCadence = 144
)

// ListStore はスケジューラが必要とするストア操作のインターフェース。
type ListStore interface {
	// GetList は指定名のリストを返す。未格納の場合はnilを返す。
	GetList(name model.ListName) *model.TopStoryList
	// PutList はリストを格納する。
	PutList(name model.ListName, list *model.TopStoryList)
	// Purge はkeepに含まれないアイテムを削除し、削除件数を返す。
	Purge(keep map[int]struct{}) int
	// Snapshot はストア全体をディスクへ書き出す。
	Snapshot() error
}

// IDFetcher は上流からのIDリスト取得インターフェース。
type IDFetcher interface {
	// FetchIDs は指定リストのアイテムIDを取得する。
	FetchIDs(ctx context.Context, name model.ListName) ([]int, error)
}

// Hydrator はアイテムツリーの実体化インターフェース。
type Hydrator interface {
	// Resolve は指定IDのアイテムを全子孫実体化済みで返す。
	Resolve(ctx context.Context, id int) (*model.Item, error)
}

// MetricsRecorder はリフレッシュサイクルのメトリクス記録インターフェース。
// nilの場合は記録しない。
type MetricsRecorder interface {
	RecordRefreshSuccess(list string)
	RecordRefreshFailure(list string)
	RecordRefreshLatency(list string, duration time.Duration)
	RecordPurgedItems(count int)
}

// Scheduler はトップストーリーリストの定期リフレッシュと
// ストアのガベージコレクションを行う。
// ティックごとに内部カウンターを進め、リストごとのカデンスに従って
// リフレッシュ対象を決定する。topstoriesは毎ティック無条件に更新される。
type Scheduler struct {
	store     ListStore
	fetcher   IDFetcher
	hydrator  Hydrator
	respCache *cache.ResponseCache
	logger    *slog.Logger
	metrics   MetricsRecorder

	counter int

	// inFlight はリストごとの排他。前回のリフレッシュが書き込み中の
	// リストを次のティックが重ねて更新しないようにする。
	inFlight map[model.ListName]*sync.Mutex

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	store ListStore,
	fetcher IDFetcher,
	hydrator Hydrator,
	respCache *cache.ResponseCache,
	logger *slog.Logger,
	metrics MetricsRecorder,
) *Scheduler {
	inFlight := make(map[model.ListName]*sync.Mutex)
	for _, name := range model.ServedLists {
		inFlight[name] = &sync.Mutex{}
	}
	return &Scheduler{
		store:     store,
		fetcher:   fetcher,
		hydrator:  hydrator,
		respCache: respCache,
		logger:    logger,
		metrics:   metrics,
		inFlight:  inFlight,
		now:       time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
// テストはStartを経由せずRunTickを直接呼び出して駆動できる。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リフレッシュスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.RunTick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リフレッシュスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunTick(ctx)
		}
	}
}

// RunTick は1ティック分のリフレッシュを実行する。
// カウンター値に応じて対象リストを決定し、リストごとに並行してリフレッシュする。
// monthのカデンスではリスト取得ではなくストアのガベージコレクションを行い、
// カウンターを1にリセットする。ティックの最後にスナップショットを書き出す。
func (s *Scheduler) RunTick(ctx context.Context) {
	c := s.counter
	start := s.now()

	targets := []model.ListName{model.ListTop}
	if c%dayCadence == 0 {
		targets = append(targets, model.ListDay)
	}
	if c%weekCadence == 0 {
		targets = append(targets, model.ListWeek)
	}

	s.logger.Info("リフレッシュティックを開始します",
		slog.Int("counter", c),
		slog.Int("target_count", len(targets)),
	)

	var wg sync.WaitGroup
	for _, name := range targets {
		wg.Add(1)
		go func(n model.ListName) {
			defer wg.Done()
			s.refreshList(ctx, n)
		}(name)
	}
	wg.Wait()

	if c%monthCadence == 0 {
		s.runGC()
		s.counter = 1
	} else {
		s.counter = c + 1
	}

	if err := s.store.Snapshot(); err != nil {
		s.logger.Error("スナップショットの書き出しに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("リフレッシュティックが完了しました",
		slog.Int("counter", c),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
}

// Counter は現在のティックカウンター値を返す。テストおよびメトリクス用。
func (s *Scheduler) Counter() int {
	return s.counter
}

// refreshList は1リストのリフレッシュを実行する。
// 新しいIDリストを取得し、各IDのツリーを実体化してレスポンスキャッシュを
// 差し替える。1リストの失敗が他リストのリフレッシュを中断することはない。
func (s *Scheduler) refreshList(ctx context.Context, name model.ListName) {
	mu, ok := s.inFlight[name]
	if !ok {
		return
	}
	// 前回のリフレッシュが未完了の場合はこのティックをスキップ
	if !mu.TryLock() {
		s.logger.Warn("前回のリフレッシュが未完了のためスキップします",
			slog.String("list", string(name)),
		)
		return
	}
	defer mu.Unlock()

	start := s.now()

	ids, err := s.fetcher.FetchIDs(ctx, name)
	if err != nil {
		s.logger.Error("IDリストの取得に失敗しました",
			slog.String("list", string(name)),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.RecordRefreshFailure(string(name))
		}
		return
	}

	hydrated := make([]*model.Item, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		item, err := s.hydrator.Resolve(ctx, id)
		if err != nil {
			s.logger.Warn("ツリーの実体化に失敗したためリストから除外します",
				slog.String("list", string(name)),
				slog.Int("item_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		hydrated = append(hydrated, item)
	}

	s.store.PutList(name, &model.TopStoryList{
		Name:        name,
		IDs:         ids,
		LastUpdated: s.now().Unix(),
	})

	// 配列全体のアトミックな差し替え。読み取り側は常に完全なリストを見る。
	s.respCache.Set(name, hydrated)

	duration := s.now().Sub(start)
	if s.metrics != nil {
		s.metrics.RecordRefreshSuccess(string(name))
		s.metrics.RecordRefreshLatency(string(name), duration)
	}

	s.logger.Info("リストのリフレッシュが完了しました",
		slog.String("list", string(name)),
		slog.Int("id_count", len(ids)),
		slog.Int("hydrated_count", len(hydrated)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// runGC は現在キャッシュされている全リストから参照されるIDの和集合を計算し、
// それ以外のアイテムをストアから削除する。配信用のリスト取得は行わない
// （リクエスト処理から切り離された純粋なガベージコレクショントリガー）。
func (s *Scheduler) runGC() {
	keep := make(map[int]struct{})

	// リストレコードが直接参照するID。月次リストは配信対象外だが
	// GC専用のレコードとして保持されるため含める。
	for _, name := range append(append([]model.ListName(nil), model.ServedLists...), model.ListMonth) {
		if list := s.store.GetList(name); list != nil {
			for _, id := range list.IDs {
				keep[id] = struct{}{}
			}
		}
	}

	// レスポンスキャッシュのツリーが参照する全ノード（子孫含む）
	for _, name := range s.respCache.Names() {
		collectIDs(s.respCache.Get(name), keep)
	}

	removed := s.store.Purge(keep)
	if s.metrics != nil {
		s.metrics.RecordPurgedItems(removed)
	}

	s.logger.Info("ストアのガベージコレクションが完了しました",
		slog.Int("kept_count", len(keep)),
		slog.Int("removed_count", removed),
	)
}

// collectIDs はアイテム配列の全子孫IDをkeepへ追加する。
// 幅優先でKidsObjとKidsの両方を辿る。
func collectIDs(items []*model.Item, keep map[int]struct{}) {
	frontier := items
	for len(frontier) > 0 {
		var next []*model.Item
		for _, item := range frontier {
			if item == nil {
				continue
			}
			keep[item.ID] = struct{}{}
			for _, id := range item.Kids {
				keep[id] = struct{}{}
			}
			next = append(next, item.KidsObj...)
		}
		frontier = next
	}
}
