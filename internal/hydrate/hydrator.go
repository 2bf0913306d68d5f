// Package hydrate はアイテムのコメントサブツリーを完全に実体化する
// ハイドレーション処理を提供する。幅優先の明示的フロンティアで走査するため、
// 呼び出しスタックの深さはノード数ではなくツリーの深さに比例する。
package hydrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/hnreader/internal/model"
)

// maxRootHops は親リンク遡行のホップ数上限（サーキットブレーカー）。
const maxRootHops = 1000

// defaultConcurrency は1レベル内の子取得の最大並列数。
const defaultConcurrency = 10

// ItemStore はハイドレーターが必要とするストア操作のインターフェース。
type ItemStore interface {
	// Get は指定IDのアイテムを返す。未格納または古い場合はnilを返す。
	Get(id int) *model.Item
	// Put はアイテムを格納する。
	Put(item *model.Item)
}

// ItemFetcher は上流からのアイテム取得インターフェース。
type ItemFetcher interface {
	// FetchItem は指定IDのアイテムを取得する。上流に存在しない場合は(nil, nil)を返す。
	FetchItem(ctx context.Context, id int) (*model.Item, error)
}

// TreeHydrator はアイテムの子IDリストを子オブジェクトへ再帰的に解決する。
// ストア優先・ネットワークフォールバックで取得し、新規取得ノードは
// 全てストアへ書き戻す。
type TreeHydrator struct {
	store       ItemStore
	fetcher     ItemFetcher
	logger      *slog.Logger
	concurrency int
}

// NewTreeHydrator はTreeHydratorの新しいインスタンスを生成する。
// concurrencyが0以下の場合はデフォルト値10を使用する。
func NewTreeHydrator(store ItemStore, fetcher ItemFetcher, logger *slog.Logger, concurrency int) *TreeHydrator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &TreeHydrator{
		store:       store,
		fetcher:     fetcher,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Resolve は指定IDのアイテムを、到達可能な全ての子孫を実体化した状態で返す。
// 幅優先: 子解決が必要なアイテムのフロンティアを維持し、レベルごとに
// 子を並列取得してKidsObjへ付け替え、未解決の子を次のフロンティアへ積む。
// 解決に失敗した子はサブツリー全体を中断せず実体化配列から落とす
// （部分的なツリーを全体の失敗より優先する）。
// 解決済みアイテムに対する呼び出しは冪等。
//
// 返されるツリーは呼び出し元専有のコピーで構築する。ストア格納済みの
// アイテムをその場で書き換えると、同一アイテムを並行して配信中の
// リーダーが構築途中のノードを観測してしまうため、公開済みアイテムには
// 一切書き込まない。
func (h *TreeHydrator) Resolve(ctx context.Context, id int) (*model.Item, error) {
	root := h.lookup(ctx, id)
	if root == nil {
		return nil, fmt.Errorf("アイテムの解決に失敗しました (id=%d)", id)
	}

	frontier := []*model.Item{root}
	for len(frontier) > 0 {
		var next []*model.Item

		for _, item := range frontier {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if len(item.Kids) > 0 {
				item.KidsObj = h.resolveChildren(ctx, item.Kids)
				item.Kids = nil
			}

			// 既に実体化済みの子も含め、未解決の子IDを持つものを次レベルへ
			for _, kid := range item.KidsObj {
				if len(kid.Kids) > 0 || len(kid.KidsObj) > 0 {
					next = append(next, kid)
				}
			}
		}

		frontier = next
	}

	return root, nil
}

// ResolveRootID は親リンクを遡ってトップレベルアイテムのIDを返す。
// 訪問済み集合でサイクルを検知し、ホップ数上限で打ち切る。
// いずれの場合も最後に到達したIDをベストエフォートで返す（エラーにしない）。
func (h *TreeHydrator) ResolveRootID(ctx context.Context, id int) int {
	visited := make(map[int]bool)
	cur := id

	for hops := 0; hops < maxRootHops; hops++ {
		visited[cur] = true

		item := h.lookup(ctx, cur)
		if item == nil || item.Parent == 0 {
			return cur
		}
		if visited[item.Parent] {
			h.logger.Warn("親リンクの遡行でサイクルを検知しました",
				slog.Int("start_id", id),
				slog.Int("cycle_id", item.Parent),
			)
			return cur
		}
		cur = item.Parent
	}

	h.logger.Warn("親リンクの遡行がホップ数上限に達しました",
		slog.Int("start_id", id),
		slog.Int("max_hops", maxRootHops),
	)
	return cur
}

// resolveChildren は子IDリストを並列に解決し、元の順序を保った配列を返す。
// 解決できなかった子は配列から除外する。
func (h *TreeHydrator) resolveChildren(ctx context.Context, ids []int) []*model.Item {
	results := make([]*model.Item, len(ids))

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, h.concurrency)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(idx, childID int) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			results[idx] = h.lookup(ctx, childID)
		}(i, id)
	}

	wg.Wait()

	resolved := make([]*model.Item, 0, len(ids))
	for _, item := range results {
		if item != nil {
			resolved = append(resolved, item)
		}
	}
	return resolved
}

// lookup はストア優先・ネットワークフォールバックでアイテムを取得する。
// 新規取得したアイテムはストアへ書き戻す。取得できない場合はnilを返す。
// ストアに残るアイテムは生のままに保ち、呼び出し元には常にコピーを返す。
func (h *TreeHydrator) lookup(ctx context.Context, id int) *model.Item {
	if cached := h.store.Get(id); cached != nil {
		return cloneItem(cached)
	}

	item, err := h.fetcher.FetchItem(ctx, id)
	if err != nil {
		h.logger.Warn("子アイテムの取得に失敗したため実体化配列から除外します",
			slog.Int("item_id", id),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if item == nil {
		// 上流に存在しない（削除済み等）。エラーではない。
		return nil
	}

	h.store.Put(item)
	return cloneItem(item)
}

// cloneItem はアイテムの専有コピーを返す。Kidsスライスと実体化済みの
// 子孫も再帰的に複製し、元のアイテムとメモリを共有しない。
func cloneItem(src *model.Item) *model.Item {
	dst := *src
	if len(src.Kids) > 0 {
		dst.Kids = append([]int(nil), src.Kids...)
	}
	if len(src.KidsObj) > 0 {
		kids := make([]*model.Item, len(src.KidsObj))
		for i, kid := range src.KidsObj {
			kids[i] = cloneItem(kid)
		}
		dst.KidsObj = kids
	}
	return &dst
}
