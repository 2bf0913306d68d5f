package sync

import (
	"context"

	"github.com/hitoshi/hnreader/internal/model"
)

// コメントの表示状態はコメントIDごとの open（デフォルト）/ closed の2状態。
// closed のコメントIDだけを折りたたみタイムスタンプマップに保持し、
// open へ戻すとエントリを削除する。

// Collapse は指定コメントを折りたたみ、ビューポートのアンカーとすべき
// 近傍コメントのIDを返す。サブツリーを折りたたんでも表示位置が先頭へ
// 飛ばないよう、深さ優先で次の折りたたまれていないコメントを選ぶ:
// 次の未折りたたみ兄弟、無ければその最初の未折りたたみ子孫、
// 無ければ親の次の兄弟へ遡る。どこにも無ければルートIDを返す。
func (r *Reader) Collapse(ctx context.Context, root *model.Item, id int) int {
	ts := r.now().Unix()
	r.collapsed.Update(ctx, func(m map[int]int64) map[int]int64 {
		out := make(map[int]int64, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out[id] = ts
		return out
	})

	return r.nextAnchor(root, id)
}

// Expand は指定コメントを展開する（折りたたみエントリを削除する）。
func (r *Reader) Expand(ctx context.Context, id int) {
	r.collapsed.Update(ctx, func(m map[int]int64) map[int]int64 {
		if _, ok := m[id]; !ok {
			return m
		}
		out := make(map[int]int64, len(m))
		for k, v := range m {
			if k != id {
				out[k] = v
			}
		}
		return out
	})
}

// IsCollapsed は指定コメントが折りたたまれているかを返す。
func (r *Reader) IsCollapsed(id int) bool {
	_, ok := r.collapsed.Get()[id]
	return ok
}

// nextAnchor はidの次にビューポートを合わせるべきコメントIDを計算する。
func (r *Reader) nextAnchor(root *model.Item, id int) int {
	parents := buildParentIndex(root)

	cur := id
	for {
		parent, ok := parents[cur]
		if !ok {
			return root.ID
		}

		// curの後ろの兄弟から深さ優先で可視コメントを探す
		idx := -1
		for i, sib := range parent.KidsObj {
			if sib.ID == cur {
				idx = i
				break
			}
		}
		if idx >= 0 {
			for _, sib := range parent.KidsObj[idx+1:] {
				if anchor := r.firstVisible(sib); anchor != 0 {
					return anchor
				}
			}
		}

		// 兄弟に可視コメントが無い場合は親の次の兄弟へ遡る
		cur = parent.ID
	}
}

// firstVisible はノードとその子孫から深さ優先で最初の可視コメントIDを返す。
// 見つからない場合は0を返す。折りたたまれたノードの配下は探索しない
// （折りたたみで非表示のため）。
func (r *Reader) firstVisible(node *model.Item) int {
	if node == nil {
		return 0
	}
	if !node.Hidden() && !r.IsCollapsed(node.ID) {
		return node.ID
	}
	if r.IsCollapsed(node.ID) {
		return 0
	}
	for _, kid := range node.KidsObj {
		if anchor := r.firstVisible(kid); anchor != 0 {
			return anchor
		}
	}
	return 0
}

// buildParentIndex はツリーの各ノードIDから親ノードへのインデックスを構築する。
func buildParentIndex(root *model.Item) map[int]*model.Item {
	parents := make(map[int]*model.Item)

	frontier := []*model.Item{root}
	for len(frontier) > 0 {
		var next []*model.Item
		for _, node := range frontier {
			for _, kid := range node.KidsObj {
				parents[kid.ID] = node
				next = append(next, kid)
			}
		}
		frontier = next
	}
	return parents
}
