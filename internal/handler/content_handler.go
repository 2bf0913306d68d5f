// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hnreader/internal/middleware"
	"github.com/hitoshi/hnreader/internal/model"
)

// ListCache はハイドレート済みリストの読み取りインターフェース。
type ListCache interface {
	// Get は指定リストのアイテム配列を返す。未構築の場合はnilを返す。
	Get(name model.ListName) []*model.Item
}

// StoryResolver はストーリーツリーのオンデマンド実体化インターフェース。
type StoryResolver interface {
	// Resolve は指定IDのアイテムを全子孫実体化済みで返す。
	Resolve(ctx context.Context, id int) (*model.Item, error)
	// ResolveRootID は親リンクを遡ってトップレベルアイテムのIDを返す。
	ResolveRootID(ctx context.Context, id int) int
}

// StoryProbe はストアの存在確認インターフェース。ヒット率メトリクス用。
type StoryProbe interface {
	// Get は指定IDのアイテムを返す。未格納または古い場合はnilを返す。
	Get(id int) *model.Item
}

// Searcher は全文検索のインターフェース。
type Searcher interface {
	// Search はクエリに一致する薄いアイテムを返す。
	Search(ctx context.Context, query string) ([]*model.Item, error)
}

// StoreStats はストアのヒット/ミス記録インターフェース。nilの場合は記録しない。
type StoreStats interface {
	RecordStoreHit()
	RecordStoreMiss()
}

// ContentHandler はコンテンツ配信のHTTPハンドラー。
type ContentHandler struct {
	lists    ListCache
	resolver StoryResolver
	probe    StoryProbe
	searcher Searcher
	stats    StoreStats
	logger   *slog.Logger
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(
	lists ListCache,
	resolver StoryResolver,
	probe StoryProbe,
	searcher Searcher,
	stats StoreStats,
	logger *slog.Logger,
) *ContentHandler {
	return &ContentHandler{
		lists:    lists,
		resolver: resolver,
		probe:    probe,
		searcher: searcher,
		stats:    stats,
		logger:   logger,
	}
}

// GetTopStories はハイドレート済みのトップストーリーリストを返す。
// GET /topstories/{type} (type: topstories|day|week|month)
// 未知のリスト名、またはキャッシュ未構築の場合は空配列を返す。
func (h *ContentHandler) GetTopStories(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "type")

	items := []*model.Item{}
	if model.ValidListName(name) {
		if cached := h.lists.Get(model.ListName(name)); cached != nil {
			items = cached
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

// GetStory は指定IDのストーリーを全子孫実体化済みで返す。
// GET /api/story/{id}
// ストアにあればそれを、なければオンデマンドで実体化して返す。
// 解決できない場合は story not found エラーを返す。
func (h *ContentHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewStoryNotFoundError(id))
		return
	}

	if h.stats != nil {
		if h.probe.Get(id) != nil {
			h.stats.RecordStoreHit()
		} else {
			h.stats.RecordStoreMiss()
		}
	}

	item, err := h.resolver.Resolve(r.Context(), id)
	if err != nil {
		h.logger.Warn("ストーリーの解決に失敗しました",
			slog.Int("story_id", id),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewStoryNotFoundError(id))
		return
	}

	// コメントへの直接リンクの場合、属するトップレベルアイテムのIDを付与する
	if item.Parent != 0 && item.RootID == 0 {
		item.RootID = h.resolver.ResolveRootID(r.Context(), item.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// GetSearch は全文クエリに一致する薄いアイテムを返す。
// GET /api/search/{query}
func (h *ContentHandler) GetSearch(w http.ResponseWriter, r *http.Request) {
	query := chi.URLParam(r, "query")

	items, err := h.searcher.Search(r.Context(), query)
	if err != nil {
		h.logger.Error("検索に失敗しました",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewSearchFailedError(err.Error()))
		return
	}
	if items == nil {
		items = []*model.Item{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}
