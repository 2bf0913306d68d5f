// Package hn は上流コンテンツAPIと検索インデックスAPIの薄いクライアントを提供する。
// アイテム単体の取得、ランキング順IDリストの取得、時間窓/全文検索を含む。
// キャッシュは持たず、失敗はリトライせずそのまま呼び出し元へ伝搬する。
package hn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/hnreader/internal/htmltext"
	"github.com/hitoshi/hnreader/internal/model"
	"github.com/hitoshi/hnreader/internal/security"
)

const (
	// defaultContentEndpoint はコンテンツAPIのベースURL。
	defaultContentEndpoint = "https://hacker-news.firebaseio.com/v0"
	// defaultSearchEndpoint は検索インデックスAPIのベースURL。
	defaultSearchEndpoint = "https://hn.algolia.com/api/v1"
	// defaultPageSize は検索APIの1リクエストあたりの最大取得件数。
	defaultPageSize = 50
)

// 時間窓リストの作成時刻カットオフ。
const (
	dayWindow   = 24 * time.Hour
	weekWindow  = 7 * 24 * time.Hour
	monthWindow = 30 * 24 * time.Hour
)

// StatusRecorder は上流HTTPステータスの記録インターフェース。
// メトリクス収集側が実装する。nilの場合は記録しない。
type StatusRecorder interface {
	RecordUpstreamStatus(statusCode int)
}

// Client は上流APIのクライアント。
// コンテンツAPIと検索APIの両方に対して共通のレートリミッターで
// 呼び出し頻度を抑制する。
type Client struct {
	httpClient      *http.Client
	limiter         *rate.Limiter
	sanitizer       security.ContentSanitizerService
	logger          *slog.Logger
	recorder        StatusRecorder
	contentEndpoint string // テスト用にエンドポイントを差し替え可能
	searchEndpoint  string // テスト用にエンドポイントを差し替え可能
	pageSize        int

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
// limiterは上流依存先のレート制限を尊重するためツリーのハイドレーションと共有される。
// pageSizeが0以下の場合は既定値50を使用する。
func NewClient(
	httpClient *http.Client,
	limiter *rate.Limiter,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
	recorder StatusRecorder,
	pageSize int,
) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		httpClient:      httpClient,
		limiter:         limiter,
		sanitizer:       sanitizer,
		logger:          logger,
		recorder:        recorder,
		contentEndpoint: defaultContentEndpoint,
		searchEndpoint:  defaultSearchEndpoint,
		pageSize:        pageSize,
		now:             time.Now,
	}
}

// FetchItem は指定IDのアイテムを上流から取得する。
// 上流に存在しない場合は(nil, nil)を返す（エラーではない）。
// 本文HTMLはサニタイズし、形式検証を通過したアイテムのみを返す。
// LastUpdatedには取得時点のローカル時刻を設定する。
func (c *Client) FetchItem(ctx context.Context, id int) (*model.Item, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/item/%d.json", c.contentEndpoint, id))
	if err != nil {
		return nil, err
	}

	// 上流は存在しないIDに対して本文 "null" を返す
	if isJSONNull(body) {
		return nil, nil
	}

	var item model.Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("アイテムのパースに失敗しました (id=%d): %w", id, err)
	}

	if err := item.Validate(); err != nil {
		c.logger.Warn("形式検証に失敗したアイテムをスキップします",
			slog.Int("item_id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("アイテムの形式検証に失敗しました: %w", err)
	}

	item.Text = c.sanitizer.Sanitize(item.Text)
	item.Touch(c.now())

	return &item, nil
}

// FetchIDs は指定リストのアイテムIDを取得する。
// topstoriesはコンテンツAPIのランキング順リスト、day/week/monthは
// 検索APIの時間窓検索（ランキングなし、作成時刻カットオフ内）を使用する。
func (c *Client) FetchIDs(ctx context.Context, name model.ListName) ([]int, error) {
	switch name {
	case model.ListTop:
		return c.fetchTopIDs(ctx)
	case model.ListDay:
		return c.fetchWindowIDs(ctx, dayWindow)
	case model.ListWeek:
		return c.fetchWindowIDs(ctx, weekWindow)
	case model.ListMonth:
		return c.fetchWindowIDs(ctx, monthWindow)
	default:
		return nil, model.NewUnknownListError(string(name))
	}
}

// Search は全文クエリに一致するアイテムを検索インデックスAPIから取得する。
// 返されるアイテムはハイドレートされていない薄い投影で、最大pageSize件。
func (c *Client) Search(ctx context.Context, query string) ([]*model.Item, error) {
	u := fmt.Sprintf("%s/search?query=%s&hitsPerPage=%d&tags=story",
		c.searchEndpoint, url.QueryEscape(query), c.pageSize)

	res, err := c.searchRequest(ctx, u)
	if err != nil {
		return nil, err
	}

	items := make([]*model.Item, 0, len(res.Hits))
	for _, hit := range res.Hits {
		item, err := hit.toItem()
		if err != nil {
			c.logger.Warn("検索ヒットの変換に失敗したためスキップします",
				slog.String("object_id", hit.ObjectID),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// fetchTopIDs はコンテンツAPIからランキング順のIDリストを取得する。
func (c *Client) fetchTopIDs(ctx context.Context) ([]int, error) {
	body, err := c.get(ctx, c.contentEndpoint+"/topstories.json")
	if err != nil {
		return nil, err
	}

	var ids []int
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("IDリストのパースに失敗しました: %w", err)
	}
	return ids, nil
}

// fetchWindowIDs は検索APIから作成時刻カットオフ内のストーリーIDを取得する。
func (c *Client) fetchWindowIDs(ctx context.Context, window time.Duration) ([]int, error) {
	cutoff := c.now().Add(-window).Unix()
	u := fmt.Sprintf("%s/search_by_date?tags=story&hitsPerPage=%d&numericFilters=created_at_i>%d",
		c.searchEndpoint, c.pageSize, cutoff)

	res, err := c.searchRequest(ctx, u)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.Atoi(hit.ObjectID)
		if err != nil {
			c.logger.Warn("検索ヒットのIDが数値ではないためスキップします",
				slog.String("object_id", hit.ObjectID),
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// searchResponse は検索APIのレスポンス形式。
type searchResponse struct {
	Hits []searchHit `json:"hits"`
}

// searchHit は検索APIの1ヒット。
type searchHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	CreatedAtI  int64  `json:"created_at_i"`
	StoryText   string `json:"story_text"`
}

// previewRunes は検索結果プレビューの最大ルーン数。
const previewRunes = 200

// toItem は検索ヒットを薄いItemへ変換する。
// 本文はプレーンテキストのプレビューに切り詰める。
func (h *searchHit) toItem() (*model.Item, error) {
	id, err := strconv.Atoi(h.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("objectIDが数値ではありません: %q", h.ObjectID)
	}
	return &model.Item{
		ID:          id,
		Type:        model.ItemTypeStory,
		By:          h.Author,
		Time:        h.CreatedAtI,
		Title:       h.Title,
		URL:         h.URL,
		Score:       h.Points,
		Descendants: h.NumComments,
		Text:        htmltext.Preview(h.StoryText, previewRunes),
	}, nil
}

// searchRequest は検索APIへのGETリクエストを実行してレスポンスをデコードする。
func (c *Client) searchRequest(ctx context.Context, url string) (*searchResponse, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var res searchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("検索レスポンスのパースに失敗しました: %w", err)
	}
	return &res, nil
}

// get はレートリミッターを通してGETリクエストを実行し、ボディを返す。
// 非成功ステータスはエラーとして返す。
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "hnreader/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("上流APIの呼び出しに失敗しました",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if c.recorder != nil {
		c.recorder.RecordUpstreamStatus(resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("上流APIがエラーステータスを返しました",
			slog.String("url", url),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewUpstreamError(fmt.Sprintf("ステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, nil
}

// isJSONNull はボディがJSONのnullリテラルかを返す。
func isJSONNull(body []byte) bool {
	return bytes.Equal(bytes.TrimSpace(body), []byte("null"))
}
