// Package sync はクライアント側のデータ同期レイヤーを提供する。
// リクエストごとにローカルキャッシュで足りるかを判断し、足りない場合のみ
// サーバーAPIを呼び出して結果を永続化する。ローカルのパージポリシーも担う。
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/hnreader/internal/model"
)

// API はサーバーのコンテンツAPIへのアクセスインターフェース。
type API interface {
	// FetchStory は指定IDのハイドレート済みストーリーを取得する。
	// サーバーに存在しない場合は(nil, nil)を返す。
	FetchStory(ctx context.Context, id int) (*model.Item, error)
	// FetchList は指定ページのハイドレート済みアイテム一覧を取得する。
	FetchList(ctx context.Context, page string) ([]*model.Item, error)
}

// HTTPClient はサーバーAPIのHTTPクライアント実装。
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient はHTTPClientの新しいインスタンスを生成する。
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// FetchStory は指定IDのハイドレート済みストーリーを取得する。
// 404は「存在しない」を意味するため(nil, nil)を返す。
func (c *HTTPClient) FetchStory(ctx context.Context, id int) (*model.Item, error) {
	body, status, err := c.get(ctx, fmt.Sprintf("%s/api/story/%d", c.baseURL, id))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("サーバーAPIがステータス %d を返しました", status)
	}

	var item model.Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("ストーリーのパースに失敗しました: %w", err)
	}
	return &item, nil
}

// FetchList は指定ページのハイドレート済みアイテム一覧を取得する。
func (c *HTTPClient) FetchList(ctx context.Context, page string) ([]*model.Item, error) {
	body, status, err := c.get(ctx, fmt.Sprintf("%s/topstories/%s", c.baseURL, page))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("サーバーAPIがステータス %d を返しました", status)
	}

	var items []*model.Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("リストのパースに失敗しました: %w", err)
	}
	return items, nil
}

// get はGETリクエストを実行し、ボディとステータスコードを返す。
func (c *HTTPClient) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, resp.StatusCode, nil
}
