package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/hnreader/internal/client/storage"
	clientsync "github.com/hitoshi/hnreader/internal/client/sync"
	"github.com/hitoshi/hnreader/internal/config"
	"github.com/hitoshi/hnreader/internal/model"
)

// runClient はオフラインリーダーモードで起動する。
// ローカルのファイルストレージをハイドレートし、引数がページ名なら
// そのページのストーリー一覧を、数値ならそのストーリーの詳細をwriterへ
// 出力する。サーバーAPIへはローカルキャッシュで足りない場合のみアクセスする。
func runClient(w io.Writer, cfg *config.Config, args []string) error {
	st, err := storage.NewFileStorage(cfg.ClientStorageDir)
	if err != nil {
		return fmt.Errorf("failed to open client storage: %w", err)
	}

	api := clientsync.NewHTTPClient(cfg.ServerBaseURL, &http.Client{Timeout: cfg.FetchTimeout})
	reader := clientsync.NewReader(st, api, slog.Default(), clientsync.Config{
		ReadRetention:   cfg.ReadRetention,
		PurgeKeepRecent: cfg.PurgeKeepRecent,
		PurgeDelay:      cfg.PurgeDelay,
	})

	ctx := context.Background()
	reader.Hydrate(ctx)

	// 数値引数はストーリーID、それ以外はページ名として扱う
	if len(args) > 0 {
		if id, convErr := strconv.Atoi(args[0]); convErr == nil {
			return showStory(ctx, w, reader, id)
		}
		return showPage(ctx, w, reader, args[0])
	}
	return showPage(ctx, w, reader, string(model.ListTop))
}

// showPage はページのストーリー一覧を1行1件で出力する。既読は*で示す。
func showPage(ctx context.Context, w io.Writer, reader *clientsync.Reader, page string) error {
	summaries := reader.GetContentForPage(ctx, page)
	if len(summaries) == 0 {
		return fmt.Errorf("no stories available for page %q", page)
	}

	for i, summary := range summaries {
		marker := " "
		if reader.IsRead(summary.ID) {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %2d. [%d] %s (%d points, %d comments)\n",
			marker, i+1, summary.ID, summary.Title, summary.Score, summary.Descendants)
	}
	return nil
}

// showStory はストーリーの詳細を出力し、既読として記録する。
func showStory(ctx context.Context, w io.Writer, reader *clientsync.Reader, id int) error {
	item := reader.GetContent(ctx, id)
	if item == nil {
		return fmt.Errorf("story %d not available locally or from server", id)
	}

	fmt.Fprintf(w, "[%d] %s\n", item.ID, item.Title)
	if item.URL != "" {
		fmt.Fprintln(w, item.URL)
	}
	fmt.Fprintf(w, "%d points by %s | %d comments\n", item.Score, item.By, item.Descendants)

	reader.MarkRead(ctx, id)
	slog.Info("story marked as read", slog.Int("story_id", id))
	return nil
}
