package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/hnreader/internal/config"
	"github.com/hitoshi/hnreader/internal/model"
)

// newClientTestServer はクライアントモードが叩くサーバーAPIのスタブを返す。
func newClientTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	items := []*model.Item{
		{ID: 42, Type: model.ItemTypeStory, Title: "Go 1.25 Released", Score: 321, By: "alice", Time: 1700000000, Descendants: 2, LastUpdated: 1700000100},
		{ID: 43, Type: model.ItemTypeStory, Title: "Show HN: My Side Project", Score: 55, By: "bob", Time: 1700000050, Descendants: 0, LastUpdated: 1700000100},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/topstories/topstories", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(items)
	})
	mux.HandleFunc("/api/story/42", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(items[0])
	})
	return httptest.NewServer(mux)
}

func newClientTestConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		ServerBaseURL:    baseURL,
		ClientStorageDir: t.TempDir(),
		FetchTimeout:     5 * time.Second,
		ReadRetention:    7 * 24 * time.Hour,
		PurgeKeepRecent:  50,
		PurgeDelay:       time.Hour,
	}
}

func TestRunClient_ListsPageAndWorksOffline(t *testing.T) {
	srv := newClientTestServer(t)
	cfg := newClientTestConfig(t, srv.URL)

	var first bytes.Buffer
	if err := runClient(&first, cfg, nil); err != nil {
		t.Fatalf("runClient() error = %v", err)
	}
	if !strings.Contains(first.String(), "Go 1.25 Released") {
		t.Errorf("一覧出力にタイトルが含まれていない:\n%s", first.String())
	}

	// サーバー停止後もローカルキャッシュから一覧を配信できること
	srv.Close()
	var second bytes.Buffer
	if err := runClient(&second, cfg, []string{"topstories"}); err != nil {
		t.Fatalf("オフラインでのrunClient() error = %v", err)
	}
	if !strings.Contains(second.String(), "Show HN: My Side Project") {
		t.Errorf("オフライン時の一覧出力が不完全:\n%s", second.String())
	}
}

func TestRunClient_ShowsStoryAndMarksRead(t *testing.T) {
	srv := newClientTestServer(t)
	defer srv.Close()
	cfg := newClientTestConfig(t, srv.URL)

	// 一覧を先に取得してローカルへ永続化する
	var listOut bytes.Buffer
	if err := runClient(&listOut, cfg, nil); err != nil {
		t.Fatalf("一覧のrunClient() error = %v", err)
	}

	var storyOut bytes.Buffer
	if err := runClient(&storyOut, cfg, []string{"42"}); err != nil {
		t.Fatalf("runClient(42) error = %v", err)
	}
	if !strings.Contains(storyOut.String(), "Go 1.25 Released") {
		t.Errorf("ストーリー出力にタイトルが含まれていない:\n%s", storyOut.String())
	}

	// 既読マーカーが一覧側へ反映されること
	var after bytes.Buffer
	if err := runClient(&after, cfg, nil); err != nil {
		t.Fatalf("既読後のrunClient() error = %v", err)
	}
	for _, line := range strings.Split(after.String(), "\n") {
		if strings.Contains(line, "[42]") && !strings.HasPrefix(line, "*") {
			t.Errorf("既読ストーリーに*マーカーが付いていない: %q", line)
		}
	}
}

func TestRunClient_UnknownStoryFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	cfg := newClientTestConfig(t, srv.URL)

	var buf bytes.Buffer
	if err := runClient(&buf, cfg, []string{"999"}); err == nil {
		t.Error("取得できないストーリーIDでエラーが返らなかった")
	}
}
