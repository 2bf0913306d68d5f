package model

// StorySummary はリスト表示用にアイテムを非正規化した投影。
// コメントツリーを含まないため軽量で、常に完全なItemから再生成できる。
// 派生データであり正とはしない。
type StorySummary struct {
	ID          int    `json:"id"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Score       int    `json:"score,omitempty"`
	By          string `json:"by,omitempty"`
	Time        int64  `json:"time,omitempty"`
	Descendants int    `json:"descendants,omitempty"`
	LastUpdated int64  `json:"lastUpdated,omitempty"`
}

// SummaryFromItem は完全なItemからStorySummaryを導出する。
func SummaryFromItem(item *Item) StorySummary {
	return StorySummary{
		ID:          item.ID,
		Title:       item.Title,
		URL:         item.URL,
		Score:       item.Score,
		By:          item.By,
		Time:        item.Time,
		Descendants: item.Descendants,
		LastUpdated: item.LastUpdated,
	}
}
