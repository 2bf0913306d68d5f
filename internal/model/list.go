package model

// ListName はトップストーリーリストの名前を表す。
type ListName string

const (
	// ListTop は上流APIのランキング順リスト。
	ListTop ListName = "topstories"
	// ListDay は直近24時間の時間窓リスト。
	ListDay ListName = "day"
	// ListWeek は直近7日間の時間窓リスト。
	ListWeek ListName = "week"
	// ListMonth は直近30日間の時間窓リスト。
	ListMonth ListName = "month"
)

// ServedLists は配信対象のリスト名一覧。
// monthはガベージコレクションのトリガー専用で配信には使わない。
var ServedLists = []ListName{ListTop, ListDay, ListWeek}

// ValidListName はリスト名が既知のものかを返す。
func ValidListName(name string) bool {
	switch ListName(name) {
	case ListTop, ListDay, ListWeek, ListMonth:
		return true
	}
	return false
}

// TopStoryList は名前付きのアイテムIDリスト。
// IDsは格納順がランキング順（または時間窓内の取得順）を表す。
type TopStoryList struct {
	Name ListName `json:"name"`
	IDs  []int    `json:"ids"`
	// LastUpdated はこのリストをローカルに取り込んだ時刻（Unix秒）。
	LastUpdated int64 `json:"lastUpdated"`
}
