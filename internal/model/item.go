// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// ItemType はコンテンツツリーのノード種別を表す。
type ItemType string

const (
	// ItemTypeStory はストーリー（トップレベルの投稿）。
	ItemTypeStory ItemType = "story"
	// ItemTypeComment はコメント。
	ItemTypeComment ItemType = "comment"
	// ItemTypeJob は求人投稿。
	ItemTypeJob ItemType = "job"
	// ItemTypePoll は投票。
	ItemTypePoll ItemType = "poll"
	// ItemTypePollOpt は投票の選択肢。
	ItemTypePollOpt ItemType = "pollopt"
)

// validTypes は受け入れ可能なノード種別の集合。
var validTypes = map[ItemType]bool{
	ItemTypeStory:   true,
	ItemTypeComment: true,
	ItemTypeJob:     true,
	ItemTypePoll:    true,
	ItemTypePollOpt: true,
}

// Item はコンテンツツリーの1ノード（ストーリー/コメント/求人/投票）を表す。
// JSONタグは上流APIのアイテム形式に合わせており、KidsObj・RootID・LastUpdatedは
// ローカル拡張フィールド。
type Item struct {
	ID          int      `json:"id"`
	Deleted     bool     `json:"deleted,omitempty"`
	Type        ItemType `json:"type,omitempty"`
	By          string   `json:"by,omitempty"`
	Time        int64    `json:"time,omitempty"`
	Text        string   `json:"text,omitempty"` // サニタイズ済みHTML
	Dead        bool     `json:"dead,omitempty"`
	Parent      int      `json:"parent,omitempty"`
	Poll        int      `json:"poll,omitempty"`
	Kids        []int    `json:"kids,omitempty"`
	URL         string   `json:"url,omitempty"`
	Score       int      `json:"score,omitempty"`
	Title       string   `json:"title,omitempty"`
	Parts       []int    `json:"parts,omitempty"`
	Descendants int      `json:"descendants,omitempty"`

	// KidsObj は解決済みの子アイテム。解決後はKidsと相互排他になる。
	KidsObj []*Item `json:"kidsObj,omitempty"`
	// RootID は親リンクを遡って到達したトップレベルアイテムのID。
	RootID int `json:"rootId,omitempty"`
	// LastUpdated はこのノードのデータをローカルに取り込んだ時刻（Unix秒）。
	// コンテンツ自身の作成時刻（Time）とは別物。
	LastUpdated int64 `json:"lastUpdated,omitempty"`
}

// Validate は上流から取得したアイテムが期待する形式かを検証する。
// 信頼境界はネットワーク境界であり、保存前に必ず呼び出すこと。
func (i *Item) Validate() error {
	if i.ID <= 0 {
		return fmt.Errorf("アイテムIDが不正です: %d", i.ID)
	}
	// 削除済みアイテムは種別が欠落することがある
	if i.Type == "" && (i.Deleted || i.Dead) {
		return nil
	}
	if !validTypes[i.Type] {
		return fmt.Errorf("未知のアイテム種別です: %q (id=%d)", i.Type, i.ID)
	}
	return nil
}

// IsResolved は子IDリストが全て子オブジェクトへ解決済みかを返す。
// 子を持たないアイテムは常に解決済みとみなす。
func (i *Item) IsResolved() bool {
	return len(i.Kids) == 0
}

// Hidden はレンダリング時に非表示とすべきアイテムかを返す。
// 削除済み・dead扱いのアイテムは非表示だが、生きた子を持つ場合は
// スレッド構造維持のためツリー上には残す。
func (i *Item) Hidden() bool {
	return i.Deleted || i.Dead
}

// Touch はLastUpdatedを現在時刻で更新する。
func (i *Item) Touch(now time.Time) {
	i.LastUpdated = now.Unix()
}
