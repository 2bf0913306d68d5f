// Package htmltext はHTML断片からプレーンテキストを抽出する。
// 検索結果やリスト表示のプレビュー文生成に使用する。
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

// Extract はHTML断片からタグを除いたテキストを返す。
// ブロック要素の境界は半角スペース1つに正規化する。
// パースに失敗した場合は入力をそのまま返す（プレビューは可読性優先）。
func Extract(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "br" || n.Data == "pre") {
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(b.String()), " ")
}

// Preview はHTML断片から最大maxRunesルーンのプレーンテキストプレビューを返す。
// 切り詰めた場合は末尾に省略記号を付ける。
func Preview(rawHTML string, maxRunes int) string {
	text := Extract(rawHTML)
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}
