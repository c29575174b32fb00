// Package security は利用者が入力した文字列に含まれるHTMLマークアップを検出する。
//
// レコード値は入力のまま保存し、JSONエンコード時のHTMLエスケープに任せる。
// 管理画面のヘッダーに表示される表示名など、タグを許さない入力の検証に使う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupChecker はbluemondayのStrictPolicyでタグの有無を判定する。
// ポリシーはスレッドセーフなので共有してよい。
type MarkupChecker struct {
	policy *bluemonday.Policy
}

// NewMarkupChecker はMarkupCheckerを生成する。
func NewMarkupChecker() *MarkupChecker {
	return &MarkupChecker{policy: bluemonday.StrictPolicy()}
}

// ContainsMarkup はブラウザがタグとして解釈する部分を含む場合に true を返す。
// StrictPolicy はテキストをエスケープして返すため、タグが無ければ
// エスケープ済みの入力と一致する。
func (c *MarkupChecker) ContainsMarkup(s string) bool {
	if !strings.Contains(s, "<") {
		return false
	}
	return c.policy.Sanitize(s) != html.EscapeString(html.UnescapeString(s))
}
