package model

import (
	"fmt"
	"strings"
)

// 権限の操作種別。
const (
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// ロール識別子。
const (
	RoleAny   = "any"
	RoleUsers = "users"
)

// UserRole は特定ユーザーを表すロール文字列（user:<id>）を返す。
func UserRole(userID string) string {
	return "user:" + userID
}

// Permission は action("role") 形式の権限文字列を生成する。
func Permission(action, role string) string {
	return fmt.Sprintf("%s(%q)", action, role)
}

// OwnerPermissions はユーザー本人に read / update / delete を付与する権限一覧を返す。
func OwnerPermissions(userID string) []string {
	role := UserRole(userID)
	return []string{
		Permission(ActionRead, role),
		Permission(ActionUpdate, role),
		Permission(ActionDelete, role),
	}
}

// ParsePermission は権限文字列を操作種別とロールに分解する。
func ParsePermission(p string) (action, role string, ok bool) {
	open := strings.IndexByte(p, '(')
	if open <= 0 || !strings.HasSuffix(p, ")") {
		return "", "", false
	}
	action = p[:open]
	role = strings.Trim(p[open+1:len(p)-1], `"`)
	if role == "" {
		return "", "", false
	}
	return action, role, true
}

// Allows はユーザーが権限一覧のもとで action を実行できるか判定する。
// write 権限は update と delete を兼ねる。
func Allows(perms []string, action, userID string) bool {
	for _, p := range perms {
		a, role, ok := ParsePermission(p)
		if !ok {
			continue
		}
		if a != action && !(a == "write" && (action == ActionUpdate || action == ActionDelete)) {
			continue
		}
		switch role {
		case RoleAny:
			return true
		case RoleUsers:
			if userID != "" {
				return true
			}
		default:
			if userID != "" && role == UserRole(userID) {
				return true
			}
		}
	}
	return false
}

// ReadRoles はユーザーが読み取り可能なドキュメントを絞り込むための権限文字列一覧を返す。
func ReadRoles(userID string) []string {
	return []string{
		Permission(ActionRead, RoleAny),
		Permission(ActionRead, RoleUsers),
		Permission(ActionRead, UserRole(userID)),
	}
}
