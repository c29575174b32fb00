// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, document, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized             = "UNAUTHORIZED"
	ErrCodeForbidden                = "FORBIDDEN"
	ErrCodeCSRFTokenInvalid         = "CSRF_TOKEN_INVALID"
	ErrCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	ErrCodeUserAlreadyExists        = "USER_ALREADY_EXISTS"
	ErrCodeUserNotFound             = "USER_NOT_FOUND"
	ErrCodeSessionNotFound          = "SESSION_NOT_FOUND"
	ErrCodeDocumentNotFound         = "DOCUMENT_NOT_FOUND"
	ErrCodeDocumentInvalidStructure = "DOCUMENT_INVALID_STRUCTURE"
	ErrCodeAttributeAlreadyExists   = "ATTRIBUTE_ALREADY_EXISTS"
	ErrCodeValidationFailed         = "VALIDATION_FAILED"
	ErrCodeInvalidRequest           = "INVALID_REQUEST"
	ErrCodeUnknownResource          = "UNKNOWN_RESOURCE"
	ErrCodeResourceNotConfigured    = "RESOURCE_NOT_CONFIGURED"
	ErrCodeRateLimited              = "RATE_LIMITED"
	ErrCodeInternal                 = "INTERNAL_ERROR"
)

// ErrorCode はerrチェーン中のAPIErrorのコードを返す。APIErrorでなければ空文字列。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// HTTPStatus はエラーに対応するHTTPステータスコードを返す。
// APIError以外は500とする。
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case ErrCodeUnauthorized, ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeCSRFTokenInvalid:
		return http.StatusForbidden
	case ErrCodeDocumentNotFound, ErrCodeSessionNotFound, ErrCodeUserNotFound, ErrCodeUnknownResource:
		return http.StatusNotFound
	case ErrCodeValidationFailed, ErrCodeInvalidRequest, ErrCodeDocumentInvalidStructure:
		return http.StatusBadRequest
	case ErrCodeUserAlreadyExists, ErrCodeAttributeAlreadyExists:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsAuthError は認証・認可系のエラー（401/403相当）かどうかを判定する。
func IsAuthError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeUnauthorized, ErrCodeForbidden:
		return true
	}
	return false
}

// IsAuthStatus はレスポンスのステータスが再ログインを要するもの（401/403）かを判定する。
// IsAuthError が真のエラーは必ずこの判定も真になる。CSRF失敗なども含む。
func IsAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "自分が作成したレコードのみ変更できます。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証に失敗した場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度操作してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUserAlreadyExistsError は同一メールアドレスのアカウントが既に存在する場合のエラーを生成する。
func NewUserAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyExists,
		Message:  "このメールアドレスのアカウントは既に存在します。",
		Category: "auth",
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSessionNotFoundError はセッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("セッションが見つかりません: %s", sessionID),
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewDocumentNotFoundError はドキュメント未検出エラーを生成する。
func NewDocumentNotFoundError(documentID string) *APIError {
	return &APIError{
		Code:     ErrCodeDocumentNotFound,
		Message:  fmt.Sprintf("指定されたレコードが見つかりません: %s", documentID),
		Category: "document",
		Action:   "レコードIDを確認してください。",
	}
}

// NewDocumentInvalidStructureError はドキュメントが属性定義に合わない場合のエラーを生成する。
func NewDocumentInvalidStructureError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeDocumentInvalidStructure,
		Message:  fmt.Sprintf("レコードの構造が不正です: %s", reason),
		Category: "validation",
		Action:   "必須項目と値の型を確認してください。",
	}
}

// NewAttributeAlreadyExistsError は属性が既に定義済みの場合のエラーを生成する。
func NewAttributeAlreadyExistsError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeAttributeAlreadyExists,
		Message:  fmt.Sprintf("属性は既に存在します: %s", key),
		Category: "document",
		Action:   "既存の属性をそのまま利用してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエスト形式の不正を表すエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnknownResourceError は未定義のリソース名が指定された場合のエラーを生成する。
func NewUnknownResourceError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownResource,
		Message:  fmt.Sprintf("未定義のリソースです: %s", name),
		Category: "validation",
		Action:   "contacts、companies、customers、orders のいずれかを指定してください。",
	}
}

// NewResourceNotConfiguredError はリソースのコレクションIDが未設定の場合のエラーを生成する。
func NewResourceNotConfiguredError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeResourceNotConfigured,
		Message:  fmt.Sprintf("リソースのコレクションが設定されていません: %s", name),
		Category: "system",
		Action:   "管理者に連絡してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ出力する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
