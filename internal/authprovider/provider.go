// Package authprovider は管理画面の認証フロー（サインアップ・ログイン・ログアウト・
// 認証確認・本人情報・権限・エラー判定）を認証サービスの呼び出しに変換する。
package authprovider

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hitoshi/crmadmin/internal/backend"
	"github.com/hitoshi/crmadmin/internal/metrics"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
	"github.com/hitoshi/crmadmin/internal/security"
	"github.com/hitoshi/crmadmin/internal/seed"
)

// MinPasswordLength はサインアップ時のパスワード最小文字数。
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var markup = security.NewMarkupChecker()

// ErrReauthenticate は再ログインが必要なことを示す。
var ErrReauthenticate = errors.New("reauthentication required")

// Seeder はログイン直後に実行するサンプルデータ投入処理。
type Seeder interface {
	Run(ctx context.Context, userID string) seed.Report
}

// Identity は管理画面に表示するログイン中ユーザーの情報。
type Identity struct {
	ID       string  `json:"id"`
	FullName string  `json:"fullName"`
	Email    string  `json:"email"`
	Avatar   *string `json:"avatar"`
}

// Provider は認証フローを提供する。
type Provider struct {
	account backend.Account
	seeder  Seeder
	metrics metrics.MetricsCollector
}

// New はProviderを生成する。seeder が nil の場合はシードを行わない。
func New(account backend.Account, seeder Seeder, collector metrics.MetricsCollector) *Provider {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Provider{
		account: account,
		seeder:  seeder,
		metrics: collector,
	}
}

// ValidateSignup はサインアップ入力を検証する。認証サービスには問い合わせない。
func ValidateSignup(name, email, password string) error {
	if strings.TrimSpace(name) == "" {
		return model.NewValidationError("名前は必須です。")
	}
	if markup.ContainsMarkup(name) {
		return model.NewValidationError("名前にHTMLタグは使用できません。")
	}
	if !emailPattern.MatchString(email) {
		return model.NewValidationError("有効なメールアドレスを入力してください。")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewValidationError("パスワードは8文字以上で入力してください。")
	}
	return nil
}

// Signup はアカウントを作成してログインする。
func (p *Provider) Signup(ctx context.Context, currentSecret, name, email, password string) (*model.Session, error) {
	if err := ValidateSignup(name, email, password); err != nil {
		p.metrics.RecordAuthEvent("signup", metrics.OutcomeFailure)
		return nil, err
	}
	user, err := p.account.Create(ctx, backend.UniqueID, email, password, name)
	if err != nil {
		p.metrics.RecordAuthEvent("signup", metrics.OutcomeFailure)
		return nil, err
	}
	p.metrics.RecordAuthEvent("signup", metrics.OutcomeSuccess)
	slog.Info("signup completed", slog.String("user_id", user.ID))

	return p.Login(ctx, currentSecret, email, password)
}

// Login はセッションを作成する。
// 既存のセッション（currentSecret から辿れるもの）と同じアカウントの他のセッションは破棄する。
// ログイン後にシードを実行するが、その失敗はログインの結果に影響しない。
func (p *Provider) Login(ctx context.Context, currentSecret, email, password string) (*model.Session, error) {
	if currentSecret != "" {
		p.clearSessions(principal.WithSecret(ctx, currentSecret))
	}

	session, err := p.account.CreateEmailPasswordSession(ctx, email, password)
	if err != nil {
		p.metrics.RecordAuthEvent("login", metrics.OutcomeFailure)
		return nil, err
	}
	sctx := principal.With(ctx, session.Secret, session.UserID)

	p.deleteOtherSessions(sctx)

	user, err := p.account.Get(sctx)
	if err != nil {
		p.metrics.RecordAuthEvent("login", metrics.OutcomeFailure)
		if derr := p.account.DeleteSession(sctx, session.ID); derr != nil {
			slog.Warn("failed to delete session after login failure",
				slog.String("session_id", session.ID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, err
	}
	p.metrics.RecordAuthEvent("login", metrics.OutcomeSuccess)

	if p.seeder != nil {
		p.seeder.Run(sctx, user.ID)
	}
	return session, nil
}

// Logout はアカウントの全セッションを破棄する。破棄に失敗しても成功として扱う。
func (p *Provider) Logout(ctx context.Context, secret string) {
	p.clearSessions(principal.WithSecret(ctx, secret))
	p.metrics.RecordAuthEvent("logout", metrics.OutcomeSuccess)
}

// CheckAuth は現在のセッションが存在し、本人情報を取得できることを確認する。
func (p *Provider) CheckAuth(ctx context.Context, secret string) error {
	ctx = principal.WithSecret(ctx, secret)
	if _, err := p.account.GetSession(ctx, backend.CurrentSession); err != nil {
		return err
	}
	if _, err := p.account.Get(ctx); err != nil {
		return err
	}
	return nil
}

// GetIdentity はログイン中ユーザーの情報を返す。名前が未設定の場合はメールアドレスを表示名にする。
func (p *Provider) GetIdentity(ctx context.Context, secret string) (*Identity, error) {
	user, err := p.account.Get(principal.WithSecret(ctx, secret))
	if err != nil {
		return nil, err
	}
	fullName := user.Name
	if fullName == "" {
		fullName = user.Email
	}
	return &Identity{
		ID:       user.ID,
		FullName: fullName,
		Email:    user.Email,
	}, nil
}

// GetPermissions はユーザーのラベル一覧を返す。取得できない場合は空を返す。
func (p *Provider) GetPermissions(ctx context.Context, secret string) []string {
	user, err := p.account.Get(principal.WithSecret(ctx, secret))
	if err != nil || user.Labels == nil {
		return []string{}
	}
	return user.Labels
}

// CheckError は401/403相当のエラーなら ErrReauthenticate を、それ以外は nil を返す。
func (p *Provider) CheckError(err error) error {
	if model.IsAuthError(err) {
		return ErrReauthenticate
	}
	return nil
}

// clearSessions はcontextのセッションから辿れる全セッションを破棄する。
// 他のセッションを並行に破棄してから、最後に現在のセッションを破棄する。
func (p *Provider) clearSessions(ctx context.Context) {
	current := p.deleteOtherSessions(ctx)
	if current == "" {
		return
	}
	if err := p.account.DeleteSession(ctx, current); err != nil {
		slog.Warn("failed to delete current session", slog.String("error", err.Error()))
	}
}

// deleteOtherSessions は現在以外のセッションを並行に破棄し、現在のセッションIDを返す。
// セッション一覧を取得できない場合は空文字列を返す。
func (p *Provider) deleteOtherSessions(ctx context.Context) string {
	sessions, err := p.account.ListSessions(ctx)
	if err != nil {
		slog.Debug("no sessions to clear", slog.String("error", err.Error()))
		return ""
	}

	var current string
	var wg sync.WaitGroup
	for _, s := range sessions {
		if s.Current {
			current = s.ID
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.account.DeleteSession(ctx, s.ID); err != nil {
				slog.Warn("failed to delete session",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	wg.Wait()
	return current
}
