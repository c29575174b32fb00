// Package auth はメールアドレスとパスワードによるアカウント管理とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/crmadmin/internal/backend"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
	"github.com/hitoshi/crmadmin/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	JWTSecret     []byte        // JWT署名鍵
	JWTTTL        time.Duration // JWT有効期間
	BcryptCost    int           // 0の場合はbcrypt.DefaultCost
}

// Service はアカウントとセッションに関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.JWTTTL <= 0 {
		config.JWTTTL = 15 * time.Minute
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// Create はアカウントを作成する。userID が空または unique() の場合は自動採番する。
// 同じメールアドレスのアカウントが存在する場合は USER_ALREADY_EXISTS を返す。
func (s *Service) Create(ctx context.Context, userID, email, password, name string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードは必須です。")
	}
	if userID == "" || userID == backend.UniqueID {
		userID = uuid.New().String()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           userID,
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Labels:       []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUserAlreadyExistsError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("account created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// CreateEmailPasswordSession はメールアドレスとパスワードを検証し、新しいセッションを発行する。
func (s *Service) CreateEmailPasswordSession(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("session created",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}

// Get は現在のセッションのアカウントを返す。
func (s *Service) Get(ctx context.Context) (*model.User, error) {
	session, err := s.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// GetSession は指定IDのセッションを返す。"current" は現在のセッションを指す。
// 他人のセッションは存在しないものとして扱う。
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	current, err := s.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if sessionID == backend.CurrentSession || sessionID == current.ID {
		current.Current = true
		return current, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != current.UserID {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	return session, nil
}

// ListSessions は現在のアカウントの有効なセッション一覧を返す。
func (s *Service) ListSessions(ctx context.Context) ([]*model.Session, error) {
	current, err := s.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessionRepo.ListByUserID(ctx, current.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, sess := range sessions {
		sess.Current = sess.ID == current.ID
	}
	return sessions, nil
}

// DeleteSession はセッションを破棄する。"current" は現在のセッションを指す。
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	target, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.sessionRepo.DeleteByID(ctx, target.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewSessionNotFoundError(sessionID)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("session deleted",
		slog.String("user_id", target.UserID),
		slog.String("session_id", target.ID),
	)
	return nil
}

// CreateJWT は現在のセッションに紐づく短命のJWTを発行する。
func (s *Service) CreateJWT(ctx context.Context) (string, error) {
	current, err := s.currentSession(ctx)
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := &SessionClaims{
		SessionID: current.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   current.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.JWTTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign jwt: %w", err)
	}
	return token, nil
}

// ResolveSecret はシークレット値から有効なセッションを返す。見つからない場合はnilを返す。
func (s *Service) ResolveSecret(ctx context.Context, secret string) (*model.Session, error) {
	if secret == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindBySecret(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// ResolveJWT はJWTを検証し、紐づくセッションがまだ有効であればそれを返す。
// 署名不正・期限切れ・セッション失効のいずれもnilを返す。
func (s *Service) ResolveJWT(ctx context.Context, token string) (*model.Session, error) {
	claims, err := ParseJWT(token, s.config.JWTSecret, s.now)
	if err != nil {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.Subject {
		return nil, nil
	}
	return session, nil
}

// currentSession はcontextのシークレットから現在のセッションを取得する。
func (s *Service) currentSession(ctx context.Context) (*model.Session, error) {
	session, err := s.ResolveSecret(ctx, principal.Secret(ctx))
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}
	return session, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	secret, err := generateSessionSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		Secret:    secret,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionSecret は暗号的に安全なセッションシークレットを生成する。
func generateSessionSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ backend.Account = (*Service)(nil)
