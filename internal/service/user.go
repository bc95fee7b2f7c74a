package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/models"

	"gorm.io/gorm"
)

const maxUsernameLen = 64

// UserService 封装注册、登录与入房身份校验。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

type RegisterResult struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Register 注册新用户。用户名两端空白会被去掉。
func (s *UserService) Register(ctx context.Context, username, password string) (*RegisterResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLen {
		return nil, ErrInvalidUsername
	}
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: username, PasswordHash: hash}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &RegisterResult{ID: user.ID, Username: user.Username}, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type LoginResult struct {
	TokenPair
	User models.User `json:"-"`
}

// Login 校验用户名密码并签发 token 对。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	pair, err := s.issue(ctx, s.db, user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair, User: user}, nil
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*TokenPair, error) {
	var pair *TokenPair
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ConsumeRefreshToken(ctx, tx, oldRT)
		if err != nil {
			return err
		}
		var user models.User
		if err := tx.First(&user, rec.UserID).Error; err != nil {
			return err
		}
		pair, err = s.issue(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *UserService) issue(ctx context.Context, tx *gorm.DB, user models.User) (*TokenPair, error) {
	at, err := auth.GenerateAccessToken(user, s.cfg.JWTSecret, time.Duration(s.cfg.AccessTokenTTLMinutes)*time.Minute)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(ctx, tx, user.ID, rt, exp); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: at, RefreshToken: rt}, nil
}

// UserByID 供鉴权中间件使用，不存在时返回 models.ErrNotFound。
func (s *UserService) UserByID(ctx context.Context, id uint) (models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, models.ErrNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

// ResolveAndVerify 把 join 时声明的身份映射为已注册用户名。
// 带 token 时以 token 为准，非空的声明身份必须与之一致；
// 不带 token 时直接按用户名查找，除非配置要求必须携带 token。
func (s *UserService) ResolveAndVerify(ctx context.Context, identity, token string) (string, error) {
	identity = strings.TrimSpace(identity)

	if token != "" {
		claims, err := auth.ParseAccessToken(token, s.cfg.JWTSecret)
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
		}
		user, err := s.UserByID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return "", fmt.Errorf("%w: token subject %d", models.ErrUnauthorized, claims.UserID)
			}
			return "", err
		}
		if identity != "" && identity != user.Username {
			return "", fmt.Errorf("%w: %w", models.ErrUnauthorized, ErrIdentityMismatch)
		}
		return user.Username, nil
	}

	if s.cfg.WS.RequireToken {
		return "", fmt.Errorf("%w: token required", models.ErrUnauthorized)
	}
	if identity == "" {
		return "", fmt.Errorf("%w: empty identity", models.ErrUnauthorized)
	}
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", identity).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %q", models.ErrUnauthorized, identity)
		}
		return "", err
	}
	return user.Username, nil
}
