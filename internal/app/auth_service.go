package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/piyushsharma8821/scribbly-ai/internal/model"
	"github.com/piyushsharma8821/scribbly-ai/internal/pkg/jwtutil"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)

const minPasswordLen = 8

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByID(ctx context.Context, id uint) (*model.User, error)
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
}

// Account is the profile view of an Identity.
type Account struct {
	Identity
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// AuthResult carries the bearer credential issued on register and login.
type AuthResult struct {
	Token   string
	Account Account
}

type RegisterInput struct {
	Username string
	Password string
}

type LoginInput struct {
	Username string
	Password string
}

type AuthService struct {
	users     UserStore
	jwtSecret string
	tokenTTL  time.Duration
}

func NewAuthService(users UserStore, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	username, password, err := normalizeCredentials(input.Username, input.Password)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	existing, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{Username: username, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	username, password, err := normalizeCredentials(input.Username, input.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}

	at := time.Now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, at); err != nil {
		log.Printf("record login user=%d failed: %v", user.ID, err)
	} else {
		user.LastLoginAt = &at
	}
	return s.issue(user)
}

// Profile resolves the account behind identity. A deleted account reads as
// ErrUnauthenticated since its tokens can no longer act.
func (s *AuthService) Profile(ctx context.Context, identity Identity) (Account, error) {
	if identity.UserID == 0 {
		return Account{}, ErrUnauthenticated
	}
	user, err := s.users.FindByID(ctx, identity.UserID)
	if err != nil {
		return Account{}, err
	}
	if user == nil {
		return Account{}, ErrUnauthenticated
	}
	return accountOf(user), nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.jwtSecret, s.tokenTTL, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Account: accountOf(user)}, nil
}

func accountOf(user *model.User) Account {
	return Account{
		Identity:    Identity{UserID: user.ID, Username: user.Username},
		CreatedAt:   user.CreatedAt,
		LastLoginAt: user.LastLoginAt,
	}
}

// Usernames compare case-insensitively; passwords are taken verbatim.
func normalizeCredentials(username, password string) (string, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return "", "", ErrInvalidInput
	}
	return username, password, nil
}
