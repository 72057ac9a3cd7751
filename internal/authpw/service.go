// Package authpw provides username/password authentication and the account
// lifecycle: registration, nickname change, password change, and deletion.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"plume/api/internal/store"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrValidation marks malformed or too-weak input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials is returned on a failed sign-in. It deliberately
	// does not distinguish an unknown username from a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrPasswordMismatch is returned when a re-entered current password does
	// not verify against the stored credential.
	ErrPasswordMismatch = errors.New("current password does not match")
	// ErrUsernameTaken is returned when registration collides with an
	// existing username.
	ErrUsernameTaken = errors.New("username already registered")
)

// AccountStore defines the storage interface for the account lifecycle.
type AccountStore interface {
	CreateAccount(ctx context.Context, username, passwordHash, nickname string) (store.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (store.Account, error)
	GetAccountByID(ctx context.Context, accountID int64) (store.Account, error)
	UpdateNickname(ctx context.Context, accountID int64, nickname string) error
	UpdateAccountPassword(ctx context.Context, accountID int64, passwordHash string) error
	DeleteAccount(ctx context.Context, accountID int64) error
}

type Service struct {
	store AccountStore
}

func NewService(store AccountStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains registration parameters.
type SignUpRequest struct {
	Username string
	Password string
	Nickname string
}

// SignUp registers a new account with its profile. The store persists both
// as a single transaction, so a half-created account cannot be observed.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Account, error) {
	username := strings.TrimSpace(req.Username)
	nickname := strings.TrimSpace(req.Nickname)
	if username == "" || nickname == "" {
		return store.Account{}, fmt.Errorf("username and nickname are required: %w", ErrValidation)
	}
	if err := checkPasswordStrength(req.Password); err != nil {
		return store.Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.store.CreateAccount(ctx, username, string(hash), nickname)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Account{}, ErrUsernameTaken
		}
		return store.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// SignIn authenticates a user by username and password.
func (s *Service) SignIn(ctx context.Context, username, password string) (store.Account, error) {
	if username == "" || password == "" {
		return store.Account{}, ErrInvalidCredentials
	}
	account, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	return account, nil
}

// ChangeNickname updates the profile's display nickname. No re-authentication
// is required and nicknames are not unique.
func (s *Service) ChangeNickname(ctx context.Context, accountID int64, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return fmt.Errorf("nickname is required: %w", ErrValidation)
	}
	return s.store.UpdateNickname(ctx, accountID, nickname)
}

// ChangePassword verifies the current password before committing the new
// hash. Callers must revoke the account's sessions afterwards.
func (s *Service) ChangePassword(ctx context.Context, accountID int64, currentPassword, newPassword string) error {
	if err := checkPasswordStrength(newPassword); err != nil {
		return err
	}

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateAccountPassword(ctx, accountID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// DeleteAccount removes an account after the owner re-enters their password.
// The store cascades to the profile and to every post, comment and reply the
// account owns.
func (s *Service) DeleteAccount(ctx context.Context, accountID int64, password string) error {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func checkPasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters: %w", ErrValidation)
	}
	return nil
}
