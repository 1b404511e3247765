// Package accounts provides email/password account management.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskboard/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already registered")
)

// ValidationError reports account input the caller must correct.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// UserStore defines the storage interface for accounts
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id int64) (store.User, error)
	CreateUser(ctx context.Context, name, email, passwordHash, phone string) (store.User, error)
	UpdateUserProfile(ctx context.Context, params store.UpdateProfileParams) (store.User, *string, error)
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" || req.Password == "" {
		return store.User{}, &ValidationError{Reason: "name, email, and password are required"}
	}
	if len(req.Password) < 8 {
		return store.User{}, &ValidationError{Reason: "password must be at least 8 characters"}
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, name, email, string(hash), strings.TrimSpace(req.Phone))
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates a user by email and password
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// UpdateProfileRequest contains profile update parameters
type UpdateProfileRequest struct {
	UserID int64
	Name   string
	Email  string
	Phone  string
	// ProfilePic is the newly stored picture path; nil keeps the current one.
	ProfilePic *string
}

// UpdateProfile updates name/email/phone and optionally the profile picture.
// The previous picture path is returned when a new one replaced it, so the
// caller can clean up the stored file.
func (s *Service) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (store.User, *string, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := strings.TrimSpace(req.Phone)
	if name == "" || email == "" || phone == "" {
		return store.User{}, nil, &ValidationError{Reason: "name, email, and phone are required"}
	}

	user, previousPic, err := s.store.UpdateUserProfile(ctx, store.UpdateProfileParams{
		ID:         req.UserID,
		Name:       name,
		Email:      email,
		Phone:      phone,
		ProfilePic: req.ProfilePic,
	})
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return store.User{}, nil, ErrEmailExists
		}
		return store.User{}, nil, err
	}

	if req.ProfilePic == nil || previousPic == nil || *previousPic == *req.ProfilePic {
		previousPic = nil
	}
	return user, previousPic, nil
}
