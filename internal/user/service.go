package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/repo"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// UserService orchestrates signup and authentication.
type UserService struct {
	repo   *userrepo.UserRepo
	hasher PasswordHasher
}

func NewUserService(r *userrepo.UserRepo, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{repo: r, hasher: hasher}
}

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrDisabled        = errors.New("user disabled")
	ErrPendingDeletion = errors.New("user pending deletion")
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrMissingIdentity = errors.New("username or email required")
)

// AuthenticatePassword performs password authentication by email or username.
// Accounts awaiting deletion are refused even with a valid password.
func (s *UserService) AuthenticatePassword(ctx context.Context, identifier, password string) (*entity.MinimalAuthView, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrBadCredentials
	}

	var u *entity.User
	var err error
	if strings.Contains(identifier, "@") {
		u, err = s.repo.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		u, err = s.repo.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, err
	}
	if u.PasswordHash == nil || !s.hasher.Verify(*u.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	if err := checkUsable(u); err != nil {
		return nil, err
	}
	return &entity.MinimalAuthView{ID: u.ID, UserType: u.UserType, Email: u.Email}, nil
}

// EnsureActive is used before refreshing tokens.
func (s *UserService) EnsureActive(ctx context.Context, id string) (*entity.MinimalAuthView, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := checkUsable(u); err != nil {
		return nil, err
	}
	return &entity.MinimalAuthView{ID: u.ID, UserType: u.UserType, Email: u.Email}, nil
}

func checkUsable(u *entity.User) error {
	if u.PendingDeletion() {
		return ErrPendingDeletion
	}
	if !u.Active() {
		return ErrDisabled
	}
	return nil
}

// SignupUser creates a user with password (hashing inside). Minimal required: username OR email, password.
func (s *UserService) SignupUser(ctx context.Context, username, email, password, userType string) (string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" && email == "" {
		return "", ErrMissingIdentity
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}
	u := &entity.User{
		PasswordHash: &hash,
		PasswordAlgo: &algo,
		Status:       entity.StatusActive,
		UserType:     userType,
	}
	if username != "" {
		u.Username = &username
	}
	if email != "" {
		u.Email = &email
	}
	return s.repo.Create(ctx, u)
}
