package repository

import (
	"context"
	"errors"
	"strings"

	"tokenkeeper/internal/domain"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserRepository looks up login principals. It backs the credential check at
// the HTTP edge and resolves the access-token subject on refresh.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	u.Email = normalizeEmail(u.Email)
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// VerifyCredentials checks email + password and returns the identity the
// session layer issues tokens for. Unknown users, inactive users and bad
// passwords all yield domain.ErrInvalidCredentials.
func (r *UserRepository) VerifyCredentials(ctx context.Context, email, password string) (domain.Identity, error) {
	u, err := r.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if !u.Active {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}
	return u.Identity(), nil
}

// SubjectFor returns the access-token subject (email) of a (userID, role) owner.
func (r *UserRepository) SubjectFor(ctx context.Context, userID int64, role domain.Role) (string, error) {
	var u domain.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND role = ? AND active = ?", userID, role, true).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

// HashPassword is used by seeding and tests.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
