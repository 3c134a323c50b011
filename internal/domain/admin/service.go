package admin

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials is returned when username or password do not match
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameExists is returned when the username is already taken
	ErrUsernameExists = errors.New("username already exists")
	// ErrUsernameRequired is returned when creating an admin with no username
	ErrUsernameRequired = errors.New("username is required")
	// ErrAdminNotFound is returned when the admin does not exist
	ErrAdminNotFound = errors.New("admin not found")
)

// CreateRequest is the input for creating an admin account
type CreateRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// Service interface for admin operations
type Service interface {
	Create(req CreateRequest) (*Admin, error)
	Authenticate(username, password string) (*Admin, error)
	Get(id uuid.UUID) (*Admin, error)
	DisplayName(id uuid.UUID) (string, error)
	ChangePassword(id uuid.UUID, newPassword string) error

	// Second-factor secret access, consumed by the step-up engine
	TOTPSecret(adminID uuid.UUID) (string, error)
	SaveTOTPSecret(adminID uuid.UUID, secret string) error
}

type service struct {
	repo   Repository
	hasher *PasswordHasher
}

// NewService creates a new admin service
func NewService(repo Repository, hasher *PasswordHasher) Service {
	return &service{repo: repo, hasher: hasher}
}

// Create creates a new admin account
func (s *service) Create(req CreateRequest) (*Admin, error) {
	if req.Username == "" {
		return nil, ErrUsernameRequired
	}

	if _, err := s.repo.FindByUsername(req.Username); err == nil {
		return nil, ErrUsernameExists
	}

	hash, pepperID, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	a := &Admin{
		Username:         req.Username,
		Email:            req.Email,
		DisplayName:      req.DisplayName,
		PasswordHash:     hash,
		PasswordPepperID: pepperID,
		IsActive:         true,
	}

	if err := s.repo.Create(a); err != nil {
		return nil, err
	}

	return a, nil
}

// Authenticate resolves a username/password pair to an active admin. The
// error is uniform for unknown usernames and wrong passwords.
func (s *service) Authenticate(username, password string) (*Admin, error) {
	a, err := s.repo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !a.IsActive {
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, a.PasswordHash, a.PasswordPepperID) {
		return nil, ErrInvalidCredentials
	}

	return a, nil
}

// Get returns an admin by ID
func (s *service) Get(id uuid.UUID) (*Admin, error) {
	a, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAdminNotFound
		}
		return nil, err
	}
	return a, nil
}

// DisplayName returns the presentation name for an admin
func (s *service) DisplayName(id uuid.UUID) (string, error) {
	a, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrAdminNotFound
		}
		return "", err
	}
	return a.DisplayName, nil
}

// ChangePassword re-hashes and stores a new password under the active pepper
func (s *service) ChangePassword(id uuid.UUID, newPassword string) error {
	hash, pepperID, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(id, hash, pepperID)
}

// TOTPSecret returns the admin's enrolled second-factor secret, empty when
// not enrolled
func (s *service) TOTPSecret(adminID uuid.UUID) (string, error) {
	a, err := s.repo.FindByID(adminID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrAdminNotFound
		}
		return "", err
	}
	return a.TOTPSecret, nil
}

// SaveTOTPSecret persists a verified second-factor secret
func (s *service) SaveTOTPSecret(adminID uuid.UUID, secret string) error {
	return s.repo.UpdateTOTPSecret(adminID, secret)
}
