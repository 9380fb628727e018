package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	pinPattern   = regexp.MustCompile(`^[0-9]{4,6}$`)
)

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	userRepo  ports.UserRepository
	pinHasher ports.PINHasher
	tokenSvc  ports.TokenService
	log       zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	userRepo ports.UserRepository,
	pinHasher ports.PINHasher,
	tokenSvc ports.TokenService,
	log zerolog.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		userRepo:  userRepo,
		pinHasher: pinHasher,
		tokenSvc:  tokenSvc,
		log:       log,
	}
}

// Register provisions a new user with a hashed payment PIN.
func (s *AuthServiceImpl) Register(ctx context.Context, req ports.RegisterRequest) (*domain.User, error) {
	if !phonePattern.MatchString(req.Phone) {
		return nil, apperror.Validation("invalid phone number")
	}
	if !pinPattern.MatchString(req.PIN) {
		return nil, apperror.Validation("PIN must be 4 to 6 digits")
	}

	existing, err := s.userRepo.GetByPhone(ctx, req.Phone)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check phone: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrPhoneExists()
	}

	pinHash, err := s.pinHasher.Hash(req.PIN)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash pin: %w", err))
	}

	user := &domain.User{
		ID:                uuid.New(),
		Phone:             req.Phone,
		PINHash:           pinHash,
		FallbackEnabled:   req.FallbackEnabled,
		PrimaryAccountRef: req.PrimaryAccountRef,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create user: %w", err))
	}

	s.log.Info().
		Str("user_id", user.ID.String()).
		Bool("fallback_enabled", user.FallbackEnabled).
		Msg("user registered")

	return user, nil
}

// Login verifies phone + PIN and issues a JWT.
func (s *AuthServiceImpl) Login(ctx context.Context, phone, pin string) (string, time.Time, error) {
	user, err := s.userRepo.GetByPhone(ctx, phone)
	if err != nil {
		return "", time.Time{}, apperror.ErrDatabaseError(fmt.Errorf("load user: %w", err))
	}
	if user == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	ok, err := s.pinHasher.Verify(pin, user.PINHash)
	if err != nil || !ok {
		s.log.Warn().Str("user_id", user.ID.String()).Msg("login failed: PIN mismatch")
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	token, expiresAt, err := s.tokenSvc.Generate(user.ID)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.log.Info().Str("user_id", user.ID.String()).Msg("user logged in")
	return token, expiresAt, nil
}
