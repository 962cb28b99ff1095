package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/config"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthService is the Token Service. Bearer secrets are
// signed JWTs carrying the user id and expiry for stateless validation;
// only a sha256 digest of the signed secret is ever persisted, inside the
// owning User's Tokens column.
//
// Token secrets are high-entropy random values, not user-chosen
// passwords, so a fast one-way digest (sha256) is the right tool: this
// hash runs on every authenticated request, and bcrypt's deliberate
// slowness would become the dominant cost of request handling. Login's
// optional password, by contrast, is user-chosen and checked rarely, so
// it gets bcrypt.
type AuthService struct {
	userRepo repository.UserRepository
	cfg      *config.Config
}

func NewAuthService(userRepo repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{userRepo: userRepo, cfg: cfg}
}

var (
	ErrTokenInvalid = fmt.Errorf("%w: token invalid", apperr.ErrAuthInvalid)
	ErrTokenExpired = fmt.Errorf("%w: token expired", apperr.ErrAuthInvalid)
	ErrTokenRevoked = fmt.Errorf("%w: token revoked", apperr.ErrAuthInvalid)
)

type LoginResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Login issues a fresh access/refresh pair for email, creating the user
// profile lazily on first call. password is optional: a brand-new user
// that supplies one has it hashed and stored as their login password; an
// existing user that has previously set one must supply a matching
// password to proceed. Users who never set a password keep logging in
// by email alone.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		user = &domain.User{
			UserID:    uuid.New(),
			Email:     email,
			IsActive:  true,
			CreatedAt: time.Now(),
			Tokens:    []byte("[]"),
		}
		if password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash password: %w", err)
			}
			user.PasswordHash = string(hash)
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
	} else if user.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return nil, apperr.ErrAuthInvalid
		}
	}

	accessToken, accessDescriptor, err := s.issue(user, domain.TokenKindAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshDescriptor, err := s.issue(user, domain.TokenKindRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	tokens, err := decodeTokens(user.Tokens)
	if err != nil {
		return nil, err
	}
	tokens = append(tokens, *accessDescriptor, *refreshDescriptor)
	if err := s.saveTokens(user, tokens); err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLoginAt = &now
	user.LastActiveAt = &now
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}

	return &LoginResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// Validate verifies the signed envelope, confirms the descriptor inside
// the owning user is neither expired nor revoked, and updates LastUsedAt.
func (s *AuthService) Validate(ctx context.Context, tokenString string) (*domain.User, error) {
	user, _, err := s.validateKind(ctx, tokenString, "")
	return user, err
}

func (s *AuthService) validateKind(ctx context.Context, tokenString string, wantKind domain.TokenKind) (*domain.User, *domain.TokenDescriptor, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, nil, ErrTokenInvalid
	}
	tokenID, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, nil, ErrTokenInvalid
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperr.ErrAuthInvalid, err)
	}
	if !user.IsActive {
		return nil, nil, ErrTokenInvalid
	}

	tokens, err := decodeTokens(user.Tokens)
	if err != nil {
		return nil, nil, err
	}

	digest := hashSecret(tokenString)
	for i := range tokens {
		td := &tokens[i]
		if td.TokenID != tokenID {
			continue
		}
		if wantKind != "" && td.TokenKind != wantKind {
			return nil, nil, ErrTokenInvalid
		}
		if td.IsRevoked {
			return nil, nil, ErrTokenRevoked
		}
		if time.Now().After(td.ExpiresAt) {
			return nil, nil, ErrTokenExpired
		}
		if td.TokenHash != digest {
			return nil, nil, ErrTokenInvalid
		}
		now := time.Now()
		td.LastUsedAt = &now
		user.LastActiveAt = &now
		if err := s.saveTokens(user, tokens); err != nil {
			return nil, nil, err
		}
		if err := s.userRepo.Update(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		return user, td, nil
	}
	return nil, nil, ErrTokenInvalid
}

// Refresh mints a new access token from a valid, non-revoked refresh
// token, optionally revoking the caller's previous access tokens.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, revokeOldAccess bool) (*LoginResult, error) {
	user, _, err := s.validateKind(ctx, refreshToken, domain.TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	tokens, err := decodeTokens(user.Tokens)
	if err != nil {
		return nil, err
	}
	if revokeOldAccess {
		for i := range tokens {
			if tokens[i].TokenKind == domain.TokenKindAccess {
				tokens[i].IsRevoked = true
			}
		}
	}

	accessToken, accessDescriptor, err := s.issue(user, domain.TokenKindAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	tokens = append(tokens, *accessDescriptor)
	if err := s.saveTokens(user, tokens); err != nil {
		return nil, err
	}
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}

	return &LoginResult{
		User:        user,
		AccessToken: accessToken,
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// Logout revokes the token descriptor backing tokenString.
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	user, descriptor, err := s.validateKind(ctx, tokenString, "")
	if err != nil {
		return err
	}
	tokens, err := decodeTokens(user.Tokens)
	if err != nil {
		return err
	}
	for i := range tokens {
		if tokens[i].TokenID == descriptor.TokenID {
			tokens[i].IsRevoked = true
		}
	}
	if err := s.saveTokens(user, tokens); err != nil {
		return err
	}
	return s.userRepo.Update(ctx, user)
}

func (s *AuthService) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return user, nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Kind domain.TokenKind `json:"kind"`
}

func (s *AuthService) issue(user *domain.User, kind domain.TokenKind, ttl time.Duration) (string, *domain.TokenDescriptor, error) {
	tokenID := uuid.New()
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID.String(),
			ID:        tokenID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind: kind,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	descriptor := &domain.TokenDescriptor{
		TokenID:   tokenID,
		TokenKind: kind,
		TokenHash: hashSecret(signed),
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	return signed, descriptor, nil
}

func (s *AuthService) parse(tokenString string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) saveTokens(user *domain.User, tokens []domain.TokenDescriptor) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	user.Tokens = encoded
	return nil
}

func decodeTokens(raw []byte) ([]domain.TokenDescriptor, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tokens []domain.TokenDescriptor
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	return tokens, nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
