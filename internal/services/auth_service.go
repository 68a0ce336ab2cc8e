package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"potluck-chat/internal/repository"
	potluck_errors "potluck-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService verifies bearer credentials issued by the account service. Password
// handling and session management live there; this side only checks signatures.
type AuthService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(userRepo repository.UserRepository, secret string, accessTTL time.Duration) *AuthService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: []byte(secret),
		accessTTL: accessTTL,
	}
}

type AccessClaims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, potluck_errors.ErrUnauthenticated
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, potluck_errors.ErrUnauthenticated
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, potluck_errors.ErrUnauthenticated
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.UserID <= 0 {
		return AccessClaims{}, potluck_errors.ErrUnauthenticated
	}

	return *claims, nil
}

// Verify checks the token and, when a user repository is configured, that the user
// still exists. It returns the authenticated user id.
func (s *AuthService) Verify(ctx context.Context, token string) (int64, error) {
	claims, err := s.ParseAccessToken(strings.TrimSpace(token))
	if err != nil {
		return 0, err
	}
	if s.userRepo == nil {
		return claims.UserID, nil
	}
	if _, err := s.userRepo.GetUserByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, potluck_errors.ErrNotFound) {
			return 0, potluck_errors.ErrUnauthenticated
		}
		return 0, err
	}
	return claims.UserID, nil
}

// IssueAccessToken signs a token for userID. Used by the seed tooling and tests.
func (s *AuthService) IssueAccessToken(userID int64) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)

	claims := AccessClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(s.accessTTL.Seconds()), nil
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, potluck_errors.ErrInvalidInput), errors.Is(err, potluck_errors.ErrUnsupportedFormat):
		return 400
	case errors.Is(err, potluck_errors.ErrUnauthenticated):
		return 401
	case errors.Is(err, potluck_errors.ErrForbidden):
		return 403
	case errors.Is(err, potluck_errors.ErrNotFound):
		return 404
	case errors.Is(err, potluck_errors.ErrAlreadyExists):
		return 409
	case errors.Is(err, potluck_errors.ErrTooLarge):
		return 413
	case errors.Is(err, potluck_errors.ErrRateLimited):
		return 429
	case errors.Is(err, potluck_errors.ErrStoreUnavailable), errors.Is(err, potluck_errors.ErrStorageDisabled):
		return 503
	default:
		return 500
	}
}

type ctxKey string

var userIDKey ctxKey = "user_id"

func WithUserContext(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return 0, false
	}
	userID, ok := value.(int64)
	return userID, ok && userID > 0
}
