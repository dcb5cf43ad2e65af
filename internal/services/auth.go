package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/envutil"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/requestdata"
)

const minPasswordLength = 8

// JWTClaims carries the authenticated user id as the subject.
type JWTClaims struct {
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// TokenPair is one session: a short-lived JWT plus the rotating refresh
// token. The refresh token is returned raw exactly once; only its hash is
// stored.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthConfig carries the signing key and token lifetimes.
type AuthConfig struct {
	JWTSecretKey string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

func AuthConfigFromEnv() AuthConfig {
	return AuthConfig{
		JWTSecretKey: envutil.String("JWT_SECRET_KEY", ""),
		AccessTTL:    time.Duration(envutil.Int("JWT_ACCESS_TTL_MIN", 15)) * time.Minute,
		RefreshTTL:   time.Duration(envutil.Int("JWT_REFRESH_TTL_HOURS", 720)) * time.Hour,
	}
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*types.User, error)
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context) error
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	AccessTTL() time.Duration
}

type authService struct {
	db            *gorm.DB
	log           *logger.Logger
	userRepo      repos.UserRepo
	userTokenRepo repos.UserTokenRepo
	jwtSecretKey  []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewAuthService(
	db *gorm.DB,
	log *logger.Logger,
	userRepo repos.UserRepo,
	userTokenRepo repos.UserTokenRepo,
	cfg AuthConfig,
) AuthService {
	return &authService{
		db:            db,
		log:           log.With("service", "AuthService"),
		userRepo:      userRepo,
		userTokenRepo: userTokenRepo,
		jwtSecretKey:  []byte(cfg.JWTSecretKey),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*types.User, error) {
	const op = "auth.register"
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "invalid email address")
	}
	if len(in.Password) < minPasswordLength {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "password must be at least %d characters", minPasswordLength)
	}
	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "first name is required")
	}

	exists, err := s.userRepo.EmailExists(dbctx.New(ctx), email)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if exists {
		return nil, aggregates.Errorf(aggregates.CodeConflict, op, "email already registered")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	user := &types.User{
		ID:        uuid.New(),
		Email:     email,
		Password:  string(hashed),
		FirstName: firstName,
		LastName:  strings.TrimSpace(in.LastName),
	}
	if _, err := s.userRepo.Create(dbctx.New(ctx), []*types.User{user}); err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	s.log.Info("user registered", "user_id", user.ID.String())
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	const op = "auth.login"
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "email and password are required")
	}
	users, err := s.userRepo.GetByEmails(dbctx.New(ctx), []string{email})
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	// One error for both unknown email and wrong password; callers learn
	// nothing about which half failed.
	if len(users) == 0 {
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "invalid credentials")
	}
	user := users[0]
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "invalid credentials")
	}

	pair, err := s.issueTokens(ctx, nil, user.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("user logged in", "user_id", user.ID.String())
	return pair, nil
}

// Refresh rotates a session: the presented refresh token is retired and a
// fresh pair is issued in the same transaction.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "auth.refresh"
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "refresh token is required")
	}

	rows, err := s.userTokenRepo.GetByRefreshTokens(dbctx.New(ctx), []string{hashToken(refreshToken)})
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if len(rows) == 0 {
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "unknown refresh token")
	}
	session := rows[0]
	if session.ExpiresAt.Before(time.Now()) {
		// Retire the stale session before rejecting, outside the rotation
		// transaction so the cleanup sticks.
		if err := s.userTokenRepo.SoftDeleteByIDs(dbctx.New(ctx), []uuid.UUID{session.ID}); err != nil {
			return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "refresh token expired")
	}

	var pair *TokenPair
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := s.issueTokens(ctx, tx, session.UserID)
		if err != nil {
			return err
		}
		if err := s.userTokenRepo.SoftDeleteByIDs(dbctx.Context{Ctx: ctx, Tx: tx}, []uuid.UUID{session.ID}); err != nil {
			return aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		pair = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *authService) Logout(ctx context.Context) error {
	const op = "auth.logout"
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.TokenString == "" {
		return aggregates.Errorf(aggregates.CodePreconditionFailed, op, "caller identity missing")
	}
	rows, err := s.userTokenRepo.GetByAccessTokens(dbctx.New(ctx), []string{rd.TokenString})
	if err != nil {
		return aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if len(rows) == 0 {
		// Session already gone; logout is idempotent.
		return nil
	}
	if err := s.userTokenRepo.SoftDeleteByIDs(dbctx.New(ctx), []uuid.UUID{rows[0].ID}); err != nil {
		return aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	s.log.Info("user logged out", "user_id", rows[0].UserID.String())
	return nil
}

// SetContextFromToken validates a bearer token and loads the caller identity
// into the request context. Access tokens are self-contained and short-lived,
// so there is no database lookup here; revocation happens at the refresh
// boundary.
func (s *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	const op = "auth.set_context"
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return ctx, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "missing bearer token")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(*jwt.Token) (any, error) {
		return s.jwtSecretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ctx, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "invalid or expired token")
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return ctx, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "invalid subject claim")
	}
	return requestdata.WithRequestData(ctx, &requestdata.RequestData{
		TokenString: tokenString,
		UserID:      userID,
	}), nil
}

func (s *authService) AccessTTL() time.Duration { return s.accessTTL }

func (s *authService) issueTokens(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*TokenPair, error) {
	const op = "auth.issue_tokens"
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			// Unique jti keeps two logins in the same second from minting
			// identical tokens; access_token carries a unique index.
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecretKey)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	refreshToken := uuid.NewString()
	row := &types.UserToken{
		ID:           uuid.New(),
		UserID:       userID,
		AccessToken:  accessToken,
		RefreshToken: hashToken(refreshToken),
		ExpiresAt:    now.Add(s.refreshTTL),
	}
	if _, err := s.userTokenRepo.Create(dbctx.Context{Ctx: ctx, Tx: tx}, []*types.UserToken{row}); err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.accessTTL),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// hashToken stores only a digest of the refresh token so a leaked table
// cannot mint sessions.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
