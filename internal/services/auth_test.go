package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	"github.com/yungbote/famlink-backend/internal/data/repos/testutil"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/requestdata"
)

const testPassword = "correct-horse-battery"

type authFixture struct {
	db     *gorm.DB
	svc    AuthService
	users  repos.UserRepo
	tokens repos.UserTokenRepo
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	users := repos.NewUserRepo(db, log)
	tokens := repos.NewUserTokenRepo(db, log)
	svc := NewAuthService(db, log, users, tokens, AuthConfig{
		JWTSecretKey: "test-secret",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   720 * time.Hour,
	})
	return &authFixture{db: db, svc: svc, users: users, tokens: tokens}
}

func (f *authFixture) register(t *testing.T, email string) *types.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  testPassword,
		FirstName: "Pat",
		LastName:  "Harper",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}

func (f *authFixture) activeTokens(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&types.UserToken{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		t.Fatalf("count user tokens: %v", err)
	}
	return n
}

func TestAuthRegister(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: testPassword, FirstName: "Pat"}); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("expected validation error for bad email, got %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "pat@example.com", Password: "short", FirstName: "Pat"}); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "pat@example.com", Password: testPassword, FirstName: "  "}); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("expected validation error for missing first name, got %v", err)
	}

	user := f.register(t, "  Pat@Example.COM  ")
	if user.ID == uuid.Nil {
		t.Fatal("expected user id to be assigned")
	}
	if user.Email != "pat@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.Password == testPassword {
		t.Fatal("password stored in the clear")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(testPassword)); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "PAT@example.com", Password: testPassword, FirstName: "Other"}); !aggregates.IsCode(err, aggregates.CodeConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
}

func TestAuthLoginIssuesTokenPair(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.register(t, "pat@example.com")

	pair, err := f.svc.Login(ctx, "PAT@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens in the pair")
	}
	if !pair.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected future access expiry, got %v", pair.ExpiresAt)
	}
	if got := f.activeTokens(t, user.ID); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}

	_, wrongPass := f.svc.Login(ctx, "pat@example.com", "wrong-password")
	if !aggregates.IsCode(wrongPass, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for wrong password, got %v", wrongPass)
	}
	_, unknownEmail := f.svc.Login(ctx, "nobody@example.com", testPassword)
	if !aggregates.IsCode(unknownEmail, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for unknown email, got %v", unknownEmail)
	}
	// Wrong password and unknown email must be indistinguishable.
	if wrongPass.Error() != unknownEmail.Error() {
		t.Fatalf("login failures leak which half failed: %q vs %q", wrongPass.Error(), unknownEmail.Error())
	}

	if _, err := f.svc.Login(ctx, "", testPassword); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("expected validation error for empty email, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "pat@example.com", ""); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("expected validation error for empty password, got %v", err)
	}
}

func TestAuthTokenRoundTrip(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.register(t, "pat@example.com")

	pair, err := f.svc.Login(ctx, "pat@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	authed, err := f.svc.SetContextFromToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("set context from token: %v", err)
	}
	rd := requestdata.GetRequestData(authed)
	if rd == nil {
		t.Fatal("expected request data on context")
	}
	if rd.UserID != user.ID {
		t.Fatalf("expected user %s on context, got %s", user.ID, rd.UserID)
	}
	if rd.TokenString != pair.AccessToken {
		t.Fatal("expected bearer token carried on context")
	}

	if got := f.svc.AccessTTL(); got != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %v", got)
	}

	if _, err := f.svc.SetContextFromToken(ctx, ""); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for missing token, got %v", err)
	}
	if _, err := f.svc.SetContextFromToken(ctx, "not-a-token"); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for garbage token, got %v", err)
	}

	// Token signed with a different key must be rejected.
	otherSvc := NewAuthService(f.db, testutil.Logger(t), f.users, f.tokens, AuthConfig{
		JWTSecretKey: "other-secret",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   720 * time.Hour,
	})
	otherPair, err := otherSvc.Login(ctx, "pat@example.com", testPassword)
	if err != nil {
		t.Fatalf("login via other service: %v", err)
	}
	if _, err := f.svc.SetContextFromToken(ctx, otherPair.AccessToken); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for foreign signature, got %v", err)
	}

	// Expired token must be rejected even with a valid signature.
	expiredSvc := NewAuthService(f.db, testutil.Logger(t), f.users, f.tokens, AuthConfig{
		JWTSecretKey: "test-secret",
		AccessTTL:    -time.Minute,
		RefreshTTL:   720 * time.Hour,
	})
	expiredPair, err := expiredSvc.Login(ctx, "pat@example.com", testPassword)
	if err != nil {
		t.Fatalf("login via expired service: %v", err)
	}
	if _, err := f.svc.SetContextFromToken(ctx, expiredPair.AccessToken); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for expired token, got %v", err)
	}
}

func TestAuthRefreshRotation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.register(t, "pat@example.com")

	first, err := f.svc.Login(ctx, "pat@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.AccessToken == first.AccessToken || second.RefreshToken == first.RefreshToken {
		t.Fatal("expected refresh to mint a new pair")
	}

	// The first refresh token is single-use.
	if _, err := f.svc.Refresh(ctx, first.RefreshToken); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed reusing rotated token, got %v", err)
	}

	// The chain continues from the fresh token.
	third, err := f.svc.Refresh(ctx, second.RefreshToken)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if third.AccessToken == second.AccessToken {
		t.Fatal("expected distinct access token per refresh")
	}
	if got := f.activeTokens(t, user.ID); got != 1 {
		t.Fatalf("expected rotation to keep exactly 1 active session, got %d", got)
	}

	if _, err := f.svc.Refresh(ctx, "never-issued"); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for unknown token, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "  "); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("expected validation error for blank token, got %v", err)
	}

	// Sessions past their refresh window are rejected and retired.
	stale := &types.UserToken{
		ID:           uuid.New(),
		UserID:       user.ID,
		AccessToken:  "seed-access-" + uuid.NewString(),
		RefreshToken: hashToken("stale-refresh"),
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	if err := f.db.Create(stale).Error; err != nil {
		t.Fatalf("seed stale session: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "stale-refresh"); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed for expired token, got %v", err)
	}
	var staleLeft int64
	if err := f.db.Model(&types.UserToken{}).Where("id = ?", stale.ID).Count(&staleLeft).Error; err != nil {
		t.Fatalf("count stale session: %v", err)
	}
	if staleLeft != 0 {
		t.Fatal("expected expired session to be retired")
	}
}

func TestAuthLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.register(t, "pat@example.com")

	pair, err := f.svc.Login(ctx, "pat@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	authed, err := f.svc.SetContextFromToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("set context from token: %v", err)
	}

	if err := f.svc.Logout(authed); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := f.activeTokens(t, user.ID); got != 0 {
		t.Fatalf("expected no active sessions after logout, got %d", got)
	}

	// The session's refresh token dies with it.
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed refreshing after logout, got %v", err)
	}

	// Logging out an already-dead session is a no-op.
	if err := f.svc.Logout(authed); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}

	if err := f.svc.Logout(context.Background()); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("expected precondition_failed without caller identity, got %v", err)
	}
}
