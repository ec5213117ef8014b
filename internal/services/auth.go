package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/ctxutil"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// JWTClaims is the HS256 access-token payload. Locale rides along so the
// middleware can resolve messages without a user lookup.
type JWTClaims struct {
	Locale string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Locale    string
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*types.User, TokenPair, error)
	Login(ctx context.Context, email, password string) (*types.User, TokenPair, error)
	Refresh(ctx context.Context) (TokenPair, error)
	Logout(ctx context.Context) error
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	Roles(ctx context.Context) ([]string, error)
	AccessTTL() time.Duration
}

type authService struct {
	db          *gorm.DB
	log         *logger.Logger
	users       repos.UserRepo
	tokens      repos.UserTokenRepo
	memberships repos.MembershipRepo
	avatars     AvatarService
	jwtSecret   string
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewAuthService(
	db *gorm.DB,
	baseLog *logger.Logger,
	users repos.UserRepo,
	tokens repos.UserTokenRepo,
	memberships repos.MembershipRepo,
	avatars AvatarService,
	jwtSecret string,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) AuthService {
	return &authService{
		db:          db,
		log:         baseLog.With("service", "AuthService"),
		users:       users,
		tokens:      tokens,
		memberships: memberships,
		avatars:     avatars,
		jwtSecret:   jwtSecret,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

func (as *authService) AccessTTL() time.Duration { return as.accessTTL }

// Register creates the user with a generated initials avatar and logs them
// straight in. Sessions are per-device: every login gets its own token row.
func (as *authService) Register(ctx context.Context, input RegisterInput) (*types.User, TokenPair, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !emailPattern.MatchString(email) {
		return nil, TokenPair{}, apierr.BadRequest("invalid_email", fmt.Errorf("email %q is not valid", input.Email))
	}
	if len(input.Password) < 8 {
		return nil, TokenPair{}, apierr.BadRequest("weak_password", fmt.Errorf("password must be at least 8 characters"))
	}
	firstName := strings.TrimSpace(input.FirstName)
	lastName := strings.TrimSpace(input.LastName)
	if firstName == "" || lastName == "" {
		return nil, TokenPair{}, apierr.BadRequest("missing_name", fmt.Errorf("first and last name are required"))
	}

	exists, err := as.users.EmailExists(ctx, nil, email)
	if err != nil {
		return nil, TokenPair{}, apierr.Internal("user_lookup_failed", err)
	}
	if exists {
		return nil, TokenPair{}, apierr.Conflict("email_taken", fmt.Errorf("email %s already registered", email))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, TokenPair{}, apierr.Internal("password_hash_failed", err)
	}

	user := &types.User{
		ID:                 uuid.New(),
		Email:              email,
		Password:           string(hash),
		FirstName:          firstName,
		LastName:           lastName,
		Locale:             types.NormalizeLocale(input.Locale),
		EmailNotifications: true,
	}

	var pair TokenPair
	err = as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if as.avatars != nil {
			if err := as.avatars.GenerateAndUpload(ctx, user); err != nil {
				return fmt.Errorf("generate avatar: %w", err)
			}
		}
		if _, err := as.users.Create(ctx, tx, []*types.User{user}); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		p, err := as.issueTokens(ctx, tx, user)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		return nil, TokenPair{}, apierr.Internal("registration_failed", err)
	}
	return user, pair, nil
}

// Login verifies credentials and opens a new session. The error code never
// says whether the email or the password was wrong.
func (as *authService) Login(ctx context.Context, email, password string) (*types.User, TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := as.users.GetByEmail(ctx, nil, email)
	if err != nil {
		return nil, TokenPair{}, apierr.Internal("user_lookup_failed", err)
	}
	if user == nil {
		return nil, TokenPair{}, apierr.Unauthorized("invalid_credentials", fmt.Errorf("unknown email or wrong password"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, TokenPair{}, apierr.Unauthorized("invalid_credentials", fmt.Errorf("unknown email or wrong password"))
	}

	var pair TokenPair
	err = as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := as.issueTokens(ctx, tx, user)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		return nil, TokenPair{}, apierr.Internal("login_failed", err)
	}
	return user, pair, nil
}

// Refresh rotates the presented session: the old row is deleted in the same
// transaction the new one is created, so a replayed refresh token dies with
// it. Other sessions of the same user are untouched.
func (as *authService) Refresh(ctx context.Context) (TokenPair, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.RefreshToken == "" {
		return TokenPair{}, apierr.Unauthorized("missing_refresh_token", fmt.Errorf("no refresh token presented"))
	}

	var pair TokenPair
	err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := as.tokens.GetByRefreshToken(ctx, tx, rd.RefreshToken)
		if err != nil {
			return apierr.Internal("token_lookup_failed", err)
		}
		if row == nil {
			return apierr.Unauthorized("invalid_refresh_token", fmt.Errorf("refresh token not recognized"))
		}
		if row.ExpiresAt.Before(time.Now()) {
			if err := as.tokens.DeleteByIDs(ctx, tx, []uuid.UUID{row.ID}); err != nil {
				return apierr.Internal("token_delete_failed", err)
			}
			return apierr.Unauthorized("refresh_token_expired", fmt.Errorf("refresh token expired"))
		}
		user, err := as.users.GetByID(ctx, tx, row.UserID)
		if err != nil {
			return apierr.Internal("user_lookup_failed", err)
		}
		if user == nil {
			return apierr.Unauthorized("invalid_refresh_token", fmt.Errorf("refresh token user gone"))
		}
		p, err := as.issueTokens(ctx, tx, user)
		if err != nil {
			return apierr.Internal("token_issue_failed", err)
		}
		if err := as.tokens.DeleteByIDs(ctx, tx, []uuid.UUID{row.ID}); err != nil {
			return apierr.Internal("token_delete_failed", err)
		}
		pair = p
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Logout removes the presented session row. Logging out twice is fine.
func (as *authService) Logout(ctx context.Context) error {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.TokenString == "" {
		return apierr.Unauthorized("missing_token", fmt.Errorf("no access token presented"))
	}
	return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := as.tokens.GetByAccessToken(ctx, tx, rd.TokenString)
		if err != nil {
			return apierr.Internal("token_lookup_failed", err)
		}
		if row == nil {
			return nil
		}
		if err := as.tokens.DeleteByIDs(ctx, tx, []uuid.UUID{row.ID}); err != nil {
			return apierr.Internal("token_delete_failed", err)
		}
		return nil
	})
}

// SetContextFromToken validates the JWT, checks the session row still exists
// (logout revokes mid-lifetime tokens), and hangs the request data on ctx.
func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, apierr.Unauthorized("missing_token", fmt.Errorf("no access token presented"))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(as.jwtSecret), nil
	})
	if err != nil {
		return ctx, apierr.Unauthorized("invalid_token", err)
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return ctx, apierr.Unauthorized("invalid_token", fmt.Errorf("token claims invalid"))
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, apierr.Unauthorized("invalid_token", fmt.Errorf("bad subject: %w", err))
	}
	row, err := as.tokens.GetByAccessToken(ctx, nil, tokenString)
	if err != nil {
		return ctx, apierr.Internal("token_lookup_failed", err)
	}
	if row == nil || row.UserID != userID {
		return ctx, apierr.Unauthorized("session_revoked", fmt.Errorf("session no longer active"))
	}
	rd := &ctxutil.RequestData{
		TokenString:  tokenString,
		RefreshToken: row.RefreshToken,
		UserID:       userID,
		Locale:       types.NormalizeLocale(claims.Locale),
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}

// Roles returns the caller's effective role set: the programme role plus the
// distinct roles of every organization membership.
func (as *authService) Roles(ctx context.Context) ([]string, error) {
	user, err := requireUser(ctx, nil, as.users)
	if err != nil {
		return nil, err
	}
	roles := []string{}
	if user.ProgrammeRole != "" {
		roles = append(roles, user.ProgrammeRole)
	}
	memberships, err := as.memberships.ListByUser(ctx, nil, user.ID)
	if err != nil {
		return nil, apierr.Internal("membership_lookup_failed", err)
	}
	seen := map[string]bool{}
	for _, m := range memberships {
		if m.Role == "" || seen[m.Role] {
			continue
		}
		seen[m.Role] = true
		roles = append(roles, m.Role)
	}
	return roles, nil
}

func (as *authService) issueTokens(ctx context.Context, tx *gorm.DB, user *types.User) (TokenPair, error) {
	access, err := as.signAccessToken(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh := uuid.New().String()
	row := &types.UserToken{
		ID:           uuid.New(),
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(as.refreshTTL),
	}
	if _, err := as.tokens.Create(ctx, tx, []*types.UserToken{row}); err != nil {
		return TokenPair{}, fmt.Errorf("create user token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (as *authService) signAccessToken(user *types.User) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Locale: user.Locale,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecret))
}
