package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var ErrInvalidToken = errors.New("invalid access token")

// Claims identify the holder of an access token.
type Claims struct {
	UserID   string
	Role     session.Role
	VendorID string
}

type Service interface {
	GenerateAccessToken(claims Claims) (token string, expiresAt int64, err error)
	ValidateAccessToken(tokenString string) (session.Scope, error)
	ScopeFromToken(token jwt.Token) (session.Scope, error)
	JWTAuth() *jwtauth.JWTAuth
}

type JWTService struct {
	accessTokenExpirationTime string
	tokenAuth                 *jwtauth.JWTAuth
}

func (j *JWTService) JWTAuth() *jwtauth.JWTAuth {
	return j.tokenAuth
}

// NewJWTService creates an HS256 token service. Tokens are issued by the
// dispatch backend's auth service with the same secret; the gateway mostly
// verifies them.
func NewJWTService(secretKey string, accessTokenExpirationTime string) Service {
	return &JWTService{
		accessTokenExpirationTime: accessTokenExpirationTime,
		tokenAuth:                 jwtauth.New("HS256", []byte(secretKey), nil, jwt.WithAcceptableSkew(30*time.Second)),
	}
}

func (j *JWTService) GenerateAccessToken(c Claims) (token string, expiresAt int64, err error) {
	expDuration, err := time.ParseDuration(j.accessTokenExpirationTime)
	if err != nil {
		return "", 0, err
	}
	expiresAt = time.Now().Add(expDuration).Unix()

	claims := map[string]interface{}{
		"user_id": c.UserID,
		"role":    string(c.Role),
		"type":    "access",
		"exp":     expiresAt,
	}
	if c.VendorID != "" {
		claims["vendor_id"] = c.VendorID
	}

	_, tokenString, err := j.tokenAuth.Encode(claims)
	return tokenString, expiresAt, err
}

// ValidateAccessToken verifies a raw token, as sent in the push channel's
// authenticate frame, and returns the scope it grants.
func (j *JWTService) ValidateAccessToken(tokenString string) (session.Scope, error) {
	token, err := jwtauth.VerifyToken(j.tokenAuth, tokenString)
	if err != nil {
		return session.Scope{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	scope, err := j.ScopeFromToken(token)
	if err != nil {
		return session.Scope{}, err
	}
	scope.Credential = tokenString
	return scope, nil
}

// ScopeFromToken reads the scope claims of an already verified token.
func (j *JWTService) ScopeFromToken(token jwt.Token) (session.Scope, error) {
	if token == nil {
		return session.Scope{}, ErrInvalidToken
	}

	// Check token type
	tokenType, ok := token.Get("type")
	if !ok || tokenType != "access" {
		return session.Scope{}, ErrInvalidToken
	}

	userID, _ := claimString(token, "user_id")
	if userID == "" {
		return session.Scope{}, ErrInvalidToken
	}

	roleClaim, _ := claimString(token, "role")
	role, err := session.ParseRole(roleClaim)
	if err != nil {
		return session.Scope{}, err
	}

	vendorID, _ := claimString(token, "vendor_id")
	if role == session.RoleVendor && vendorID == "" {
		return session.Scope{}, session.ErrMissingVendorID
	}

	return session.Scope{Role: role, UserID: userID, VendorID: vendorID}, nil
}

func claimString(token jwt.Token, key string) (string, bool) {
	v, ok := token.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
