package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/papersim/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// TokenResponse represents the JWT token response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// JWTClaims represents the JWT claims. Admin tokens may act on any account;
// other tokens are scoped to AccountID.
type JWTClaims struct {
	AccountID string `json:"account_id,omitempty"`
	Admin     bool   `json:"admin"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the token may act on accountID
func (c *JWTClaims) CanAccess(accountID string) bool {
	return c.Admin || (c.AccountID != "" && c.AccountID == accountID)
}

// AuthService verifies bearer tokens. Tokens are minted by the operator CLI.
type AuthService struct {
	jwtConfig config.JWTConfig
}

// NewAuthService creates a new AuthService
func NewAuthService(jwtConfig config.JWTConfig) *AuthService {
	return &AuthService{jwtConfig: jwtConfig}
}

// ValidateToken validates a JWT token and returns the claims
func (s *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtConfig.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if !claims.Admin && claims.AccountID == "" {
			return nil, fmt.Errorf("%w: token is not bound to an account", ErrInvalidToken)
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// IssueToken signs a token for accountID, or an admin token when admin is set
func (s *AuthService) IssueToken(accountID string, admin bool) (*TokenResponse, error) {
	if accountID == "" && !admin {
		return nil, errors.New("account id is required for non-admin tokens")
	}
	expiresIn := time.Duration(s.jwtConfig.ExpireHours) * time.Hour

	claims := &JWTClaims{
		AccountID: accountID,
		Admin:     admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "papersim",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: tokenString,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwtConfig.ExpireHours * 3600,
	}, nil
}
