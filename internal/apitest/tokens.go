package apitest

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessTokenType  = "access"
	refreshTokenType = "refresh"

	accessTokenExpiry  = 5 * time.Minute
	refreshTokenExpiry = 24 * time.Hour
)

const tokenNotValidDetail = "Given token not valid for any token type"

var errTokenNotValid = errors.New("token not valid")

// tokenClaims is what the fake service reads back from a token it issued.
type tokenClaims struct {
	Username   string
	JTI        string
	Type       string
	Generation int
}

// mintToken signs an HS256 token for username. Generation lets tests expire every
// access token issued so far.
func (s *Server) mintToken(username, tokenType string, generation int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub":        username,
		"token_type": tokenType,
		"gen":        generation,
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
		"jti":        uuid.New().String(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// inspect validates the signature, expiry and type of raw.
func (s *Server) inspect(raw, wantType string) (tokenClaims, error) {
	parsed, err := jwtlib.Parse(raw, func(t *jwtlib.Token) (interface{}, error) {
		return s.key, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return tokenClaims{}, errTokenNotValid
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return tokenClaims{}, errTokenNotValid
	}

	out := tokenClaims{}
	out.Username, _ = claims["sub"].(string)
	out.JTI, _ = claims["jti"].(string)
	out.Type, _ = claims["token_type"].(string)
	if gen, ok := claims["gen"].(float64); ok {
		out.Generation = int(gen)
	}
	if out.Type != wantType || out.Username == "" || out.JTI == "" {
		return tokenClaims{}, errTokenNotValid
	}
	return out, nil
}

// issuePair mints a fresh access and refresh token. Callers hold s.mu.
func (s *Server) issuePair(username string) (access, refresh string, err error) {
	access, err = s.mintToken(username, accessTokenType, s.accessGeneration, accessTokenExpiry)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.mintToken(username, refreshTokenType, 0, refreshTokenExpiry)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
