package credentials

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atelierhq/atelier/internal/v1/types"
)

// ErrAuthInvalid reports a token that failed verification for any reason:
// bad signature, wrong algorithm, expiry, or missing identity fields.
var ErrAuthInvalid = errors.New("auth invalid")

const tokenIssuer = "atelier"

// userClaims is the payload of a user token: proof of a confirmed login.
type userClaims struct {
	User types.User `json:"user"`
	jwt.RegisteredClaims
}

// roomClaims is the payload of a room token: the right to connect to one
// room as one user, with or without host authority.
type roomClaims struct {
	Room string     `json:"room"`
	User types.User `json:"user"`
	Host bool       `json:"host"`
	jwt.RegisteredClaims
}

func (s *Service) registered() jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
}

// SignUserToken mints a user token for a confirmed login.
func (s *Service) SignUserToken(user types.User) (string, error) {
	if user.ID == "" || user.Name == "" {
		return "", fmt.Errorf("%w: user id and name required", ErrAuthInvalid)
	}
	claims := userClaims{User: user, RegisteredClaims: s.registered()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey())
	if err != nil {
		return "", fmt.Errorf("sign user token: %w", err)
	}
	return signed, nil
}

// VerifyUserToken checks a user token and returns the account it vouches
// for.
func (s *Service) VerifyUserToken(tokenString string) (types.User, error) {
	var claims userClaims
	if err := s.parse(tokenString, &claims); err != nil {
		return types.User{}, err
	}
	if claims.User.ID == "" || claims.User.Name == "" {
		return types.User{}, fmt.Errorf("%w: token lacks user identity", ErrAuthInvalid)
	}
	return claims.User, nil
}

// SignRoomToken mints a room token from a claim snapshot.
func (s *Service) SignRoomToken(claim types.RoomClaim) (string, error) {
	if claim.Room == "" {
		return "", fmt.Errorf("%w: room id required", ErrAuthInvalid)
	}
	if claim.User.ID == "" || claim.User.Name == "" {
		return "", fmt.Errorf("%w: user id and name required", ErrAuthInvalid)
	}
	claims := roomClaims{
		Room:             string(claim.Room),
		User:             claim.User,
		Host:             claim.Host,
		RegisteredClaims: s.registered(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey())
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return signed, nil
}

// VerifyRoomToken checks a room token and returns the grant inside it.
func (s *Service) VerifyRoomToken(tokenString string) (types.RoomClaim, error) {
	var claims roomClaims
	if err := s.parse(tokenString, &claims); err != nil {
		return types.RoomClaim{}, err
	}
	if claims.Room == "" || claims.User.ID == "" || claims.User.Name == "" {
		return types.RoomClaim{}, fmt.Errorf("%w: token lacks room grant", ErrAuthInvalid)
	}
	return types.RoomClaim{
		Room: types.RoomID(claims.Room),
		User: claims.User,
		Host: claims.Host,
	}, nil
}

func (s *Service) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey(), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	if !token.Valid {
		return ErrAuthInvalid
	}
	return nil
}
