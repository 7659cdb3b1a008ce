package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthenticated = errors.New("unauthenticated")

const serviceTokenPrefix = "svc:"

// Resolver turns a bearer credential into a user id.
//
// Two credential shapes are accepted: a regular HS256 JWT carrying the user
// id in the "sub" claim, and a service token of the form
// "svc:<bot_user_id>:<secret>" used by the out-of-process bot worker. The
// service secret is checked against a bcrypt hash so the plain secret never
// lives in server config.
type Resolver struct {
	jwtSecret     string
	botSecretHash string
}

func NewResolver(jwtSecret, botSecretHash string) *Resolver {
	return &Resolver{jwtSecret: jwtSecret, botSecretHash: botSecretHash}
}

// Resolve returns the user id for the credential, or ErrUnauthenticated.
func (r *Resolver) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}
	if strings.HasPrefix(token, serviceTokenPrefix) {
		return r.resolveService(token)
	}
	return r.resolveJWT(token)
}

func (r *Resolver) resolveJWT(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return []byte(r.jwtSecret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrUnauthenticated
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrUnauthenticated
	}
	return sub, nil
}

func (r *Resolver) resolveService(token string) (string, error) {
	if r.botSecretHash == "" {
		return "", ErrUnauthenticated
	}
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 || parts[1] == "" {
		return "", ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(r.botSecretHash), []byte(parts[2])); err != nil {
		return "", ErrUnauthenticated
	}
	return parts[1], nil
}

// CreateAccessToken issues a short-lived HS256 JWT for a user id.
func CreateAccessToken(userID, jwtSecret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// ServiceToken builds the bot worker's shared-credential token.
func ServiceToken(botUserID, secret string) string {
	return serviceTokenPrefix + botUserID + ":" + secret
}

// HashServiceSecret generates the bcrypt hash to store in BOT_SERVICE_SECRET.
func HashServiceSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
