package httpadapter

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ownerIdentity issues and verifies the signed owner cookie. The token carries the owner id as
// its subject and never expires server-side; the browser drops it after MaxAge.
type ownerIdentity struct {
	name     string
	secret   []byte
	maxAge   time.Duration
	secure   bool
	sameSite http.SameSite
	now      func() time.Time
}

func newOwnerIdentity(name, secret string, maxAgeDays int, secure bool, sameSite string) *ownerIdentity {
	if name == "" {
		name = "user_id"
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 7
	}
	mode := parseSameSite(sameSite)
	if mode == http.SameSiteNoneMode {
		secure = true
	}
	return &ownerIdentity{
		name:     name,
		secret:   []byte(secret),
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		secure:   secure,
		sameSite: mode,
		now:      time.Now,
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// owner returns the verified owner id from the request cookie.
func (id *ownerIdentity) owner(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(id.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (any, error) {
		return id.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", false
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", false
	}
	return subject, true
}

func (id *ownerIdentity) issue(w http.ResponseWriter, ownerID string) error {
	claims := jwt.RegisteredClaims{
		Subject:  ownerID,
		IssuedAt: jwt.NewNumericDate(id.now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(id.secret)
	if err != nil {
		return fmt.Errorf("sign owner cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     id.name,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(id.maxAge / time.Second),
		HttpOnly: true,
		Secure:   id.secure,
		SameSite: id.sameSite,
	})
	return nil
}

func newOwnerID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
