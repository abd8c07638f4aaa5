package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	unknownUserName     = "Unknown"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

// AuthOptions selects how tokens are verified. LocalMode "hs256" verifies
// against LocalSecret instead of the JWKS.
type AuthOptions struct {
	LocalMode   string
	LocalSecret string
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string, opts AuthOptions) (*Auth, error) {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer, keyCacheTTL: opts.KeyCacheTTL}
	if a.keyCacheTTL == 0 {
		a.keyCacheTTL = defaultJWKSCacheTTL
	}
	if a.keyCacheTTL < 0 {
		return nil, errors.New("invalid JWKS cache TTL")
	}

	switch mode := strings.ToLower(opts.LocalMode); mode {
	case "":
	case "hs256":
		if opts.LocalSecret == "" {
			return nil, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		a.TestMode = true
		a.TestSecret = []byte(opts.LocalSecret)
	default:
		return nil, errors.New("unsupported LOCAL_AUTH_MODE value")
	}

	if a.TestMode {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		if jwks == nil {
			return nil, errors.New("jwks not configured")
		}
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a, nil
}

// Authenticate extracts the caller identity from the Authorization header.
func (a *Auth) Authenticate(h string) (Identity, error) {
	if h == "" {
		return Identity{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return Identity{}, err
	}
	return a.IdentityFromBearer(token)
}

// IdentityFromBearer verifies a bearer token presented as raw bytes.
func (a *Auth) IdentityFromBearer(token []byte) (Identity, error) {
	if len(token) == 0 {
		return Identity{}, errBadAuthorization
	}

	tokenStr := readOnlyString(token)
	var parsedToken *jwt.Token
	var err error
	if a.TestMode {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return a.keyForToken(t)
		})
	}
	if err != nil {
		return Identity{}, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return Identity{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return Identity{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return Identity{}, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return Identity{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return Identity{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, errors.New("missing sub")
	}

	id := Identity{UserID: sub, Name: unknownUserName}
	if name, ok := claims["name"].(string); ok && strings.TrimSpace(name) != "" {
		id.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	return id, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
