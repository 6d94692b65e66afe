package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"pmbots/internal/apperr"
	"pmbots/internal/subscription"
)

const (
	ctxUserID  = "user_id"
	ctxRole    = "role"
	ctxSession = "session"

	RoleAdmin = "admin"
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`

	jwt.RegisteredClaims
}

// Auth verifies HS256 bearer tokens issued by the account service. When
// Disabled is set the caller is taken from X-User-ID, for local use only.
type Auth struct {
	Secret   []byte
	Issuer   string
	Disabled bool
}

func (a Auth) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if claims.Issuer == "" {
		claims.Issuer = a.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

func (a Auth) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.Secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if c.UserID == "" {
		c.UserID = c.Subject
	}
	if c.UserID == "" {
		return Claims{}, errors.New("token has no user")
	}
	return *c, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller on the context.
func (a Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Disabled {
			uid := strings.TrimSpace(c.GetHeader("X-User-ID"))
			if uid == "" {
				Error(c, apperr.New(apperr.CodeUnauthorized, "missing user"))
				return
			}
			c.Set(ctxUserID, uid)
			c.Set(ctxRole, strings.TrimSpace(c.GetHeader("X-User-Role")))
			c.Set(ctxSession, uid)
			c.Next()
			return
		}

		raw := bearer(c)
		if raw == "" {
			Error(c, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
			return
		}
		claims, err := a.Verify(raw)
		if err != nil {
			Error(c, apperr.Wrap(apperr.CodeUnauthorized, "invalid token", err))
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Set(ctxSession, sessionHandle(claims))
		c.Next()
	}
}

// bearer reads the Authorization header, falling back to the access_token
// query parameter for websocket clients that cannot set headers.
func bearer(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(c.Query("access_token"))
}

// sessionHandle scopes import key pairs to one login.
func sessionHandle(c Claims) string {
	switch {
	case c.ID != "":
		return c.UserID + ":" + c.ID
	case c.IssuedAt != nil:
		return c.UserID + ":" + strconv.FormatInt(c.IssuedAt.Unix(), 10)
	default:
		return c.UserID
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != RoleAdmin {
			Error(c, apperr.New(apperr.CodeForbidden, "admin only"))
			return
		}
		c.Next()
	}
}

// PlanContext attaches one subscription.Context per authenticated request so
// plan and usage lookups are shared by every check the request makes.
func PlanContext(src subscription.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := userID(c); id != "" {
			sc := subscription.NewContext(src, id, time.Now())
			c.Request = c.Request.WithContext(subscription.WithContext(c.Request.Context(), sc))
		}
		c.Next()
	}
}

func userID(c *gin.Context) string { return c.GetString(ctxUserID) }

func session(c *gin.Context) string { return c.GetString(ctxSession) }
