package api

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/ledger"
)

const userKey = "user_id"

type errorResponse struct {
	Error *errors.Error `json:"error"`
}

// IssueToken signs an HS256 token for the user, valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	return t.SignedString([]byte(secret))
}

func (a *API) authenticate(c *gin.Context) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || raw == "" {
		a.renderError(c, unauthenticated("missing bearer token"))
		return
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		a.renderError(c, unauthenticated("invalid token: %v", err))
		return
	}

	if claims.Subject == "" {
		a.renderError(c, unauthenticated("token has no subject"))
		return
	}

	c.Set(userKey, claims.Subject)
	c.Next()
}

func userID(c *gin.Context) string {
	return c.GetString(userKey)
}

func unauthenticated(format string, args ...any) error {
	return errors.New(errors.CodeUnauthenticated, errors.WithMessagef(format, args...))
}

// bind decodes the request with fn and renders a 400 when it fails.
func (a *API) bind(c *gin.Context, fn func(obj any) error, obj any) bool {
	if err := fn(obj); err != nil {
		a.renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s", err), errors.WithCause(err)))
		return false
	}
	return true
}

func (a *API) renderError(c *gin.Context, err error) {
	e := errors.Convert(err)

	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		e = errors.New(errors.CodeInternal)
	}

	if e.RetryAt != nil {
		secs := math.Ceil(e.RetryAt.Sub(a.now()).Seconds())
		c.Header("Retry-After", strconv.Itoa(max(int(secs), 0)))
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), errorResponse{Error: e})
}

var registerOnce sync.Once

// registerValidations adds the "ticker", "wallet" and "side" binding rules to gin's validator.
func registerValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		rules := map[string]validator.Func{
			"ticker": func(fl validator.FieldLevel) bool {
				_, err := ledger.NormalizeTicker(fl.Field().String())
				return err == nil
			},
			"wallet": func(fl validator.FieldLevel) bool {
				return domain.WalletType(fl.Field().String()).Valid()
			},
			// Sides are accepted in any case.
			"side": func(fl validator.FieldLevel) bool {
				return domain.Side(strings.ToUpper(fl.Field().String())).Valid()
			},
		}

		for tag, fn := range rules {
			if err := v.RegisterValidation(tag, fn); err != nil {
				slog.Error("api: register validation failed", "tag", tag, "error", err)
			}
		}
	})
}
