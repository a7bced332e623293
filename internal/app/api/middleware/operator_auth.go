package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/response"
)

// OperatorKey holds the authenticated operator name on gin.Context.
const OperatorKey = "operator"

var errNoToken = errors.New("missing bearer token")

// OperatorClaims are carried by operator tokens, signed with HS256.
type OperatorClaims struct {
	Operator string `json:"operator"`
	jwt.StandardClaims
}

// ParseOperatorToken verifies an HS256 token and returns its claims. Expiry is enforced
// when the token carries one.
func ParseOperatorToken(tokenString string, secret []byte) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Operator == "" {
		return nil, errors.New("invalid operator token")
	}
	return claims, nil
}

func bearerToken(c *gin.Context) (string, error) {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", errNoToken
	}
	return strings.TrimSpace(h[len(prefix):]), nil
}

// OperatorAuthMiddleware guards the admin API. With no secret configured every request
// is refused.
func OperatorAuthMiddleware(secret string, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, base)
		if secret == "" {
			log.Warnw("operator_auth_disabled", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		tok, err := bearerToken(c)
		if err == nil {
			var claims *OperatorClaims
			if claims, err = ParseOperatorToken(tok, []byte(secret)); err == nil {
				c.Set(OperatorKey, claims.Operator)
				c.Next()
				return
			}
		}
		log.Infow("operator_auth_rejected", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
	}
}
