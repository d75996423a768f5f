package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"post-mirror/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// UserClaims identifies the app user a bearer token was issued to.
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.StandardClaims
}

// Auth validates the HS256 bearer token and sets user_id on the context.
func Auth(secretKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authorization := ctx.Request.Header.Get("Authorization")
		token := strings.TrimPrefix(authorization, "Bearer ")
		if authorization == "" || token == authorization || token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		claims, err := getClaims(token, secretKey)
		if err != nil {
			logger.GetLogger().WithField("error", err).Debug("rejected bearer token")
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason(err)})
			return
		}
		ctx.Set("user_id", claims.UserID)
		ctx.Next()
	}
}

func reason(err error) string {
	var ve *jwt.ValidationError
	if errors.As(err, &ve) {
		if ve.Errors&jwt.ValidationErrorMalformed != 0 {
			return "That's not even a token"
		} else if ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0 {
			// Token is either expired or not active yet
			return "Timing is everything"
		}
	}
	return fmt.Sprintf("Couldn't handle this token: %v", err)
}

func getClaims(raw, secretKey string) (*UserClaims, error) {
	if secretKey == "" {
		return nil, errors.New("secret key not configured")
	}
	var claims UserClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("token carries no user")
	}
	return &claims, nil
}
