package security

import (
	"net/http"
	"strings"

	"medishare/tools/errs"
	sec "medishare/tools/security"

	"github.com/gin-gonic/gin"
)

// context keys; downstream handlers read the verified identity from these
const (
	CtxUserIDKey   = "authUserId"
	CtxUserNameKey = "authUserName"
)

type Options struct {
	JWT sec.Options

	HeaderToken               string // bare-token header, default "token"
	EnableAuthorizationBearer bool   // also accept Authorization: Bearer, default true
}

func DefaultOptions(jwt sec.Options) *Options {
	return &Options{
		JWT:                       jwt,
		HeaderToken:               "token",
		EnableAuthorizationBearer: true,
	}
}

// Middleware verifies the bearer credential on every request and stashes
// the resolved identity in the gin context. This check is independent of
// the realtime handshake check; the two layers never share state.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		if token == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}

		id, err := sec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.AsCodeError(err))
			return
		}

		c.Set(CtxUserIDKey, id.UserID)
		c.Set(CtxUserNameKey, id.Name)
		c.Next()
	}
}

// Identity reads the verified identity placed by Middleware.
func Identity(c *gin.Context) (userID, userName string) {
	return c.GetString(CtxUserIDKey), c.GetString(CtxUserNameKey)
}
