package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const (
	contextKeyPrincipal = "admin_principal"
	bearerPrefix        = "Bearer "
)

// requireAdmin accepts HS256 bearer tokens signed with signingKey. The
// token subject becomes the principal recorded on expansions.
func requireAdmin(signingKey []byte) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims, func(*jwt.Token) (any, error) {
			return signingKey, nil
		})
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid bearer token"))
			return
		}
		principal, err := inventory.NewPrincipal(claims.Subject)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("authorization_required", "token has no subject"))
			return
		}
		ctx.Set(contextKeyPrincipal, principal)
		ctx.Next()
	}
}

func getPrincipal(ctx *gin.Context) (inventory.Principal, bool) {
	value, ok := ctx.Get(contextKeyPrincipal)
	if !ok {
		return inventory.Principal{}, false
	}
	principal, ok := value.(inventory.Principal)
	return principal, ok
}
