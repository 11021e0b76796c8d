package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/step-sync-service/internal/dto"
	"github.com/prperemyshlev/step-sync-service/internal/utils"
)

const (
	operatorSubjectKey = "operator_subject"
	operatorClaimsKey  = "operator_claims"
)

// OperatorTokenValidator verifies operator bearer tokens
type OperatorTokenValidator interface {
	ValidateToken(tokenString string) (*utils.OperatorClaims, error)
}

// OperatorAuthMiddleware validates an operator JWT and adds its claims to the context
func OperatorAuthMiddleware(validator OperatorTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error:   "Unauthorized",
				Message: "Authorization header is required",
			})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error:   "Unauthorized",
				Message: "Invalid authorization header format",
			})
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error:   "Unauthorized",
				Message: "Invalid or expired operator token",
			})
			c.Abort()
			return
		}

		c.Set(operatorSubjectKey, claims.Subject)
		c.Set(operatorClaimsKey, claims)

		c.Next()
	}
}
