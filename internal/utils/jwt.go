package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OperatorRole is the role claim required on operator tokens
const OperatorRole = "operator"

// OperatorClaims identifies the caller of an operator endpoint
type OperatorClaims struct {
	Subject string
	Role    string
	Exp     int64
	Iat     int64
}

// OperatorTokenManager issues and verifies HS256 operator tokens
type OperatorTokenManager struct {
	secret []byte
}

// NewOperatorTokenManager creates a new operator token manager
func NewOperatorTokenManager(secret string) *OperatorTokenManager {
	return &OperatorTokenManager{secret: []byte(secret)}
}

// GenerateToken signs an operator token for subject
func (m *OperatorTokenManager) GenerateToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": OperatorRole,
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
		"jti":  uuid.New().String(),
	})

	tokenString, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates an operator token and returns its claims
func (m *OperatorTokenManager) ValidateToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	role, _ := claims["role"].(string)
	if role != OperatorRole {
		return nil, fmt.Errorf("token does not carry the operator role")
	}

	subject, _ := claims["sub"].(string)

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid exp in token")
	}

	iat, _ := claims["iat"].(float64)

	return &OperatorClaims{
		Subject: subject,
		Role:    role,
		Exp:     int64(exp),
		Iat:     int64(iat),
	}, nil
}
