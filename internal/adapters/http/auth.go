package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/app"
	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
)

const tokenTTL = 24 * time.Hour

type walletClaims struct {
	Address    string `json:"address"`
	ENSName    string `json:"ensName,omitempty"`
	WalletType string `json:"walletType,omitempty"`
	jwt.RegisteredClaims
}

// AuthController issues and verifies wallet identity tokens. Signature
// verification happens wallet-side; the server trusts the connected
// address the same way the page does.
type AuthController struct {
	Secret []byte
	Reg    *app.Registry
	Oracle core.EntitlementOracle
}

type loginRequest struct {
	Address    string `json:"address" binding:"required"`
	ENSName    string `json:"ensName"`
	Balance    string `json:"balance"`
	WalletType string `json:"walletType"`
}

func (a *AuthController) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !domain.ValidAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrBadAddress.Error()})
		return
	}

	user := domain.WalletUser{
		Address:    strings.ToLower(req.Address),
		ENSName:    req.ENSName,
		Balance:    req.Balance,
		WalletType: req.WalletType,
	}
	a.Reg.SetUser(c.GetString("client_token"), user)

	now := time.Now()
	claims := walletClaims{
		Address:    user.Address,
		ENSName:    user.ENSName,
		WalletType: user.WalletType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
		return
	}

	log.Info().Str("module", "adapters.http").Str("address", user.Address).Msg("wallet login")
	c.JSON(http.StatusOK, gin.H{"token": signed, "user": user})
}

// RequireAuth verifies the bearer token and stashes the wallet address
// in the request context.
func (a *AuthController) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims := &walletClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.Secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("wallet_address", claims.Address)
		c.Next()
	}
}

func (a *AuthController) Me(c *gin.Context) {
	address := c.GetString("wallet_address")
	status := core.KeyStatus{}
	if a.Oracle != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		status = a.Oracle.KeyStatus(ctx, address)
	}
	c.JSON(http.StatusOK, gin.H{
		"address":    address,
		"hasKey":     status.HasKey,
		"isPremium":  status.Entitled(),
		"keyError":   status.Err,
		"keyLoading": status.Loading,
	})
}
