package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/adapters/store"
	"github.com/dgrange/huddle/internal/core"
)

// InviteController mints and resolves meeting invite codes.
type InviteController struct {
	Store core.SessionStore
}

func (ic *InviteController) Create(c *gin.Context) {
	if ic.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "invites unavailable"})
		return
	}
	inviter := c.GetString("wallet_address")
	inv, err := ic.Store.CreateInvite(c.Request.Context(), inviter)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("invite create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invite creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": inv.Code, "inviter": inv.Inviter})
}

func (ic *InviteController) Resolve(c *gin.Context) {
	if ic.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "invites unavailable"})
		return
	}
	code := c.Param("code")
	inv, err := ic.Store.Invite(c.Request.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invite lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": inv.Code, "inviter": inv.Inviter, "createdAt": inv.CreatedAt})
}
