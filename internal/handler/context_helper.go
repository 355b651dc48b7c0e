package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gatepass-api/internal/middleware"
	"github.com/noah-isme/gatepass-api/internal/models"
	"github.com/noah-isme/gatepass-api/internal/workflow"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

func actorFromContext(c *gin.Context) workflow.Actor {
	return workflow.ActorFromClaims(claimsFromContext(c))
}
