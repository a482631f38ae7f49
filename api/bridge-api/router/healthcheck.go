// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package bridge_routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relayvoice/api/bridge-api/config"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
)

type healthCheck struct {
	cfg      *config.AppConfig
	registry *internal_session.Registry
}

func newHealthCheck(cfg *config.AppConfig, registry *internal_session.Registry) *healthCheck {
	return &healthCheck{cfg: cfg, registry: registry}
}

// Health reports service identity and live session count.
func (h *healthCheck) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":      h.cfg.Name,
		"version":      h.cfg.Version,
		"status":       "ok",
		"liveSessions": h.registry.Count(),
	})
}
