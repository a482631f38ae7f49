// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package bridge_routers

import (
	"github.com/gin-gonic/gin"

	"github.com/relayvoice/api/bridge-api/config"
	channel_observer "github.com/relayvoice/api/bridge-api/internal/channel/observer"
	channel_telephony "github.com/relayvoice/api/bridge-api/internal/channel/telephony"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
	"github.com/relayvoice/pkg/commons"
)

// BridgeRoutes mounts the three WebSocket surfaces of the bridge.
func BridgeRoutes(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	telephony *channel_telephony.Handler,
	observer *channel_observer.Handler,
) {
	logger.Info("Bridge routes added to engine.")
	apiv1 := engine.Group("")
	{
		// provider media stream
		apiv1.GET("/media-stream", telephony.Serve)
		// observer control plane
		apiv1.GET("/ios-client", observer.Serve)
		// subscribe-only event stream per call
		apiv1.GET("/events/:callId", observer.ServeEvents)
	}
}

// HealthCheckRoutes mounts the liveness endpoint.
func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, registry *internal_session.Registry) {
	logger.Info("Internal HealthCheckRoutes added to engine.")
	apiv1 := engine.Group("")
	hcApi := newHealthCheck(cfg, registry)
	{
		apiv1.GET("/health", hcApi.Health)
		apiv1.GET("/healthz/", hcApi.Health)
	}
}
