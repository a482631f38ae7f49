// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/relayvoice/api/bridge-api/config"
	internal_bridge "github.com/relayvoice/api/bridge-api/internal/bridge"
	channel_observer "github.com/relayvoice/api/bridge-api/internal/channel/observer"
	channel_openai "github.com/relayvoice/api/bridge-api/internal/channel/openai"
	channel_telephony "github.com/relayvoice/api/bridge-api/internal/channel/telephony"
	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
	internal_store "github.com/relayvoice/api/bridge-api/internal/store"
	internal_twilio_telephony "github.com/relayvoice/api/bridge-api/internal/telephony/twilio"
	bridge_routers "github.com/relayvoice/api/bridge-api/router"
	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/connectors"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("config init failed: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	logger, err := commons.NewApplicationLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	postgres, err := connectors.NewPostgresConnector(cfg.PostgresConfig, logger)
	if err != nil {
		logger.Fatalf("postgres connect failed: %v", err)
	}
	defer postgres.Close()

	store := internal_store.NewStore(logger, postgres)
	if err := store.Migrate(context.Background()); err != nil {
		logger.Fatalf("migration failed: %v", err)
	}

	registry := internal_session.NewRegistry(logger)
	registry.SetEventSink(internal_store.NewSink(logger, store),
		internal_event.KindCallStarted,
		internal_event.KindCallDisconnected,
		internal_event.KindCallError,
	)

	var caller internal_twilio_telephony.Caller
	if cfg.TwilioConfig.Enabled() {
		caller = internal_twilio_telephony.NewCaller(logger, internal_twilio_telephony.Config{
			AccountSid: cfg.TwilioConfig.AccountSid,
			AuthToken:  cfg.TwilioConfig.AuthToken,
			FromNumber: cfg.TwilioConfig.FromNumber,
			StreamURL:  cfg.TwilioConfig.StreamUrl,
		})
	}

	orchestrator := internal_bridge.NewOrchestrator(logger, registry, internal_bridge.Options{
		OpenAI: channel_openai.Options{
			URL:    cfg.OpenAIConfig.Url,
			APIKey: cfg.OpenAIConfig.ApiKey,
			Model:  cfg.OpenAIConfig.Model,
		},
		RecordingRoot: cfg.RecordingRoot,
		Caller:        caller,
		Store:         store,
	})

	telephonyHandler := channel_telephony.NewHandler(logger, orchestrator)
	observerHandler := channel_observer.NewHandler(logger, registry, orchestrator, cfg.Secret)

	engine := gin.New()
	engine.Use(gin.Recovery())

	bridge_routers.HealthCheckRoutes(cfg, engine, logger, registry)
	bridge_routers.BridgeRoutes(cfg, engine, logger, telephonyHandler, observerHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.Infow("bridge listening", "addr", addr, "service", cfg.Name, "version", cfg.Version)
	if err := engine.Run(addr); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}
