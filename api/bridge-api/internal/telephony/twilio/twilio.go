// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_twilio_telephony

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/relayvoice/pkg/commons"
)

// Caller places and ends provider calls over the REST API. The media path
// itself arrives over the stream WebSocket; this is only call control.
type Caller interface {
	// CreateCall dials toNumber and points the answered call at the
	// bridge's media stream endpoint. Returns the provider call sid.
	CreateCall(toNumber string) (string, error)
	// EndCall completes an in-progress call.
	EndCall(callSid string) error
}

// Config identifies the provider account and the bridge's public media
// stream URL.
type Config struct {
	AccountSid string
	AuthToken  string
	FromNumber string
	// StreamURL is the wss:// endpoint the provider connects its media
	// stream to once the call is answered.
	StreamURL string
}

type twl struct {
	logger commons.Logger
	cfg    Config
	client *twilio.RestClient
}

// NewCaller creates the REST call-control client.
func NewCaller(logger commons.Logger, cfg Config) Caller {
	return &twl{
		logger: logger,
		cfg:    cfg,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSid,
			Password: cfg.AuthToken,
		}),
	}
}

func (tpc *twl) CreateCall(toNumber string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(tpc.cfg.FromNumber)
	params.SetTwiml(streamTwiml(tpc.cfg.StreamURL))

	resp, err := tpc.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create call to %s: %w", toNumber, err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("create call to %s: response without sid", toNumber)
	}
	tpc.logger.Infow("outbound call created", "call_sid", *resp.Sid, "to", toNumber)
	return *resp.Sid, nil
}

func (tpc *twl) EndCall(callSid string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := tpc.client.Api.UpdateCall(callSid, params); err != nil {
		return fmt.Errorf("end call %s: %w", callSid, err)
	}
	return nil
}

// streamTwiml renders the answer document that connects the call's media
// to the bridge.
func streamTwiml(streamURL string) string {
	var escaped strings.Builder
	if err := xml.EscapeText(&escaped, []byte(streamURL)); err != nil {
		escaped.Reset()
		escaped.WriteString(streamURL)
	}
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="%s"/></Connect></Response>`,
		escaped.String())
}
