// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_telephony

// Media stream frame events, both directions.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventClear     = "clear"
	eventStop      = "stop"
)

// inboundFrame is the envelope of every provider-to-bridge frame.
type inboundFrame struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSid      string      `json:"streamSid,omitempty"`
	Start          *StartFrame `json:"start,omitempty"`
	Media          *mediaFrame `json:"media,omitempty"`
	Mark           *markFrame  `json:"mark,omitempty"`
	Stop           *stopFrame  `json:"stop,omitempty"`
}

// StartFrame carries the stream identity and call binding.
type StartFrame struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the negotiated stream encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaFrame struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type markFrame struct {
	Name string `json:"name"`
}

type stopFrame struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// outboundFrame is the envelope of every bridge-to-provider frame.
type outboundFrame struct {
	Event     string         `json:"event"`
	StreamSid string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
	Mark      *markFrame     `json:"mark,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}
