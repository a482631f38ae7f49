// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import "errors"

// ErrSessionNotFound is returned by lookups and commands addressed to a
// callId with no live session.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoAIPeer is returned by commands that need a connected AI peer when
// the session has none.
var ErrNoAIPeer = errors.New("ai peer not connected")
