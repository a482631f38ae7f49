// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import (
	"context"
	"log"
	"runtime/debug"
)

// Go runs fn on a new goroutine with panic recovery. A panicking task must
// never take down the process — sessions are isolated and a failure in one
// call's task cluster is converted into a log line.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("recovered panic in goroutine: %v\n%s", r, debug.Stack())
			}
		}()
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn()
	}()
}
