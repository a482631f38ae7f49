// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import (
	"encoding/json"
	"strings"
)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// IsEmpty reports whether s is empty or whitespace only.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ToJson marshals v, returning "{}" on failure.
func ToJson(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Clamp16 clips a 32-bit intermediate value into the signed 16-bit range.
func Clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
