// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"encoding/binary"

	"github.com/zaf/g711"

	"github.com/relayvoice/pkg/utils"
)

const (
	// TelephonySampleRate is the µ-law rate on the telephony leg.
	TelephonySampleRate = 8000
	// InternalSampleRate is the PCM16 rate used on the AI leg and on disk.
	InternalSampleRate = 24000
	// UpsampleFactor converts telephony rate to internal rate.
	UpsampleFactor = InternalSampleRate / TelephonySampleRate
)

// MulawToPCM24k decodes 8-bit µ-law at 8 kHz to linear PCM16 and upsamples
// 3× to 24 kHz with linear interpolation between source samples.
func MulawToPCM24k(mulaw []byte) []int16 {
	if len(mulaw) == 0 {
		return nil
	}
	pcm8k := BytesToSamples(g711.DecodeUlaw(mulaw))
	return Upsample3x(pcm8k)
}

// PCM24kToMulaw downsamples PCM16 24 kHz to 8 kHz by averaging each group of
// three adjacent samples, then µ-law encodes the result.
func PCM24kToMulaw(samples []int16) []byte {
	if len(samples) == 0 {
		return nil
	}
	pcm8k := Downsample3x(samples)
	return g711.EncodeUlaw(SamplesToBytes(pcm8k))
}

// Upsample3x triples the sample rate. Each source sample yields itself plus
// two linearly interpolated points toward the next sample; the final sample
// is extended flat.
func Upsample3x(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, len(in)*UpsampleFactor)
	for i, s0 := range in {
		s1 := s0
		if i+1 < len(in) {
			s1 = in[i+1]
		}
		a, b := int32(s0), int32(s1)
		out[i*3] = s0
		out[i*3+1] = utils.Clamp16((2*a + b) / 3)
		out[i*3+2] = utils.Clamp16((a + 2*b) / 3)
	}
	return out
}

// Downsample3x reduces the sample rate 3:1. Each output sample is the mean
// of three adjacent inputs, which doubles as a cheap anti-alias filter. A
// trailing partial group is averaged over its actual length.
func Downsample3x(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	n := (len(in) + 2) / 3
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int32
		var count int32
		for j := i * 3; j < (i+1)*3 && j < len(in); j++ {
			sum += int32(in[j])
			count++
		}
		out[i] = utils.Clamp16(sum / count)
	}
	return out
}

// Mix combines two PCM16 tracks into one. The output length is the longer of
// the two; where one track is shorter it contributes silence. Each output
// sample is the rounded arithmetic mean of the two inputs, clipped to the
// 16-bit range.
func Mix(a, b []int16) []int16 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sa, sb int32
		if i < len(a) {
			sa = int32(a[i])
		}
		if i < len(b) {
			sb = int32(b[i])
		}
		sum := sa + sb
		// Round half away from zero.
		if sum >= 0 {
			sum = (sum + 1) / 2
		} else {
			sum = (sum - 1) / 2
		}
		out[i] = utils.Clamp16(sum)
	}
	return out
}

// BytesToSamples reinterprets little-endian 16-bit PCM bytes as samples. A
// trailing odd byte is dropped.
func BytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// SamplesToBytes renders samples as little-endian 16-bit PCM bytes.
func SamplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
