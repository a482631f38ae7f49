// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_audio "github.com/relayvoice/api/bridge-api/internal/audio"
	"github.com/relayvoice/pkg/commons"
)

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag

	// WavHeaderSize is reserved on open and patched on close.
	WavHeaderSize = 44

	// DefaultMixThreshold triggers a mix cycle once either track holds this
	// many samples (500 ms at 24 kHz).
	DefaultMixThreshold = 12000
	// DefaultMixInterval bounds the time between mix cycles.
	DefaultMixInterval = 500 * time.Millisecond

	// MinDuration below which the artifact is discarded on stop.
	MinDuration = time.Second
)

// Result describes the finished artifact.
type Result struct {
	RecordingID     string
	CallID          string
	Path            string
	DurationSeconds int
	Bytes           int64
	Discarded       bool
}

// Recorder ingests the user and assistant PCM tracks of one call and writes
// a mixed mono WAV (PCM16, 24 kHz). The 44-byte RIFF header is reserved as
// zeros on open and patched with the real sizes at stop.
//
// A disk failure flips the recorder into a failed state that swallows all
// further ingest; recording problems must never disturb the bridge.
type Recorder struct {
	logger commons.Logger

	mu          sync.Mutex
	file        *os.File
	path        string
	recordingID string
	callID      string

	userQ      []int16
	assistantQ []int16

	dataBytes int64
	lastMix   time.Time
	failed    bool
	stopped   bool

	mixThreshold int
	mixInterval  time.Duration
	clock        func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMixThreshold overrides the per-track sample count that forces a mix.
func WithMixThreshold(n int) Option {
	return func(r *Recorder) { r.mixThreshold = n }
}

// WithMixInterval overrides the maximum time between mix cycles.
func WithMixInterval(d time.Duration) Option {
	return func(r *Recorder) { r.mixInterval = d }
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

// NewRecorder opens the output file under root and reserves the header.
func NewRecorder(logger commons.Logger, root, callID string, opts ...Option) (*Recorder, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording root %s: %w", root, err)
	}

	recordingID := uuid.New().String()
	path := filepath.Join(root, recordingID+".wav")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file %s: %w", path, err)
	}
	if _, err := file.Write(make([]byte, WavHeaderSize)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to reserve wav header: %w", err)
	}

	r := &Recorder{
		logger:       logger,
		file:         file,
		path:         path,
		recordingID:  recordingID,
		callID:       callID,
		mixThreshold: DefaultMixThreshold,
		mixInterval:  DefaultMixInterval,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastMix = r.clock()
	return r, nil
}

// Path returns the artifact path.
func (r *Recorder) Path() string { return r.path }

// RecordingID returns the artifact identifier.
func (r *Recorder) RecordingID() string { return r.recordingID }

// Failed reports whether a disk error has disabled the recorder.
func (r *Recorder) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// IngestUser appends user-track samples. relativeTs is milliseconds since
// session start and is carried for diagnostics; the mix concatenates each
// queue in arrival order.
func (r *Recorder) IngestUser(samples []int16, relativeTs int64) {
	r.ingest(samples, relativeTs, true)
}

// IngestAssistant appends assistant-track samples.
func (r *Recorder) IngestAssistant(samples []int16, relativeTs int64) {
	r.ingest(samples, relativeTs, false)
}

func (r *Recorder) ingest(samples []int16, _ int64, user bool) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed || r.stopped {
		return
	}
	if user {
		r.userQ = append(r.userQ, samples...)
	} else {
		r.assistantQ = append(r.assistantQ, samples...)
	}
	if len(r.userQ) >= r.mixThreshold || len(r.assistantQ) >= r.mixThreshold {
		r.mixLocked()
	}
}

// Tick runs a mix cycle if the mix interval has elapsed and samples are
// queued. Driven by the session's periodic mix task.
func (r *Recorder) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed || r.stopped {
		return
	}
	if len(r.userQ) == 0 && len(r.assistantQ) == 0 {
		return
	}
	if now.Sub(r.lastMix) < r.mixInterval {
		return
	}
	r.mixLocked()
}

// mixLocked drains both queues, mixes them and appends to the file.
func (r *Recorder) mixLocked() {
	mixed := internal_audio.Mix(r.userQ, r.assistantQ)
	r.userQ = r.userQ[:0]
	r.assistantQ = r.assistantQ[:0]
	r.lastMix = r.clock()
	if len(mixed) == 0 {
		return
	}

	data := internal_audio.SamplesToBytes(mixed)
	if _, err := r.file.Write(data); err != nil {
		r.failed = true
		r.logger.Errorw("recording write failed, disabling recorder",
			"call_id", r.callID, "path", r.path, "error", err.Error())
		return
	}
	r.dataBytes += int64(len(data))
}

// Stop runs a final mix, patches the header and closes the file. Artifacts
// shorter than MinDuration are removed and reported as discarded.
func (r *Recorder) Stop() (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, fmt.Errorf("recorder already stopped")
	}
	r.stopped = true

	if !r.failed {
		r.mixLocked()
	}

	result := &Result{
		RecordingID: r.recordingID,
		CallID:      r.callID,
		Path:        r.path,
		Bytes:       WavHeaderSize + r.dataBytes,
	}

	bytesPerSecond := int64(internal_audio.InternalSampleRate * AudioBytesPerSample)
	duration := time.Duration(r.dataBytes/bytesPerSecond) * time.Second
	result.DurationSeconds = int(r.dataBytes / bytesPerSecond)

	if r.failed || duration < MinDuration {
		r.file.Close()
		if err := os.Remove(r.path); err != nil {
			r.logger.Warnw("failed to remove discarded recording",
				"path", r.path, "error", err.Error())
		}
		result.Discarded = true
		result.Bytes = 0
		return result, nil
	}

	header := wavHeader(r.dataBytes)
	if _, err := r.file.WriteAt(header, 0); err != nil {
		r.file.Close()
		os.Remove(r.path)
		result.Discarded = true
		result.Bytes = 0
		return result, fmt.Errorf("failed to patch wav header: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return result, fmt.Errorf("failed to close recording file: %w", err)
	}
	return result, nil
}

// wavHeader renders the canonical 44-byte RIFF/WAVE header for a mono
// PCM16 24 kHz stream of dataBytes payload bytes.
func wavHeader(dataBytes int64) []byte {
	var buf bytes.Buffer
	byteRate := internal_audio.InternalSampleRate * AudioBytesPerSample

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataBytes))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(internal_audio.InternalSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	// data chunk
	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(dataBytes))

	return buf.Bytes()
}
