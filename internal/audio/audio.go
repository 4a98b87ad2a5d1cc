// Package audio provides microphone capture, WAV encoding and playback for
// the conversation session.
//
// The device-backed implementations shell out to ALSA and FFmpeg tools so the
// agent runs without cgo audio bindings:
//   - arecord for microphone capture (raw PCM16 mono)
//   - ffplay for playback of synthesized speech
package audio

import (
	"context"
	"errors"
)

// ErrClosed is returned when a capture or player is used after Close.
var ErrClosed = errors.New("audio device closed")

// Microphone acquires an audio-only capture stream.
type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture records audio from an opened microphone.
type Capture interface {
	// Start begins recording. Chunks are delivered to onChunk in arrival order.
	Start(onChunk func([]byte)) error

	// Stop halts recording. It returns after the last chunk was delivered.
	Stop() error

	// SampleRate is the PCM16 mono sample rate of delivered chunks.
	SampleRate() int

	// Close releases the underlying device. It is safe to call Close multiple times.
	Close() error
}

// Player turns encoded audio into playable tracks.
type Player interface {
	Load(audio []byte) (Track, error)

	// Close releases the playback context.
	Close() error
}

// Track is one playable audio resource.
type Track interface {
	// Play blocks until playback completes or fails.
	Play(ctx context.Context) error

	// Release frees the resource backing the track.
	Release() error
}
