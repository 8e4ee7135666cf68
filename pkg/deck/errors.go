// Package deck implements a single playback deck: the decoded track, the
// transport, tempo/nudge/key-lock control, the lock-free ring feeding the
// mixer, and the fill worker that renders ahead of the audio callback.
package deck

import "errors"

var (
	// ErrIO means the file could not be opened or read.
	ErrIO = errors.New("track io error")
	// ErrUnsupportedFormat means no decoder handles the file.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrDecode means the decoder failed partway through the file.
	ErrDecode = errors.New("track decode error")
	// ErrTrackTooShort rejects material shorter than the minimum length.
	ErrTrackTooShort = errors.New("track too short")
	// ErrMissingBPM prevents sync when either deck lacks a tempo estimate.
	ErrMissingBPM = errors.New("no bpm on deck")
	// ErrNoTrack means a transport command arrived with nothing loaded.
	ErrNoTrack = errors.New("no track loaded")
)
