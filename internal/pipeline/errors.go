package pipeline

import "errors"

// Failure classes of a scan. Returned errors wrap one of these; check with
// errors.Is.
var (
	// ErrModelLoad means a detection or attribute backend could not start.
	// Nothing has been read yet.
	ErrModelLoad = errors.New("model load failed")

	// ErrSourceOpen means the video source could not be opened. No store is
	// produced.
	ErrSourceOpen = errors.New("video source open failed")

	// ErrFrameRead is a mid-stream read failure. The runner logs it and ends
	// the stream normally, so it only shows up in Stats.
	ErrFrameRead = errors.New("frame read failed")

	// ErrInference is a detector or attribute model failure on one frame.
	ErrInference = errors.New("inference failed")

	// ErrSerialization means a recorder could not persist the results. The
	// store returned alongside it is complete and can be recorded again.
	ErrSerialization = errors.New("result serialization failed")
)
