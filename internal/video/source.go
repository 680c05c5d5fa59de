// Package video acquires frames from files, cameras and still images through
// ffmpeg, and writes annotated output.
package video

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

type sourceKind int

const (
	kindFile sourceKind = iota
	kindCamera
)

// Source is either a camera index or a file path, resolved once.
type Source struct {
	kind   sourceKind
	camera int
	path   string
}

// CameraIndex selects a capture device (/dev/videoN).
func CameraIndex(n int) Source {
	return Source{kind: kindCamera, camera: n}
}

// FilePath selects a video or still image on disk.
func FilePath(p string) Source {
	return Source{kind: kindFile, path: p}
}

// ParseSource treats an all-digit argument as a camera index and anything
// else as a path.
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Source{}, fmt.Errorf("empty video source")
	}
	if isDigits(s) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Source{}, fmt.Errorf("camera index %q: %w", s, err)
		}
		return CameraIndex(n), nil
	}
	return FilePath(s), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s Source) IsCamera() bool { return s.kind == kindCamera }

// Camera returns the device index; only meaningful when IsCamera.
func (s Source) Camera() int { return s.camera }

// Path returns the file path; only meaningful when !IsCamera.
func (s Source) Path() string { return s.path }

// IsStill reports whether the source is a single image rather than a stream.
func (s Source) IsStill() bool {
	if s.kind != kindFile {
		return false
	}
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Device is the capture device path for a camera source.
func (s Source) Device() string {
	return fmt.Sprintf("/dev/video%d", s.camera)
}

func (s Source) String() string {
	if s.kind == kindCamera {
		return fmt.Sprintf("camera:%d", s.camera)
	}
	return s.path
}
