// Package artifacts describes the on-disk layout of one processed video and the
// predicates that decide whether a stage's output can be reused.
package artifacts

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	AudioFile         = "audio.mp3"
	TranscriptionFile = "transcription.json"
	FramesDir         = "frames"
	SnippetsDir       = "snippets"
	ManifestFile      = "snippets.json"
	VideosDir         = "videos"
	LLMCallFile       = "llm_call.md"
	LockFile          = ".snuttify.lock"
)

// Layout resolves artifact paths for one video directory.
type Layout struct {
	dir string
}

// NewLayout returns the layout of <libraryDir>/<videoID>.
func NewLayout(libraryDir, videoID string) Layout {
	return Layout{dir: filepath.Join(libraryDir, videoID)}
}

// LayoutAt returns the layout rooted at an existing video directory.
func LayoutAt(dir string) Layout {
	return Layout{dir: filepath.Clean(dir)}
}

func (l Layout) Dir() string               { return l.dir }
func (l Layout) VideoID() string           { return filepath.Base(l.dir) }
func (l Layout) AudioPath() string         { return filepath.Join(l.dir, AudioFile) }
func (l Layout) TranscriptionPath() string { return filepath.Join(l.dir, TranscriptionFile) }
func (l Layout) FramesDir() string         { return filepath.Join(l.dir, FramesDir) }
func (l Layout) SnippetsDir() string       { return filepath.Join(l.dir, SnippetsDir) }
func (l Layout) ManifestPath() string      { return filepath.Join(l.dir, SnippetsDir, ManifestFile) }
func (l Layout) VideosDir() string         { return filepath.Join(l.dir, VideosDir) }
func (l Layout) LLMCallPath() string       { return filepath.Join(l.dir, LLMCallFile) }
func (l Layout) LockPath() string          { return filepath.Join(l.dir, LockFile) }

// SnippetPath returns the per-snippet document path.
func (l Layout) SnippetPath(id string) string {
	return filepath.Join(l.dir, SnippetsDir, id+".json")
}

// Resolve joins a path relative to the video directory, such as a segment's
// frame_path or a snippet's video_path.
func (l Layout) Resolve(rel string) string {
	return filepath.Join(l.dir, filepath.FromSlash(rel))
}

// EnsureDirs creates the video directory and its output subdirectories.
func (l Layout) EnsureDirs() error {
	for _, d := range []string{l.dir, l.FramesDir(), l.SnippetsDir(), l.VideosDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// HasAudio reports whether a non-empty audio artifact exists.
func (l Layout) HasAudio() bool { return FileExists(l.AudioPath()) }

// HasTranscription reports whether a non-empty transcription document exists.
func (l Layout) HasTranscription() bool { return FileExists(l.TranscriptionPath()) }

// HasFrames reports whether the frames directory holds at least one image.
// An existing but empty directory counts as absent.
func (l Layout) HasFrames() bool { return DirHasFiles(l.FramesDir()) }

// HasManifest reports whether a non-empty snippets manifest exists.
func (l Layout) HasManifest() bool { return FileExists(l.ManifestPath()) }

// HasVideos reports whether at least one clip has been rendered.
func (l Layout) HasVideos() bool { return DirHasFiles(l.VideosDir()) }

// FileExists reports whether path is a regular file with content.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// DirHasFiles reports whether dir contains at least one non-hidden regular file.
func DirHasFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.Type().IsRegular() {
			return true
		}
	}
	return false
}

// VideoID derives the video identifier from an uploaded filename: its base name
// without extension.
func VideoID(filename string) string {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(filename, "\\", "/")))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
