package playback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot reports a request path that escapes the served root.
var ErrOutsideRoot = errors.New("path outside library")

// FileServer serves files below a root directory.
type FileServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, rel string) error
}

// Server streams library files with single byte-range support.
type Server struct {
	root   string
	logger *slog.Logger
}

func NewServer(root string, logger *slog.Logger) *Server {
	return &Server{root: root, logger: logger}
}

// Resolve maps a slash-separated path relative to the root onto the file
// system. Paths that leave the root return ErrOutsideRoot.
func (s *Server) Resolve(rel string) (string, error) {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	if rel == "" {
		return "", ErrOutsideRoot
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", ErrOutsideRoot
		}
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

// ServeFile writes the file at rel. Missing files and escaping paths answer
// 404; an unsatisfiable range answers 416.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, rel string) error {
	filePath, err := s.Resolve(rel)
	if err != nil {
		if errors.Is(err, ErrOutsideRoot) {
			s.logger.Warn("rejected path outside library", "path", rel)
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	contentType := contentTypeOf(filePath)

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	parsedRange, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	// a malformed Range header is ignored and the whole file is sent

	if parsedRange == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, file)
		}
		return nil
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", parsedRange.ContentLength()))
	w.Header().Set("Content-Range", parsedRange.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := file.Seek(parsedRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	io.CopyN(w, file, parsedRange.ContentLength())
	return nil
}

// media types absent from the built-in mime table on minimal systems
var mediaTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".mp3": "audio/mpeg",
	".jpg": "image/jpeg",
}

func contentTypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
