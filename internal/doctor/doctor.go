// Package doctor reports whether the external tools and credentials the
// pipeline needs are available.
package doctor

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/media"
)

const (
	defaultCacheTTL = 5 * time.Minute
	probeTimeout    = 10 * time.Second
)

// Capabilities is the outcome of one probe.
type Capabilities struct {
	Executables map[string]DepInfo `json:"executables"`
	OpenAI      DepInfo            `json:"openai"`
	AllOK       bool               `json:"all_ok"`
	ProbedAt    time.Time          `json:"probed_at"`
}

// DepInfo is the availability of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Prober runs one probe.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// ToolProber asks ffmpeg and ffprobe for their versions and checks that an
// OpenAI key is configured.
type ToolProber struct {
	runner media.Runner
	tools  map[string]string
	hasKey bool
	now    func() time.Time
}

// NewToolProber builds a prober. Empty binary paths fall back to the names on PATH.
func NewToolProber(runner media.Runner, ffmpegPath, ffprobePath, apiKey string) *ToolProber {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &ToolProber{
		runner: runner,
		tools:  map[string]string{"ffmpeg": ffmpegPath, "ffprobe": ffprobePath},
		hasKey: strings.TrimSpace(apiKey) != "",
		now:    time.Now,
	}
}

func (p *ToolProber) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		Executables: make(map[string]DepInfo, len(p.tools)),
		ProbedAt:    p.now(),
	}
	allOK := true
	for name, binary := range p.tools {
		info := p.probeTool(ctx, binary)
		caps.Executables[name] = info
		allOK = allOK && info.Available
	}
	caps.OpenAI = DepInfo{Available: p.hasKey}
	if !p.hasKey {
		caps.OpenAI.Error = "no API key configured"
		allOK = false
	}
	caps.AllOK = allOK
	return caps, nil
}

func (p *ToolProber) probeTool(ctx context.Context, binary string) DepInfo {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	info := DepInfo{Path: binary}
	res, err := p.runner.Run(ctx, binary, "-version")
	if err != nil {
		info.Error = err.Error()
		return info
	}
	if !res.IsSuccess() {
		info.Error = strings.TrimSpace(res.StderrTail)
		if info.Error == "" {
			info.Error = "non-zero exit"
		}
		return info
	}
	info.Available = true
	info.Version = ParseVersion(res.Stdout)
	return info
}

// ParseVersion extracts the version word from "ffmpeg version 6.1.1 Copyright ...".
func ParseVersion(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	if !sc.Scan() {
		return ""
	}
	fields := strings.Fields(sc.Text())
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "version" {
			return fields[i+1]
		}
	}
	return ""
}

// CachedDoctor wraps a Prober and caches its result for a TTL.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around prober.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CachedDoctor{prober: prober, ttl: defaultCacheTTL, logger: logger}
}

// Get returns the cached capabilities if fresh, otherwise probes again.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Refresh probes regardless of cache freshness. A failed probe returns the
// stale result when there is one.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}
	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached result.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
