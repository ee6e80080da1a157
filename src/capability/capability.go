// Package capability probes the host for the tools a scaffolding plan can
// rely on and caches the result per host.
package capability

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// DefaultTTL is how long a snapshot stays fresh before a re-probe.
const DefaultTTL = time.Hour

// Snapshot is the probed state of the host at a point in time.
type Snapshot struct {
	HostID          string            `json:"host_id"`
	OS              string            `json:"os"`
	Platform        string            `json:"platform"`
	Shell           string            `json:"shell"`
	Runtimes        map[string]string `json:"runtimes"` // name -> version string
	GitInstalled    bool              `json:"git_installed"`
	DockerInstalled bool              `json:"docker_installed"`
	PackageManagers []string          `json:"package_managers"`
	Completed       bool              `json:"detection_completed"`
	DetectedAt      time.Time         `json:"detected_at"`
}

// HasRuntime reports whether a language runtime was found.
func (s *Snapshot) HasRuntime(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Runtimes[name]
	return ok
}

// HasPackageManager reports whether a package manager was found.
func (s *Snapshot) HasPackageManager(name string) bool {
	if s == nil {
		return false
	}
	for _, pm := range s.PackageManagers {
		if pm == name {
			return true
		}
	}
	return false
}

// Stale reports whether the snapshot is older than ttl.
func (s *Snapshot) Stale(ttl time.Duration, now time.Time) bool {
	if s == nil || !s.Completed {
		return true
	}
	return now.Sub(s.DetectedAt) > ttl
}

// VersionProbe runs a binary with a version flag and returns its output.
// Injectable for tests.
type VersionProbe func(ctx context.Context, name string, args ...string) (string, error)

// Service detects capabilities and caches snapshots keyed by host id.
type Service struct {
	ttl      time.Duration
	logger   *slog.Logger
	lookPath func(string) (string, error)
	probe    VersionProbe
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]*Snapshot
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the snapshot freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithLookPath overrides binary lookup, for tests.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(s *Service) { s.lookPath = fn }
}

// WithVersionProbe overrides version probing, for tests.
func WithVersionProbe(fn VersionProbe) Option {
	return func(s *Service) { s.probe = fn }
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// NewService creates a capability service.
func NewService(logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		ttl:      DefaultTTL,
		logger:   logger.With("component", "capability"),
		lookPath: exec.LookPath,
		probe:    runVersionProbe,
		now:      time.Now,
		cache:    map[string]*Snapshot{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func runVersionProbe(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("probe %s: %w", name, err)
	}

	line := strings.TrimSpace(out.String())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return line, nil
}

// runtimeProbes maps runtime names to version invocations.
var runtimeProbes = []struct {
	name string
	bin  string
	args []string
}{
	{"python", "python3", []string{"--version"}},
	{"node", "node", []string{"--version"}},
	{"go", "go", []string{"version"}},
	{"java", "java", []string{"-version"}},
	{"ruby", "ruby", []string{"--version"}},
	{"rust", "rustc", []string{"--version"}},
}

var packageManagerBins = []string{"npm", "yarn", "pnpm", "pip3", "cargo", "brew", "apt-get", "poetry"}

// Detect returns a fresh snapshot, re-probing when the cached one is stale
// or when force is set. A stale snapshot is never silently reused.
func (s *Service) Detect(ctx context.Context, force bool) (*Snapshot, error) {
	hostID := s.hostKey()

	s.mu.Lock()
	cached := s.cache[hostID]
	s.mu.Unlock()

	if !force && !cached.Stale(s.ttl, s.now()) {
		return cached, nil
	}

	snap, err := s.probeHost(ctx, hostID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[hostID] = snap
	s.mu.Unlock()

	s.logger.Info("capabilities detected",
		"os", snap.OS,
		"runtimes", len(snap.Runtimes),
		"package_managers", len(snap.PackageManagers))

	return snap, nil
}

func (s *Service) hostKey() string {
	if info, err := host.Info(); err == nil && info.HostID != "" {
		return info.HostID
	}
	name, _ := os.Hostname()
	if name == "" {
		name = runtime.GOOS
	}
	return name
}

func (s *Service) probeHost(ctx context.Context, hostID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		HostID:     hostID,
		OS:         runtime.GOOS,
		Runtimes:   map[string]string{},
		DetectedAt: s.now(),
	}

	if info, err := host.Info(); err == nil {
		snap.Platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	}

	snap.Shell = os.Getenv("SHELL")
	if snap.Shell == "" {
		snap.Shell = "/bin/sh"
	}

	for _, p := range runtimeProbes {
		if _, err := s.lookPath(p.bin); err != nil {
			continue
		}
		version, err := s.probe(ctx, p.bin, p.args...)
		if err != nil {
			s.logger.Debug("version probe failed", "runtime", p.name, "error", err)
			version = "unknown"
		}
		snap.Runtimes[p.name] = version
	}

	if _, err := s.lookPath("git"); err == nil {
		snap.GitInstalled = true
	}
	if _, err := s.lookPath("docker"); err == nil {
		snap.DockerInstalled = true
	}

	for _, pm := range packageManagerBins {
		if _, err := s.lookPath(pm); err == nil {
			snap.PackageManagers = append(snap.PackageManagers, pm)
		}
	}

	snap.Completed = true
	return snap, nil
}
