// Package pprof profiles the tool itself while it builds call graphs. File
// mode records one CPU profile spanning the run and snapshots the other
// profiles when it stops; HTTP mode serves net/http/pprof for long-running
// watch sessions.
package pprof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/utils"
)

// Mode selects how profiles are collected.
type Mode string

const (
	ModeFile Mode = "file"
	ModeHTTP Mode = "http"
)

// ProfileType names a runtime profile.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
	ProfileAllocs    ProfileType = "allocs"
)

var allProfiles = []ProfileType{ProfileCPU, ProfileHeap, ProfileGoroutine, ProfileBlock, ProfileMutex, ProfileAllocs}

// DefaultProfileTypes returns the profiles collected when none are named.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap}
}

// ParseProfileTypes parses a comma-separated list such as "cpu,heap".
func ParseProfileTypes(s string) ([]ProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfileTypes(), nil
	}
	var types []ProfileType
	for _, part := range strings.Split(s, ",") {
		pt := ProfileType(strings.ToLower(strings.TrimSpace(part)))
		if !slices.Contains(allProfiles, pt) {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown profile type: %q", part)
		}
		if !slices.Contains(types, pt) {
			types = append(types, pt)
		}
	}
	return types, nil
}

// Config configures a Profiler.
type Config struct {
	Mode     Mode
	Profiles []ProfileType
	// Dir receives the profiles in file mode.
	Dir string
	// Addr is the listen address in HTTP mode.
	Addr string
	// CPURate is the CPU sampling rate in Hz. Zero keeps the runtime default.
	CPURate int
}

// DefaultConfig returns file mode writing to ./pprof.
func DefaultConfig() *Config {
	return &Config{Mode: ModeFile, Profiles: DefaultProfileTypes(), Dir: "./pprof", Addr: "localhost:6060"}
}

// Validate checks the mode and mode-specific settings.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFile:
		if c.Dir == "" {
			return apperrors.New(apperrors.CodeConfigError, "pprof file mode needs an output directory")
		}
	case ModeHTTP:
		if c.Addr == "" {
			return apperrors.New(apperrors.CodeConfigError, "pprof http mode needs a listen address")
		}
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "invalid pprof mode: %q (valid: file, http)", c.Mode)
	}
	if c.CPURate < 0 {
		return apperrors.New(apperrors.CodeConfigError, "pprof cpu rate must not be negative")
	}
	return nil
}

func (c *Config) has(pt ProfileType) bool { return slices.Contains(c.Profiles, pt) }

// Profiler collects profiles between Start and Stop.
type Profiler struct {
	cfg    *Config
	logger utils.Logger
	stamp  string

	mu      sync.Mutex
	cpuFile *os.File
	server  *http.Server
	addr    string
	written []string
	stopped bool
}

// Start validates cfg and begins collecting.
func Start(cfg *Config, logger utils.Logger) (*Profiler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	p := &Profiler{cfg: cfg, logger: logger, stamp: time.Now().Format("20060102_150405")}

	if cfg.has(ProfileBlock) {
		runtime.SetBlockProfileRate(1)
	}
	if cfg.has(ProfileMutex) {
		runtime.SetMutexProfileFraction(1)
	}

	var err error
	if cfg.Mode == ModeHTTP {
		err = p.serve()
	} else {
		err = p.startCPU()
	}
	if err != nil {
		p.resetRates()
		return nil, err
	}
	return p, nil
}

func (p *Profiler) startCPU() error {
	if err := os.MkdirAll(p.cfg.Dir, 0755); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to create pprof directory", err)
	}
	if !p.cfg.has(ProfileCPU) {
		return nil
	}
	f, err := os.Create(p.path(ProfileCPU))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to create cpu profile", err)
	}
	if p.cfg.CPURate > 0 {
		runtime.SetCPUProfileRate(p.cfg.CPURate)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return apperrors.Wrap(apperrors.CodeInternal, "failed to start cpu profile", err)
	}
	p.cpuFile = f
	return nil
}

func (p *Profiler) serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConfigError, "failed to listen for pprof", err)
	}
	p.addr = ln.Addr().String()
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("pprof server stopped: %v", err)
		}
	}()
	p.logger.Info("pprof listening on http://%s/debug/pprof/", p.addr)
	return nil
}

// Addr returns the address the HTTP server listens on.
func (p *Profiler) Addr() string { return p.addr }

// Files returns the profiles written by Stop.
func (p *Profiler) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.written)
}

// Stop ends collection. In file mode it finishes the CPU profile and
// writes a snapshot of every other requested profile. Stop is idempotent.
func (p *Profiler) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	defer p.resetRates()

	if p.server != nil {
		return p.server.Shutdown(ctx)
	}

	var errs []error
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, err)
		} else {
			p.written = append(p.written, p.cpuFile.Name())
		}
	}
	for _, pt := range p.cfg.Profiles {
		if pt == ProfileCPU {
			continue
		}
		if err := p.snapshot(pt); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to write profiles", err)
	}
	return nil
}

func (p *Profiler) snapshot(pt ProfileType) error {
	prof := pprof.Lookup(string(pt))
	if prof == nil {
		return fmt.Errorf("no %s profile", pt)
	}
	if pt == ProfileHeap || pt == ProfileAllocs {
		runtime.GC()
	}
	var buf bytes.Buffer
	if err := prof.WriteTo(&buf, 0); err != nil {
		return err
	}
	path := p.path(pt)
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return err
	}
	p.written = append(p.written, path)
	return nil
}

func (p *Profiler) path(pt ProfileType) string {
	return filepath.Join(p.cfg.Dir, fmt.Sprintf("%s_%s.pprof", pt, p.stamp))
}

func (p *Profiler) resetRates() {
	if p.cfg.has(ProfileBlock) {
		runtime.SetBlockProfileRate(0)
	}
	if p.cfg.has(ProfileMutex) {
		runtime.SetMutexProfileFraction(0)
	}
}
