package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// spawnFactory starts one llama-server subprocess per created engine.
type spawnFactory struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewSpawnFactory constructs a subprocess-backed factory.
func NewSpawnFactory(cfg Config) Factory {
	cfg = cfg.withDefaults()
	return &spawnFactory{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.ConnectTimeout),
		log:        cfg.logger().With().Str("engine", BackendSpawn).Logger(),
	}
}

func (f *spawnFactory) Create(ctx context.Context, modelID string, onProgress func(ProgressReport)) (Engine, error) {
	modelPath, err := f.cfg.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, NotFound(modelID)
	}
	bin := strings.TrimSpace(f.cfg.LlamaBin)
	if bin == "" {
		bin = discoverLlamaBin()
	}
	if bin == "" {
		return nil, ErrDependencyUnavailable("llama-server not found: set --llama-bin or install llama.cpp")
	}

	host := f.cfg.LlamaHost
	var port int
	if f.cfg.LlamaPortStart > 0 && f.cfg.LlamaPortEnd >= f.cfg.LlamaPortStart {
		port, err = pickPortInRange(host, f.cfg.LlamaPortStart, f.cfg.LlamaPortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	p, err := startProcess(bin, llamaServerArgs(f.cfg, modelPath, host, port))
	if err != nil {
		return nil, err
	}
	log := f.log.With().Str("model", modelID).Int("pid", p.pid).Int("port", port).Logger()
	log.Info().Msg("spawn start")

	if err := waitHealthy(ctx, f.httpClient, baseURL, "", f.cfg.ReadyTimeout, onProgress, p.exitErr); err != nil {
		_ = p.stop(context.Background())
		log.Warn().Err(err).Str("stderr_tail", p.stderr.String()).Msg("spawn failed")
		return nil, err
	}
	log.Info().Str("url", baseURL).Msg("spawn ready")
	return newServerEngine(f.httpClient, baseURL, "", modelID, f.cfg.Params, log, func(ctx context.Context) error {
		err := p.stop(ctx)
		log.Info().Err(err).Msg("spawn stop")
		return err
	}), nil
}

func llamaServerArgs(cfg Config, modelPath, host string, port int) []string {
	args := []string{
		"-m", modelPath,
		"--host", host,
		"--port", strconv.Itoa(port),
	}
	if cfg.LlamaCtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(cfg.LlamaCtxSize))
	}
	if cfg.LlamaNGL > 0 {
		args = append(args, "-ngl", strconv.Itoa(cfg.LlamaNGL))
	}
	if cfg.LlamaThreads > 0 {
		args = append(args, "-t", strconv.Itoa(cfg.LlamaThreads))
	}
	return append(args, cfg.LlamaExtraArgs...)
}

// process is a running llama-server.
type process struct {
	cmd     *exec.Cmd
	pid     int
	stderr  *tailBuffer
	done    chan struct{} // closed once Wait returned
	exitErr chan error    // receives the Wait result once
}

func startProcess(bin string, args []string) (*process, error) {
	cmd := exec.Command(bin, args...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	p := &process{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		stderr:  stderr,
		done:    make(chan struct{}),
		exitErr: make(chan error, 1),
	}
	go func() {
		p.exitErr <- cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// stop sends SIGTERM and falls back to Kill after two seconds or ctx expiry.
func (p *process) stop(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return nil
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill llama-server pid %d: %w", p.pid, err)
	}
	<-p.done
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// discoverLlamaBin attempts to locate a llama.cpp server binary in common paths.
func discoverLlamaBin() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, "apps", "llama.cpp", "build", "bin", "llama-server"),
		"/usr/local/bin/llama-server",
		"/opt/homebrew/bin/llama-server",
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	if lp, err := exec.LookPath("llama-server"); err == nil {
		return lp
	}
	return ""
}
