package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/justapithecus/prospector/log"
)

// workerSpec describes the worker processes the coordinator launches.
type workerSpec struct {
	Binary     string
	Count      int
	RedisURL   string
	KeyPrefix  string
	TokensFile string
	MinRepos   int
	MinStars   int
	LogDir     string
}

// workerSupervisor launches and reaps local worker processes. Workers are
// ordinary child processes consuming the shared queue; a worker exiting
// early is logged but does not abort the run, the remaining workers keep
// draining tasks.
type workerSupervisor struct {
	spec   workerSpec
	logger *log.Logger

	mu      sync.Mutex
	procs   []*exec.Cmd
	stopped bool
	wg      sync.WaitGroup
}

func newWorkerSupervisor(spec workerSpec, logger *log.Logger) *workerSupervisor {
	if spec.Count <= 0 {
		spec.Count = 1
	}
	if spec.LogDir == "" {
		spec.LogDir = "logs"
	}
	return &workerSupervisor{spec: spec, logger: logger}
}

// Start launches the configured number of worker processes, each with its
// own log file.
func (s *workerSupervisor) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.spec.LogDir, 0o755); err != nil {
		return fmt.Errorf("create worker log dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.spec.Count; i++ {
		id := i + 1
		logPath := filepath.Join(s.spec.LogDir, fmt.Sprintf("worker-%d.log", id))
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open worker log %s: %w", logPath, err)
		}

		args := []string{
			"work",
			"--redis-url", s.spec.RedisURL,
			"--key-prefix", s.spec.KeyPrefix,
			"--tokens-file", s.spec.TokensFile,
		}
		if s.spec.MinRepos > 0 {
			args = append(args, "--min-repos", strconv.Itoa(s.spec.MinRepos))
		}
		if s.spec.MinStars > 0 {
			args = append(args, "--min-stars", strconv.Itoa(s.spec.MinStars))
		}

		cmd := exec.CommandContext(ctx, s.spec.Binary, args...)
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		cmd.Env = os.Environ()
		if err := cmd.Start(); err != nil {
			logFile.Close()
			return fmt.Errorf("start worker %d: %w", id, err)
		}

		s.logger.Info("worker started", map[string]any{
			"worker": id,
			"pid":    cmd.Process.Pid,
			"log":    logPath,
		})
		s.procs = append(s.procs, cmd)

		s.wg.Add(1)
		go func(id int, cmd *exec.Cmd, logFile *os.File) {
			defer s.wg.Done()
			defer logFile.Close()
			err := cmd.Wait()

			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			fields := map[string]any{"worker": id}
			if err != nil {
				fields["error"] = err.Error()
				s.logger.Warn("worker exited early", fields)
				return
			}
			s.logger.Info("worker exited", fields)
		}(id, cmd, logFile)
	}
	return nil
}

// Stop signals every worker and waits briefly for them to exit. Workers
// finish their in-flight task on SIGTERM before stopping.
func (s *workerSupervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	procs := s.procs
	s.mu.Unlock()

	for _, cmd := range procs {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(os.Interrupt)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		for _, cmd := range procs {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}
	s.logger.Info("workers stopped", map[string]any{"count": len(procs)})
}
