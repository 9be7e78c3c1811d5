package podmgr

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetshift/deployd/internal/domain"
)

// ExecLauncher runs each pod as a local process. Worker arguments are
// passed both as --key=value flags and as DEPLOYD_KEY environment
// variables.
type ExecLauncher struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Stdout  io.Writer
	Stderr  io.Writer
}

func (l *ExecLauncher) Launch(_ context.Context, spec domain.PodSpec) (Process, error) {
	if l.Command == "" {
		return nil, fmt.Errorf("%w: no worker command configured", domain.ErrInvalidArgument)
	}

	keys := make([]string, 0, len(spec.Args))
	for k := range spec.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := append([]string(nil), l.Args...)
	env := append(os.Environ(), l.Env...)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("--%s=%s", k, spec.Args[k]))
		env = append(env, fmt.Sprintf("DEPLOYD_%s=%s", strings.ToUpper(k), spec.Args[k]))
	}

	// Not CommandContext: the worker must outlive the request that spawned it.
	cmd := exec.Command(l.Command, args...)
	cmd.Env = env
	cmd.Dir = l.Dir
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop sends SIGINT and kills the process if it is still running after grace.
func (p *execProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	_ = p.cmd.Process.Signal(os.Interrupt)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := p.cmd.Process.Kill(); err != nil {
		select {
		case <-p.done:
			return nil
		default:
		}
		return fmt.Errorf("kill worker: %w", err)
	}
	<-p.done
	return nil
}
