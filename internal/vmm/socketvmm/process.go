package socketvmm

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/vmworker/internal/logparser"
	"github.com/seantiz/vmworker/internal/vmm"
)

// networkTeardowner is the slice of *netcni.Manager's contract Cleanup
// needs. Expressed as a local interface, rather than importing netcni
// directly, so tests can substitute a fake without real CNI plugin
// binaries present.
type networkTeardowner interface {
	Teardown(ctx context.Context, vmID string) error
}

// historySink is the slice of *history.Store's contract Cleanup needs to
// archive a finished boot-log timeline.
type historySink interface {
	Insert(ctx context.Context, subject string, summary logparser.Summary) (int64, error)
}

// logPublisher is the slice of *history.LogBroker's contract boot-log
// capture needs to fan out live stdout lines to subscribers.
type logPublisher interface {
	Publish(topic, line string)
	Close(topic string)
}

// processOptions groups the optional collaborators a Process may be
// built with. Every field is nil-safe: a Process built with a zero
// processOptions behaves exactly like one spawned with no networking,
// no boot-log capture, and no archiving.
type processOptions struct {
	net         networkTeardowner
	bootLog     *logparser.Parser
	bootLogW    *io.PipeWriter
	bootLogDone chan struct{}
	history     historySink
	broker      logPublisher
}

// Process is the OS process handle backing one hypervisor instance.
type Process struct {
	cmd        *exec.Cmd
	socketPath string
	vmID       string
	net        networkTeardowner
	history    historySink
	broker     logPublisher

	mu        sync.Mutex
	killed    bool
	cleanedUp bool

	startedAt   time.Time
	bootLog     *logparser.Parser
	bootLogW    *io.PipeWriter
	bootLogDone chan struct{}
}

var _ vmm.Process = (*Process)(nil)

// newProcess builds a Process. Every field of opts may be left at its
// zero value; Kill and Cleanup skip the corresponding step in that case.
func newProcess(cmd *exec.Cmd, socketPath, vmID string, opts processOptions) *Process {
	return &Process{
		cmd:         cmd,
		socketPath:  socketPath,
		vmID:        vmID,
		net:         opts.net,
		history:     opts.history,
		broker:      opts.broker,
		startedAt:   time.Now(),
		bootLog:     opts.bootLog,
		bootLogW:    opts.bootLogW,
		bootLogDone: opts.bootLogDone,
	}
}

// linePublishWriter buffers partial writes and republishes each complete
// line to a logPublisher topic. It implements io.Writer so it can sit on
// the write side of an io.TeeReader alongside the structured-log parser.
type linePublishWriter struct {
	broker logPublisher
	topic  string
	buf    []byte
}

func (w *linePublishWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:idx]), "\r")
		w.broker.Publish(w.topic, line)
		w.buf = w.buf[idx+1:]
	}
	return len(p), nil
}

// attachBootLogCapture wires cmd's stdout through a logparser.Parser so
// that, if the hypervisor emits @nix-style structured lines, they land
// in a reconstructable timeline. Most hypervisors don't; in that case
// the parser just never sees a matching line and IntoOutput reports
// zero steps.
//
// When broker is non-nil, every raw line is also published live under
// topic vmID as it arrives, so a subscriber can stream the boot console
// before the VM finishes booting.
func attachBootLogCapture(cmd *exec.Cmd, logger *slog.Logger, broker logPublisher, vmID string) (*logparser.Parser, *io.PipeWriter, chan struct{}) {
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	parser := logparser.New(logger)
	done := make(chan struct{})

	var source io.Reader = pr
	if broker != nil {
		source = io.TeeReader(pr, &linePublishWriter{broker: broker, topic: vmID})
	}

	go func() {
		parser.ParseLines(source)
		close(done)
	}()
	return parser, pw, done
}

// BootLogSummary returns the parsed structured-log timeline of whatever
// the hypervisor process wrote to stdout. The second return is false if
// boot-log capture wasn't enabled for this process. Call only after Kill
// has completed: reading concurrently with a still-running process would
// race the parser goroutine.
func (p *Process) BootLogSummary() (logparser.Summary, bool) {
	if p.bootLog == nil {
		return logparser.Summary{}, false
	}
	return p.bootLog.IntoOutput(p.startedAt, time.Now()), true
}

// Kill force-terminates the child process. Best-effort and idempotent:
// a second call after the process already exited is a no-op, not an
// error the caller needs to distinguish.
func (p *Process) Kill(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return nil
	}
	p.killed = true
	var killErr error
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
			killErr = err
		}
		_ = p.cmd.Wait()
	}
	if p.bootLogW != nil {
		_ = p.bootLogW.Close()
		<-p.bootLogDone
	}
	if p.broker != nil {
		p.broker.Close(p.vmID)
	}
	return killErr
}

// Cleanup unlinks the control socket file, tears down this VM's CNI
// network namespace (if one was set up in Spawn), and archives the
// parsed boot-log timeline (if capture and a history sink were both
// configured). Safe to call more than once and after Kill.
func (p *Process) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleanedUp {
		return nil
	}
	p.cleanedUp = true

	var firstErr error
	if err := os.Remove(p.socketPath); err != nil && !os.IsNotExist(err) {
		firstErr = err
	}
	if p.net != nil {
		if err := p.net.Teardown(ctx, p.vmID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.bootLog != nil && p.history != nil {
		summary, _ := p.BootLogSummary()
		if _, err := p.history.Insert(ctx, p.vmID, summary); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
