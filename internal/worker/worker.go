package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/echoface/internal/metrics"
	"github.com/andresmejia3/echoface/internal/types"
	"github.com/andresmejia3/echoface/internal/utils" // Using the SafeCommand wrapper
	"github.com/sirupsen/logrus"
)

// ErrEngineStopped is returned by Submit once the worker process is gone.
var ErrEngineStopped = errors.New("analysis engine stopped")

// Config describes how to launch the Python face worker.
type Config struct {
	Command         string
	Args            []string
	StartTimeout    time.Duration // wait for the model to load
	ShutdownTimeout time.Duration // wait for in-flight work on Close before killing
}

// DefaultConfig runs python/face_worker.py with unbuffered output.
func DefaultConfig() Config {
	return Config{
		Command:         "python3",
		Args:            []string{"-u", "python/face_worker.py"},
		StartTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// PythonEngine streams frames to a face landmark worker process and delivers
// results asynchronously. At most one frame is in flight; newer frames
// replace older unsent ones.
type PythonEngine struct {
	cfg    Config
	logger logrus.FieldLogger

	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mailbox    *mailbox
	inflight   chan struct{}
	onResult   func(types.AnalysisResult)
	closing    atomic.Bool
	done       chan struct{} // closed by Close to release the writer
	writerDone chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
	killOnce   sync.Once
}

// NewPythonEngine prepares an engine; nothing is started until Start.
func NewPythonEngine(cfg Config, logger logrus.FieldLogger) *PythonEngine {
	return &PythonEngine{
		cfg:     cfg,
		logger:  logger.WithField("component", "engine"),
		mailbox: newMailbox(),
	}
}

// Start launches the worker and waits for its ready message.
// Failures are wrapped in types.ErrAnalysisInit.
func (e *PythonEngine) Start(onResult func(types.AnalysisResult)) error {
	py := utils.NewSafeCommand(e.cfg.Command, e.cfg.Args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: failed to create pipe: %v", types.ErrAnalysisInit, err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return fmt.Errorf("%w: failed to create stdin pipe: %v", types.ErrAnalysisInit, err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return fmt.Errorf("%w: %s failed to start: %v", types.ErrAnalysisInit, e.cfg.Command, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	e.Cmd = py
	e.Stdin = stdin
	e.DataPipe = r

	if err := e.awaitReady(); err != nil {
		py.Process.Kill()
		stdin.Close()
		r.Close()
		py.Wait()
		if logs := strings.TrimSpace(py.Stderr.String()); logs != "" {
			return fmt.Errorf("%w: %v\nworker logs:\n%s", types.ErrAnalysisInit, err, logs)
		}
		return fmt.Errorf("%w: %v", types.ErrAnalysisInit, err)
	}

	e.logger.WithField("pid", py.Process.Pid).Info("Analysis engine ready")
	e.run(onResult)
	return nil
}

func (e *PythonEngine) awaitReady() error {
	type outcome struct {
		resp types.EngineResponse
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := readMessage(e.DataPipe)
		ch <- outcome{resp, err}
	}()

	timeout := e.cfg.StartTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().StartTimeout
	}

	select {
	case o := <-ch:
		if o.err != nil {
			return fmt.Errorf("worker exited before ready: %w", o.err)
		}
		if o.resp.Error != "" {
			return fmt.Errorf("worker error: %s", o.resp.Error)
		}
		if !o.resp.Ready {
			return fmt.Errorf("unexpected first message from worker")
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker not ready after %s", timeout)
	}
}

// run starts the writer and reader goroutines over Stdin and DataPipe.
func (e *PythonEngine) run(onResult func(types.AnalysisResult)) {
	e.onResult = onResult
	e.inflight = make(chan struct{}, 1)
	e.done = make(chan struct{})
	e.writerDone = make(chan struct{})
	e.readerDone = make(chan struct{})
	go e.writeLoop()
	go e.readLoop()
}

// Submit queues frame for analysis without waiting for earlier frames.
func (e *PythonEngine) Submit(frame types.Frame, timestampMs int64) error {
	if e.readerDone == nil {
		return ErrEngineStopped
	}
	select {
	case <-e.readerDone:
		return ErrEngineStopped
	default:
	}

	replaced, ok := e.mailbox.put(request{frame: frame, timestampMs: timestampMs})
	if !ok {
		return ErrEngineStopped
	}
	if replaced {
		metrics.AnalysisDropped.Inc()
	}
	return nil
}

// Dropped is the number of frames replaced before they reached the worker.
func (e *PythonEngine) Dropped() uint64 {
	return e.mailbox.dropped()
}

func (e *PythonEngine) writeLoop() {
	defer close(e.writerDone)

	for {
		// Take the in-flight slot first so the newest frame is the one written.
		select {
		case e.inflight <- struct{}{}:
		case <-e.readerDone:
			return
		case <-e.done:
			return
		}

		req, ok := e.mailbox.take()
		if !ok {
			return
		}
		if err := writeFrame(e.Stdin, req.frame, req.timestampMs); err != nil {
			if !e.closing.Load() {
				e.logger.WithError(err).Warn("Failed to send frame to worker")
			}
			return
		}
	}
}

func (e *PythonEngine) readLoop() {
	defer close(e.readerDone)

	for {
		resp, err := readMessage(e.DataPipe)
		if err != nil {
			if !e.closing.Load() {
				e.logger.WithError(err).Error("Analysis engine exited")
			}
			return
		}

		// Free the slot before the callback so the writer can proceed.
		select {
		case <-e.inflight:
		default:
		}

		if resp.Error != "" {
			metrics.AnalysisResults.WithLabelValues("error").Inc()
			e.logger.WithField("ts", resp.TimestampMs).Warnf("Worker logic error: %s", resp.Error)
			continue
		}
		e.onResult(resp.Result())
	}
}

// Close stops the worker. When it returns no further callback will run.
// A worker that does not exit within ShutdownTimeout is killed.
func (e *PythonEngine) Close() error {
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		if e.done != nil {
			close(e.done)
		}
		e.mailbox.close()
		if e.Stdin != nil {
			e.Stdin.Close() // EOF tells the worker to finish up
		}

		timeout := e.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultConfig().ShutdownTimeout
		}
		deadline := time.After(timeout)

		for _, ch := range []chan struct{}{e.writerDone, e.readerDone} {
			if ch == nil {
				continue
			}
			select {
			case <-ch:
			case <-deadline:
				e.kill(timeout)
				<-ch
			}
		}

		if e.DataPipe != nil {
			e.DataPipe.Close()
		}
		if e.Cmd != nil {
			if err := e.Cmd.Wait(); err != nil {
				e.closeErr = fmt.Errorf("worker exited: %w", err)
			}
		}
	})
	return e.closeErr
}

// kill stops a worker that ignored the shutdown request and unblocks the reader.
func (e *PythonEngine) kill(timeout time.Duration) {
	e.killOnce.Do(func() {
		e.logger.WithField("timeout", timeout).Warn("Worker did not exit, killing it")
		if e.Cmd != nil && e.Cmd.Process != nil {
			e.Cmd.Process.Kill()
		}
		if e.DataPipe != nil {
			e.DataPipe.Close()
		}
	})
}
