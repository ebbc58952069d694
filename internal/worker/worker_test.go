package worker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/echoface/internal/types"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func testFrame(ts int64) types.Frame {
	return types.Frame{TimestampMs: ts, Width: 2, Height: 2, Data: make([]byte, 2*2*3)}
}

func writeResponse(t *testing.T, w io.Writer, resp any) {
	t.Helper()
	body, err := json.Marshal(resp)
	require.NoError(t, err)
	require.NoError(t, binary.Write(w, binary.BigEndian, uint32(len(body))))
	_, err = w.Write(body)
	require.NoError(t, err)
}

// readRequest plays the Python side: it returns the timestamp of the next frame.
func readRequest(r io.Reader) (int64, error) {
	header := make([]byte, 4+requestHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, err
	}
	size := binary.BigEndian.Uint32(header[0:])
	ts := int64(binary.BigEndian.Uint64(header[4:]))
	if _, err := io.CopyN(io.Discard, r, int64(size)-requestHeaderSize); err != nil {
		return 0, err
	}
	return ts, nil
}

func TestWriteFrame(t *testing.T) {
	buf := new(bytes.Buffer)
	frame := types.Frame{Width: 2, Height: 1, Data: []byte{1, 2, 3, 4, 5, 6}}

	require.NoError(t, writeFrame(buf, frame, 1033))

	sent := buf.Bytes()
	// Expect 4 bytes length + 16 bytes header + pixels
	require.Len(t, sent, 4+requestHeaderSize+6)
	assert.Equal(t, uint32(requestHeaderSize+6), binary.BigEndian.Uint32(sent[0:]))
	assert.Equal(t, uint64(1033), binary.BigEndian.Uint64(sent[4:]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(sent[12:]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(sent[16:]))
	assert.Equal(t, frame.Data, sent[20:])

	bad := types.Frame{Width: 4, Height: 4, Data: []byte{1}}
	assert.Error(t, writeFrame(buf, bad, 1))
}

func TestReadMessage(t *testing.T) {
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	writeResponse(t, dataPipeMock, map[string]any{
		"ts":          1033,
		"blendshapes": map[string]float64{"jawOpen": 0.8},
		"landmarks":   map[string][3]float64{"152": {0.1, 0.2, 0.3}},
	})

	resp, err := readMessage(dataPipeMock)
	require.NoError(t, err)
	assert.Equal(t, int64(1033), resp.TimestampMs)
	assert.Equal(t, 0.8, resp.Blendshapes["jawOpen"])
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, resp.Landmarks["152"])
}

func TestReadMessage_Errors(t *testing.T) {
	// Truncated body
	truncated := new(bytes.Buffer)
	binary.Write(truncated, binary.BigEndian, uint32(10))
	truncated.WriteString("{}")
	_, err := readMessage(truncated)
	assert.Error(t, err)

	// Oversized length header
	huge := new(bytes.Buffer)
	binary.Write(huge, binary.BigEndian, uint32(maxResponseSize+1))
	_, err = readMessage(huge)
	assert.Error(t, err)

	// Garbage JSON
	garbage := new(bytes.Buffer)
	binary.Write(garbage, binary.BigEndian, uint32(3))
	garbage.WriteString("{{{")
	_, err = readMessage(garbage)
	assert.Error(t, err)

	// Empty pipe
	_, err = readMessage(new(bytes.Buffer))
	assert.ErrorIs(t, err, io.EOF)
}

func TestMailboxOverwrites(t *testing.T) {
	m := newMailbox()

	replaced, ok := m.put(request{timestampMs: 1})
	assert.True(t, ok)
	assert.False(t, replaced)
	replaced, _ = m.put(request{timestampMs: 2})
	assert.True(t, replaced)

	r, ok := m.take()
	require.True(t, ok)
	assert.Equal(t, int64(2), r.timestampMs)
	assert.Equal(t, uint64(1), m.dropped())

	done := make(chan bool)
	go func() {
		_, ok := m.take()
		done <- ok
	}()
	m.close()
	assert.False(t, <-done, "take must unblock on close")

	_, ok = m.put(request{timestampMs: 3})
	assert.False(t, ok)
}

// pipedEngine wires an engine to in-memory pipes; the test plays the worker.
type pipedEngine struct {
	engine  *PythonEngine
	reqR    *io.PipeReader // frames sent by the engine
	respW   *io.PipeWriter // responses to the engine
	results chan types.AnalysisResult
	calls   atomic.Int64
}

func newPipedEngine(t *testing.T) *pipedEngine {
	t.Helper()
	logger, _ := test.NewNullLogger()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	p := &pipedEngine{reqR: reqR, respW: respW, results: make(chan types.AnalysisResult, 16)}
	cfg := DefaultConfig()
	cfg.ShutdownTimeout = time.Second
	p.engine = NewPythonEngine(cfg, logger)
	p.engine.Stdin = reqW
	p.engine.DataPipe = respR
	p.engine.run(func(r types.AnalysisResult) {
		p.calls.Add(1)
		p.results <- r
	})
	return p
}

func (p *pipedEngine) expectResult(t *testing.T) types.AnalysisResult {
	t.Helper()
	select {
	case r := <-p.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return types.AnalysisResult{}
	}
}

func TestEngineDeliversResultsAsync(t *testing.T) {
	p := newPipedEngine(t)

	// Worker: echo each frame back with a blendshape until stdin closes.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		defer p.respW.Close()
		for {
			ts, err := readRequest(p.reqR)
			if err != nil {
				return
			}
			writeResponse(t, p.respW, map[string]any{
				"ts":          ts,
				"blendshapes": map[string]float64{"jawOpen": 0.5},
			})
		}
	}()

	require.NoError(t, p.engine.Submit(testFrame(1000), 1000))
	r := p.expectResult(t)
	assert.Equal(t, int64(1000), r.TimestampMs)
	assert.Equal(t, 0.5, r.Blendshapes["jawOpen"])

	require.NoError(t, p.engine.Submit(testFrame(1033), 1033))
	assert.Equal(t, int64(1033), p.expectResult(t).TimestampMs)

	require.NoError(t, p.engine.Close())
	<-workerDone

	calls := p.calls.Load()
	assert.ErrorIs(t, p.engine.Submit(testFrame(2000), 2000), ErrEngineStopped)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, p.calls.Load(), "no callback after Close")
}

func TestEngineKeepsOnlyNewestPendingFrame(t *testing.T) {
	p := newPipedEngine(t)

	first := make(chan int64)
	release := make(chan struct{})
	seen := make(chan int64, 8)
	go func() {
		defer p.respW.Close()
		ts, err := readRequest(p.reqR)
		if err != nil {
			return
		}
		first <- ts
		<-release // analysis of frame 1 is slow
		writeResponse(t, p.respW, map[string]any{"ts": ts, "blendshapes": map[string]float64{"jawOpen": 0.1}})

		for {
			ts, err := readRequest(p.reqR)
			if err != nil {
				return
			}
			seen <- ts
			writeResponse(t, p.respW, map[string]any{"ts": ts, "blendshapes": map[string]float64{"jawOpen": 0.2}})
		}
	}()

	require.NoError(t, p.engine.Submit(testFrame(1), 1))
	assert.Equal(t, int64(1), <-first)

	// Engine busy: these must not block and only the newest survives.
	for ts := int64(2); ts <= 4; ts++ {
		require.NoError(t, p.engine.Submit(testFrame(ts), ts))
	}
	assert.Equal(t, uint64(2), p.engine.Dropped())

	close(release)
	assert.Equal(t, int64(1), p.expectResult(t).TimestampMs)
	assert.Equal(t, int64(4), <-seen)
	assert.Equal(t, int64(4), p.expectResult(t).TimestampMs)

	require.NoError(t, p.engine.Close())
}

func TestEngineLogicErrorIsNotDelivered(t *testing.T) {
	p := newPipedEngine(t)

	failed := make(chan struct{})
	go func() {
		defer p.respW.Close()
		ts, err := readRequest(p.reqR)
		if err != nil {
			return
		}
		writeResponse(t, p.respW, map[string]any{"ts": ts, "error": "no model"})
		close(failed)
		ts, err = readRequest(p.reqR)
		if err != nil {
			return
		}
		writeResponse(t, p.respW, map[string]any{"ts": ts, "landmarks": map[string][3]float64{"152": {1, 2, 3}}})
		io.Copy(io.Discard, p.reqR)
	}()

	require.NoError(t, p.engine.Submit(testFrame(10), 10))
	<-failed

	// The error response frees the in-flight slot, so the next frame still goes out.
	require.NoError(t, p.engine.Submit(testFrame(20), 20))
	r := p.expectResult(t)
	assert.Equal(t, int64(20), r.TimestampMs)
	assert.Equal(t, types.Landmark{X: 1, Y: 2, Z: 3}, r.Landmarks["152"])
	require.NoError(t, p.engine.Close())
}

func TestSubmitAfterWorkerExit(t *testing.T) {
	p := newPipedEngine(t)
	p.respW.Close() // worker crashed

	require.Eventually(t, func() bool {
		return p.engine.Submit(testFrame(1), 1) != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, p.engine.Submit(testFrame(2), 2), ErrEngineStopped)

	go io.Copy(io.Discard, p.reqR)
	require.NoError(t, p.engine.Close())
}

func TestStartMissingBinary(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := NewPythonEngine(Config{Command: "/nonexistent/python3-echoface"}, logger)

	err := e.Start(func(types.AnalysisResult) {})
	assert.ErrorIs(t, err, types.ErrAnalysisInit)
	assert.NoError(t, e.Close(), "Close before a successful Start is a no-op")
}

func TestStartWorkerCrashesBeforeReady(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := NewPythonEngine(Config{
		Command:      "sh",
		Args:         []string{"-c", "echo 'ModuleNotFoundError: mediapipe' >&2; exit 3"},
		StartTimeout: 5 * time.Second,
	}, logger)

	err := e.Start(func(types.AnalysisResult) {})
	require.ErrorIs(t, err, types.ErrAnalysisInit)
	assert.Contains(t, err.Error(), "ModuleNotFoundError")
}

func TestStartAndCloseRealProcess(t *testing.T) {
	logger, _ := test.NewNullLogger()
	// {"ready":true} is 14 bytes (octal 016); then swallow frames until EOF.
	script := `printf '\000\000\000\016{"ready":true}' >&3; cat >/dev/null`
	e := NewPythonEngine(Config{
		Command:         "sh",
		Args:            []string{"-c", script},
		StartTimeout:    5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, logger)

	var mu sync.Mutex
	var got []types.AnalysisResult
	require.NoError(t, e.Start(func(r types.AnalysisResult) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}))

	require.NoError(t, e.Submit(testFrame(1), 1))
	require.NoError(t, e.Close())
	assert.NoError(t, e.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, got, fmt.Sprintf("unexpected results: %v", got))
}

func TestCloseKillsUnresponsiveWorker(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	defer respW.Close()

	e := NewPythonEngine(Config{ShutdownTimeout: 100 * time.Millisecond}, logger)
	e.Stdin = reqW
	e.DataPipe = respR
	e.run(func(types.AnalysisResult) { t.Error("unexpected result") })

	// Worker takes the frame and never answers or exits.
	received := make(chan struct{})
	go func() {
		if _, err := readRequest(reqR); err == nil {
			close(received)
		}
		io.Copy(io.Discard, reqR)
	}()

	require.NoError(t, e.Submit(testFrame(1), 1))
	<-received
	require.NoError(t, e.Submit(testFrame(2), 2)) // parked behind the in-flight frame

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked past ShutdownTimeout")
	}
}

func TestCloseKillsHungWorkerProcess(t *testing.T) {
	logger, _ := test.NewNullLogger()
	script := `printf '\000\000\000\016{"ready":true}' >&3; exec sleep 30`
	e := NewPythonEngine(Config{
		Command:         "sh",
		Args:            []string{"-c", script},
		StartTimeout:    5 * time.Second,
		ShutdownTimeout: 200 * time.Millisecond,
	}, logger)
	require.NoError(t, e.Start(func(types.AnalysisResult) {}))
	require.NoError(t, e.Submit(testFrame(1), 1))

	errCh := make(chan error, 1)
	start := time.Now()
	go func() { errCh <- e.Close() }()

	select {
	case err := <-errCh:
		assert.Error(t, err, "a killed worker reports its exit status")
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked past ShutdownTimeout")
	}
}
