package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// ReplayPort is a SerialPorter that plays back recorded lines at a fixed
// interval, looping until closed. Commands written to it are kept for
// inspection. It backs the -dev mode of racelog serve.
type ReplayPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer

	done      chan struct{}
	closeOnce sync.Once
}

// NewReplaySerialMux creates a mux whose port replays lines, one every
// interval.
func NewReplaySerialMux(name string, lines []string, interval time.Duration) *SerialMux[*ReplayPort] {
	return NewSerialMux(name, NewReplayPort(lines, interval))
}

// NewReplayPort starts replaying lines. An empty recording produces nothing.
func NewReplayPort(lines []string, interval time.Duration) *ReplayPort {
	r, w := io.Pipe()
	p := &ReplayPort{r: r, w: w, done: make(chan struct{})}
	go p.replay(lines, interval)
	return p
}

func (p *ReplayPort) replay(lines []string, interval time.Duration) {
	defer p.w.Close()
	if len(lines) == 0 {
		<-p.done
		return
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		if _, err := io.WriteString(p.w, lines[i%len(lines)]+"\r\n"); err != nil {
			return
		}
	}
}

func (p *ReplayPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *ReplayPort) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errPortClosed
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

// Written returns every command written to the port so far.
func (p *ReplayPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Close stops the replay. Pending reads return io.EOF.
func (p *ReplayPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.w.CloseWithError(io.EOF)
	})
	return nil
}

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer. With BlockReads an empty buffer waits for
// AddReadData or Close instead of returning io.EOF.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	for t.BlockReads && !t.Closed && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.Closed {
		return 0, errPortClosed
	}
	return t.ReadBuffer.Read(p)
}

// Write appends to the write buffer unless an error is configured.
func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n, err := t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}
