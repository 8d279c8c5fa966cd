package stimulus

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// RecordingPort implements SerialPorter with configurable behaviour for
// testing and for running without laser hardware. It records every byte
// written and lets callers inject device responses, errors and blocking
// reads.
type RecordingPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// ShortWrite causes Write to report one byte fewer than written
	ShortWrite bool

	// Respond simulates the device: it is called with each complete
	// newline-terminated command written to the port and its return
	// values are queued as response lines.
	Respond func(command string) []string

	// pending accumulates written bytes until a newline completes a command
	pending []byte

	// readCond is used to signal blocked readers
	readCond *sync.Cond
}

// NewRecordingPort creates a new RecordingPort.
func NewRecordingPort() *RecordingPort {
	rp := &RecordingPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	rp.readCond = sync.NewCond(&rp.mu)
	return rp
}

// Read reads from the read buffer, optionally blocking until data arrives.
// A closed port reads as io.EOF so line scanners shut down cleanly.
func (t *RecordingPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, io.EOF
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.BlockReads && t.ReadBuffer.Len() == 0 {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, io.EOF
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write records the written bytes and feeds complete commands to the
// Respond simulator when one is configured.
func (t *RecordingPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, err = t.WriteBuffer.Write(p)
	if err != nil {
		return n, err
	}

	t.pending = append(t.pending, p...)
	for {
		idx := bytes.IndexByte(t.pending, '\n')
		if idx < 0 {
			break
		}
		command := string(t.pending[:idx])
		t.pending = t.pending[idx+1:]
		if t.Respond != nil {
			for _, line := range t.Respond(command) {
				t.ReadBuffer.WriteString(line + "\n")
			}
			t.readCond.Signal()
		}
	}

	if t.ShortWrite && n > 0 {
		n--
	}
	return n, nil
}

// Close marks the port as closed.
func (t *RecordingPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // wake up any blocked readers

	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *RecordingPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal() // wake up a blocked reader
}

// Written returns all data written to the port.
func (t *RecordingPort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.Bytes()
}

// Commands returns the newline-terminated commands written so far.
func (t *RecordingPort) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := strings.TrimSuffix(t.WriteBuffer.String(), "\n")
	if data == "" {
		return nil
	}
	return strings.Split(data, "\n")
}

// Reset clears all buffers and resets state.
func (t *RecordingPort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.pending = nil
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
}

// NewMockLaser creates a LaserMux backed by a simulated laser controller.
// The simulated device acknowledges on/off commands and answers status
// queries from its tracked state, so the full command and monitor paths
// work without hardware.
func NewMockLaser() (*LaserMux[*RecordingPort], *RecordingPort) {
	port := NewRecordingPort()
	port.BlockReads = true

	var on bool
	port.Respond = func(command string) []string {
		switch command {
		case cmdLaserOn:
			on = true
			return []string{"ON"}
		case cmdLaserOff:
			on = false
			return []string{"OFF"}
		case cmdLaserStatus:
			if on {
				return []string{"ON"}
			}
			return []string{"OFF"}
		default:
			return []string{"ERR"}
		}
	}

	return NewLaserMux(port), port
}
