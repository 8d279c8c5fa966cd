// Package stimulus drives the experiment actuators: the serial laser
// controller and the on-screen cue worker, plus the Sink adapters the
// experiment controllers consume. The laser mux allows multiple clients
// to subscribe to device responses while commands go out over a single
// serial port.
package stimulus

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// Laser controller wire protocol: single-letter commands terminated by a
// newline at 115200-8-N-1.
const (
	cmdLaserOn     = "O"
	cmdLaserOff    = "F"
	cmdLaserStatus = "Q"
)

var commandPageTemplate = template.Must(template.New("laser-command").Parse(`<!DOCTYPE html>
<html>
<head><title>laser command</title></head>
<body>
<h1>laser command</h1>
<form method="POST" action="laser-command-api">
<input type="text" name="command" placeholder="O, F or Q" autofocus>
<input type="submit" value="Send">
</form>
<p>Live responses: <a href="laser-tail">laser-tail</a> (SSE)</p>
</body>
</html>
`))

// LaserMux is a serial port multiplexer for the laser controller. It
// serializes commands onto the port and fans device responses out to
// every subscriber.
type LaserMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// Muxer defines the interface for the LaserMux type.
type Muxer interface {
	// Subscribe creates a new channel for receiving line events from
	// the device. The channel ID identifies the channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// On switches the laser on.
	On() error
	// Off switches the laser off.
	Off() error
	// QueryStatus asks the device to report its state on the response
	// stream.
	QueryStatus() error
	// Monitor reads lines from the serial port and sends them to the
	// subscribed channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	Initialize() error

	// AttachDebugRoutes attaches debugging endpoints to the given HTTP
	// mux served under /debug/. These routes are reachable only over
	// localhost or the tailnet.
	AttachDebugRoutes(*http.ServeMux)
}

// NewLaserMux creates a LaserMux instance backed by the given port.
func NewLaserMux[T SerialPorter](port T) *LaserMux[T] {
	return &LaserMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *LaserMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (s *LaserMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialize forces the device into a known state: laser off, then a
// status query so the response stream confirms the device is answering.
func (s *LaserMux[T]) Initialize() error {
	if err := s.Off(); err != nil {
		return fmt.Errorf("failed to force laser off: %w", err)
	}
	if err := s.QueryStatus(); err != nil {
		return fmt.Errorf("failed to query laser status: %w", err)
	}
	return nil
}

// On switches the laser on.
func (s *LaserMux[T]) On() error {
	return s.SendCommand(cmdLaserOn)
}

// Off switches the laser off.
func (s *LaserMux[T]) Off() error {
	return s.SendCommand(cmdLaserOff)
}

// QueryStatus asks the device to report its state.
func (s *LaserMux[T]) QueryStatus() error {
	return s.SendCommand(cmdLaserStatus)
}

// SendCommand sends a command to the serial port.
func (s *LaserMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	Tracef("sent %q", strings.TrimSuffix(command, "\n"))
	return nil
}

// Monitor monitors the serial port for responses and sends them to
// subscribers.
func (s *LaserMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// start a goroutine to read from the serial port & send any lines
	// that are scanned to lineChan, and any errors to scanErrChan.
	//
	// the blocking scan.Scan will not interfere with the outer loop
	// awaiting lines & context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			// if the channel is closed, we're done reading from the
			// serial port
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// if the channel is full/blocking skip so as not
					// to block the outer loop
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *LaserMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

// AttachDebugRoutes registers the laser debugging endpoints: a command
// page, a command API and an SSE tail of device responses.
func (s *LaserMux[T]) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("laser-command", "send a command to the laser controller", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := commandPageTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to write a command to the serial port
	debug.HandleSilentFunc("laser-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// API endpoint to issue Server-Sent Events (SSE) for lines coming
	// from the device.
	debug.HandleSilentFunc("laser-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
