// Serialmux provides an abstraction over a serial port with the ability for
// multiple clients to subscribe to lines from the port and send commands to
// the single device behind it. racelog runs one mux per sensor: the GPS
// receiver and the IMU.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// subscriberBuffer is the number of lines a subscriber may fall behind before
// lines are dropped for it.
const subscriberBuffer = 64

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to lines from a single serial port.
type SerialMux[T SerialPorter] struct {
	name         string
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving lines from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads lines from the serial port and sends them to the
	// subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// Initialize writes the device's start-up commands in order.
	Initialize(commands ...string) error
	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux for port. The name ("gps", "imu") prefixes
// its admin routes.
func NewSerialMux[T SerialPorter](name string, port T) *SerialMux[T] {
	return &SerialMux[T]{
		name:        name,
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// Name returns the mux name.
func (s *SerialMux[T]) Name() string { return s.name }

// Port returns the underlying port.
func (s *SerialMux[T]) Port() T { return s.port }

// Subscribe registers a buffered line channel. After Close it returns an
// already closed channel.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux and closes its channel.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialize sends the start-up commands to the device, stopping at the first
// failure.
func (s *SerialMux[T]) Initialize(commands ...string) error {
	for _, command := range commands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send %s start command %q: %w", s.name, strings.TrimSpace(command), err)
		}
	}
	return nil
}

// SendCommand sends a command to the serial port, appending a newline if the
// command has none.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port and fans them out to subscribers until
// ctx is done, the port reaches EOF or the mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan runs on its own goroutine so cancellation is noticed
	// between lines.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- strings.TrimRight(scan.Text(), "\r"):
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
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if !s.broadcast(line) {
				return nil
			}
		}
	}
}

// broadcast delivers line to every subscriber without blocking and reports
// false once the mux is closing.
func (s *SerialMux[T]) broadcast(line string) bool {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		return false
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// slow subscriber; drop rather than stall the port
		}
	}
	return true
}

func (s *SerialMux[T]) isClosing() bool {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return s.closing
}

// Close closes every subscriber channel and the port. Calling it again only
// closes the port again.
func (s *SerialMux[T]) Close() error {
	s.subscriberMu.Lock()
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes registers /debug/<name>-send-command (an HTML console),
// /debug/<name>-send-command-api, /debug/<name>-tail (SSE of port lines) and
// /debug/<name>-tail.js.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutesForMux(mux, s.name, s)
}

// AttachAdminRoutesForMux registers the serial admin routes for any mux
// implementation under the given name.
func AttachAdminRoutesForMux(mux *http.ServeMux, name string, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)
	prefix := name + "-"

	debug.HandleFunc(prefix+"send-command", "send a command to the "+name+" serial port", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, struct{ Name string }{name}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc(prefix+"send-command-api", func(w http.ResponseWriter, r *http.Request) {
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
		fmt.Fprintf(w, "Wrote command %q to %s serial port", command, name)
	})

	debug.HandleSilentFunc(prefix+"tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc(prefix+"tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
