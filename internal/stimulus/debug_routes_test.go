package stimulus

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from
// localhost. This bypasses tsweb.AllowDebugAccess which checks for
// loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// TestDebugRoutesCommandAPI tests the laser-command-api endpoint
func TestDebugRoutesCommandAPI(t *testing.T) {
	port := NewRecordingPort()
	mux := NewLaserMux(port)

	httpMux := http.NewServeMux()
	mux.AttachDebugRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		formData       url.Values
		expectedStatus int
		wantBody       string
	}{
		{
			name:           "valid POST with command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"Q"}},
			expectedStatus: http.StatusOK,
			wantBody:       "Q",
		},
		{
			name:           "POST with empty command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {""}},
			expectedStatus: http.StatusBadRequest,
			wantBody:       "Missing command",
		},
		{
			name:           "POST with whitespace-only command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"   "}},
			expectedStatus: http.StatusBadRequest,
			wantBody:       "Missing command",
		},
		{
			name:           "GET method not allowed",
			method:         http.MethodGet,
			formData:       nil,
			expectedStatus: http.StatusMethodNotAllowed,
			wantBody:       "Method not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.formData != nil {
				body = strings.NewReader(tt.formData.Encode())
			}

			req := localHostRequest(tt.method, "/debug/laser-command-api", body)
			if tt.formData != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %q, got: %s", tt.wantBody, w.Body.String())
			}
		})
	}

	if !strings.Contains(string(port.Written()), "Q\n") {
		t.Error("Expected Q command to be written to the port")
	}
}

// TestDebugRoutesCommandAPIWriteError tests error handling when the port
// write fails
func TestDebugRoutesCommandAPIWriteError(t *testing.T) {
	port := NewRecordingPort()
	port.WriteError = errors.New("write failed")
	mux := NewLaserMux(port)

	httpMux := http.NewServeMux()
	mux.AttachDebugRoutes(httpMux)

	formData := url.Values{"command": {"O"}}
	req := localHostRequest(http.MethodPost, "/debug/laser-command-api", strings.NewReader(formData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

// TestDebugRoutesCommandPage tests the laser-command HTML page
func TestDebugRoutesCommandPage(t *testing.T) {
	mux := NewLaserMux(NewRecordingPort())

	httpMux := http.NewServeMux()
	mux.AttachDebugRoutes(httpMux)

	req := localHostRequest(http.MethodGet, "/debug/laser-command", nil)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "laser-command-api") {
		t.Errorf("Expected page to post to laser-command-api, got: %s", body)
	}
	if !strings.Contains(body, "form") {
		t.Errorf("Expected page to contain a form, got: %s", body)
	}
}

// TestDebugRoutesTailMethodNotAllowed tests method handling on the SSE
// endpoint
func TestDebugRoutesTailMethodNotAllowed(t *testing.T) {
	mux := NewLaserMux(NewRecordingPort())

	httpMux := http.NewServeMux()
	mux.AttachDebugRoutes(httpMux)

	req := localHostRequest(http.MethodPost, "/debug/laser-tail", nil)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

// TestDebugRoutesTailSSE exercises the SSE handler happy path: subscribe,
// receive data, then client disconnects.
func TestDebugRoutesTailSSE(t *testing.T) {
	mux := NewLaserMux(NewRecordingPort())

	httpMux := http.NewServeMux()
	mux.AttachDebugRoutes(httpMux)

	// Use httptest.Server so we get real HTTP with client-side context control.
	ts := httptest.NewServer(httpMux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/debug/laser-tail", nil)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("expected text/event-stream, got %s", ct)
	}

	// Read the initial ping comment
	scanner := bufio.NewScanner(resp.Body)
	if scanner.Scan() {
		if line := scanner.Text(); !strings.HasPrefix(line, ": ping") {
			t.Errorf("expected initial ping, got %q", line)
		}
	}

	// Push a device line through the subscriber system
	mux.subscriberMu.Lock()
	for _, ch := range mux.subscribers {
		select {
		case ch <- "ON":
		case <-time.After(1 * time.Second):
			t.Error("Timeout pushing line to SSE subscriber")
		}
	}
	mux.subscriberMu.Unlock()

	gotData := false
	for i := 0; i < 5 && scanner.Scan(); i++ {
		if strings.Contains(scanner.Text(), "ON") {
			gotData = true
			break
		}
	}
	if !gotData {
		t.Error("did not receive SSE data event")
	}

	cancel()
}
