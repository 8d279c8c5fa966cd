package stimulus

import (
	"testing"

	"go.bug.st/serial"
)

// TestPortOptionsNormalizeDefaults tests the laser controller defaults
func TestPortOptionsNormalizeDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if opts.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", opts.BaudRate)
	}
	if opts.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", opts.DataBits)
	}
	if opts.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", opts.StopBits)
	}
	if opts.Parity != "N" {
		t.Errorf("Parity = %q, want N", opts.Parity)
	}
}

// TestPortOptionsNormalizeValidation tests rejection of unsupported values
func TestPortOptionsNormalizeValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, false},
		{"named parity lowercase", PortOptions{Parity: "even"}, false},
		{"named parity odd", PortOptions{Parity: "ODD"}, false},
		{"two stop bits", PortOptions{StopBits: 2}, false},
		{"seven data bits", PortOptions{DataBits: 7}, false},
		{"data bits too small", PortOptions{DataBits: 4}, true},
		{"data bits too large", PortOptions{DataBits: 9}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, true},
		{"bad parity", PortOptions{Parity: "MARK"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.Normalize()
			if (err != nil) != tt.wantErr {
				t.Errorf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestPortOptionsSerialMode tests conversion to the serial library mode
func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{Parity: "even", StopBits: 2}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode returned error: %v", err)
	}

	if mode.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", mode.BaudRate)
	}
	if mode.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", mode.DataBits)
	}
	if mode.Parity != serial.EvenParity {
		t.Errorf("Parity = %v, want EvenParity", mode.Parity)
	}
	if mode.StopBits != serial.StopBits(2) {
		t.Errorf("StopBits = %v, want 2", mode.StopBits)
	}

	if _, err := (PortOptions{Parity: "MARK"}).SerialMode(); err == nil {
		t.Error("Expected error for unsupported parity")
	}
}
