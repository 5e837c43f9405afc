package serialmux

import (
	"io"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens the device at path. OpenSerialPort is the production
// opener; tests substitute their own.
type PortOpener func(path string, mode *serial.Mode) (SerialPorter, error)

// OpenSerialPort opens a real serial device with go.bug.st/serial.
func OpenSerialPort(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}
