package serialmux

import "fmt"

// NewRealSerialMux opens the serial device at path with the given options and
// returns a mux over it.
func NewRealSerialMux(name, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(name, path, opts, OpenSerialPort)
}

// OpenSerialMux is NewRealSerialMux with a replaceable opener.
func OpenSerialMux(name, path string, opts PortOptions, open PortOpener) (*SerialMux[SerialPorter], error) {
	if path == "" {
		return nil, fmt.Errorf("%s: no serial port configured", name)
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%s: open %s: %w", name, path, err)
	}
	return NewSerialMux(name, port), nil
}
