package transmitter

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
)

// Port abstracts the serial device a transmitter writes frames to.
type Port interface {
	Open() error
	Close() error
	Send(frame []byte) error
}

// SerialPort drives a real MULTI module over UART. The module expects
// 100000 baud 8E2.
type SerialPort struct {
	device string
	baud   int

	mu   sync.Mutex
	port serial.Port
}

// NewSerialPort creates a port for the given device path. A zero baud
// rate selects the MULTI default of 100000.
func NewSerialPort(device string, baud int) *SerialPort {
	if baud == 0 {
		baud = 100000
	}
	return &SerialPort{device: device, baud: baud}
}

// Open opens the underlying serial device.
func (p *SerialPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: p.baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}
	port, err := serial.Open(p.device, mode)
	if err != nil {
		return pitxerrors.WrapTransient(err, "transmitter", "Open",
			fmt.Sprintf("open serial device %s", p.device))
	}
	p.port = port
	return nil
}

// Close closes the serial device.
func (p *SerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	if err != nil {
		return pitxerrors.Wrap(err, "transmitter", "Close", "close serial device")
	}
	return nil
}

// Send writes one frame to the device.
func (p *SerialPort) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return pitxerrors.WrapInvalid(pitxerrors.ErrPortClosed,
			"transmitter", "Send", "serial device")
	}
	if _, err := p.port.Write(frame); err != nil {
		return pitxerrors.WrapTransient(err, "transmitter", "Send", "serial write")
	}
	return nil
}

// CapturedFrame is one frame recorded by a DebugPort.
type CapturedFrame struct {
	Timestamp time.Time
	Raw       []byte
	Parsed    *FrameInfo
	ParseErr  error
}

// DebugPort captures frames instead of writing to hardware, keeping the
// most recent ones for inspection. It satisfies Port so the transmitter
// can run unmodified without a MULTI module attached.
type DebugPort struct {
	maxFrames int

	mu     sync.Mutex
	open   bool
	frames []CapturedFrame
}

// NewDebugPort creates a capture port retaining up to maxFrames frames.
func NewDebugPort(maxFrames int) *DebugPort {
	if maxFrames <= 0 {
		maxFrames = 100
	}
	return &DebugPort{maxFrames: maxFrames}
}

// Open marks the port as capturing.
func (p *DebugPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	return nil
}

// Close stops capturing.
func (p *DebugPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// Send records the frame along with its parsed form.
func (p *DebugPort) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return pitxerrors.WrapInvalid(pitxerrors.ErrPortClosed,
			"transmitter", "Send", "debug port")
	}

	raw := make([]byte, len(frame))
	copy(raw, frame)
	parsed, err := ParseFrame(raw)

	p.frames = append(p.frames, CapturedFrame{
		Timestamp: time.Now(),
		Raw:       raw,
		Parsed:    parsed,
		ParseErr:  err,
	})
	if len(p.frames) > p.maxFrames {
		p.frames = p.frames[len(p.frames)-p.maxFrames:]
	}
	return nil
}

// Latest returns the most recently captured frame.
func (p *DebugPort) Latest() (CapturedFrame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return CapturedFrame{}, false
	}
	return p.frames[len(p.frames)-1], true
}

// Frames returns a copy of all captured frames.
func (p *DebugPort) Frames() []CapturedFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CapturedFrame, len(p.frames))
	copy(out, p.frames)
	return out
}
