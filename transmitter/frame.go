package transmitter

import (
	"fmt"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
)

// FrameHeader starts every MULTI-serial frame.
const FrameHeader = 0x55

// ProtoAFHDS2A is the MULTI protocol id for AFHDS2A receivers.
const ProtoAFHDS2A = 28

// AFHDS2A sub-protocols, carried in the low 5 bits of the flags byte.
const (
	SubPWMIBus = iota
	SubPPMIBus
	SubPWMSBus
	SubPPMSBus
	SubGyroOff
	SubGyroOn
	SubGyroOnRev
)

// Channel value bounds. Values are 11-bit, 1024 is neutral.
const (
	ChannelMin     = 0
	ChannelMax     = 2047
	ChannelNeutral = 1024
)

// Option fine-tune bounds. The wire encoding biases by +32.
const (
	OptionMin = -32
	OptionMax = 31
)

// Settings are the per-frame protocol parameters.
type Settings struct {
	Protocol    byte
	SubProtocol byte // low 5 bits used
	RxNum       byte // 0..15
	Option      int  // -32..31
	Bind        bool
	RangeCheck  bool
	Autobind    bool
}

// ChannelValue converts a normalized value in [-1, 1] to the 11-bit wire
// range. Out-of-range inputs clamp.
func ChannelValue(v float64) uint16 {
	if v < -1 {
		v = -1
	}
	if v > 1 {
		v = 1
	}
	ch := int((v + 1.0) * 1023.5)
	if ch < ChannelMin {
		ch = ChannelMin
	}
	if ch > ChannelMax {
		ch = ChannelMax
	}
	return uint16(ch)
}

// BuildFrame encodes one MULTI-serial frame:
//
//	[0]    0x55
//	[1]    protocol id
//	[2]    flags = (sub & 0x1F) | bind<<7 | range<<6 | autobind<<5
//	[3]    option, stored biased by +32
//	[4]    rx_num
//	[5..]  channels, 11-bit little-endian pairs (lo, hi)
//	[last] XOR checksum over bytes [1..last-1]
func BuildFrame(s Settings, channels []uint16) []byte {
	option := s.Option
	if option < OptionMin {
		option = OptionMin
	}
	if option > OptionMax {
		option = OptionMax
	}
	optionByte := byte(option+32) & 0xFF

	flags := s.SubProtocol & 0x1F
	if s.Bind {
		flags |= 0x80
	}
	if s.RangeCheck {
		flags |= 0x40
	}
	if s.Autobind {
		flags |= 0x20
	}

	frame := make([]byte, 0, 5+2*len(channels)+1)
	frame = append(frame, FrameHeader, s.Protocol, flags, optionByte, s.RxNum&0x0F)

	for _, ch := range channels {
		if ch > ChannelMax {
			ch = ChannelMax
		}
		frame = append(frame, byte(ch&0xFF), byte(ch>>8)&0x07)
	}

	var checksum byte
	for _, b := range frame[1:] {
		checksum ^= b
	}
	return append(frame, checksum)
}

// FrameInfo is a decoded MULTI-serial frame.
type FrameInfo struct {
	Protocol    byte
	SubProtocol byte
	RxNum       byte
	Option      int
	Bind        bool
	RangeCheck  bool
	Autobind    bool
	Channels    []uint16
}

// ParseFrame decodes a frame built by BuildFrame, verifying header and
// checksum.
func ParseFrame(frame []byte) (*FrameInfo, error) {
	if len(frame) < 8 || frame[0] != FrameHeader {
		return nil, pitxerrors.WrapInvalid(fmt.Errorf("invalid header or length %d", len(frame)),
			"transmitter", "ParseFrame", "frame validation")
	}

	var calc byte
	for _, b := range frame[1 : len(frame)-1] {
		calc ^= b
	}
	if calc != frame[len(frame)-1] {
		return nil, pitxerrors.WrapInvalid(
			fmt.Errorf("checksum mismatch: calculated %#02x, got %#02x", calc, frame[len(frame)-1]),
			"transmitter", "ParseFrame", "checksum validation")
	}

	chanBytes := frame[5 : len(frame)-1]
	if len(chanBytes)%2 != 0 {
		return nil, pitxerrors.WrapInvalid(fmt.Errorf("odd channel byte count %d", len(chanBytes)),
			"transmitter", "ParseFrame", "channel decoding")
	}

	channels := make([]uint16, 0, len(chanBytes)/2)
	for i := 0; i < len(chanBytes); i += 2 {
		lo := uint16(chanBytes[i])
		hi := uint16(chanBytes[i+1] & 0x07)
		channels = append(channels, lo|hi<<8)
	}

	flags := frame[2]
	return &FrameInfo{
		Protocol:    frame[1],
		SubProtocol: flags & 0x1F,
		RxNum:       frame[4],
		Option:      int(frame[3]) - 32,
		Bind:        flags&0x80 != 0,
		RangeCheck:  flags&0x40 != 0,
		Autobind:    flags&0x20 != 0,
		Channels:    channels,
	}, nil
}
