package panda

import "fmt"

type SafetyMode uint16

const (
	SafetyNoOutput       SafetyMode = 0
	SafetyHonda          SafetyMode = 1
	SafetyToyota         SafetyMode = 2
	SafetyToyotaNoLimits SafetyMode = 0x1336
	SafetyAllOutput      SafetyMode = 0x1337
	SafetyELM327         SafetyMode = 0xE327
)

func (m SafetyMode) String() string {
	switch m {
	case SafetyNoOutput:
		return "NOOUTPUT"
	case SafetyHonda:
		return "HONDA"
	case SafetyToyota:
		return "TOYOTA"
	case SafetyToyotaNoLimits:
		return "TOYOTA_NOLIMITS"
	case SafetyAllOutput:
		return "ALLOUTPUT"
	case SafetyELM327:
		return "ELM327"
	default:
		return fmt.Sprintf("UNKNOWN(0x%X)", uint16(m))
	}
}

// ParseSafetyMode is the inverse of SafetyMode.String
func ParseSafetyMode(s string) (SafetyMode, error) {
	for _, m := range []SafetyMode{SafetyNoOutput, SafetyHonda, SafetyToyota, SafetyToyotaNoLimits, SafetyAllOutput, SafetyELM327} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown safety mode %q", s)
}

// SerialPort selects one of the device UARTs. The LIN ports are the K-line buses.
type SerialPort uint8

const (
	SerialDebug SerialPort = iota
	SerialESP
	SerialLIN1
	SerialLIN2
)

func (p SerialPort) String() string {
	switch p {
	case SerialDebug:
		return "DEBUG"
	case SerialESP:
		return "ESP"
	case SerialLIN1:
		return "LIN1"
	case SerialLIN2:
		return "LIN2"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

type GMLANBus uint8

const (
	GMLANOff GMLANBus = iota
	GMLANCAN2
	GMLANCAN3
)

func (g GMLANBus) String() string {
	switch g {
	case GMLANOff:
		return "OFF"
	case GMLANCAN2:
		return "CAN2"
	case GMLANCAN3:
		return "CAN3"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(g))
	}
}

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "NONE"
	case ParityEven:
		return "EVEN"
	case ParityOdd:
		return "ODD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

// EchoPolicy decides what happens when a K-line chunk is not echoed back unchanged.
type EchoPolicy int

const (
	// EchoStrict fails the send on the first mismatching chunk
	EchoStrict EchoPolicy = iota
	// EchoLenient logs every mismatch and keeps sending
	EchoLenient
)

func (e EchoPolicy) String() string {
	switch e {
	case EchoStrict:
		return "strict"
	case EchoLenient:
		return "lenient"
	default:
		return "unknown"
	}
}

// ParseEchoPolicy is the inverse of EchoPolicy.String
func ParseEchoPolicy(s string) (EchoPolicy, error) {
	switch s {
	case "strict", "":
		return EchoStrict, nil
	case "lenient":
		return EchoLenient, nil
	}
	return 0, fmt.Errorf("unknown echo policy %q", s)
}
