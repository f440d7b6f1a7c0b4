package tunnel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/roffe/panda"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// OpenSerial returns a panda.Dialer opening the device's UART bridge on portName
func OpenSerial(portName string, baudrate int) panda.Dialer {
	return func(ctx context.Context) (panda.Transport, error) {
		name, err := portInfo(portName)
		if err != nil {
			return nil, err
		}
		mode := &serial.Mode{
			BaudRate: baudrate,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
		p, err := serial.Open(name, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open com port %q : %v", name, err)
		}
		p.ResetInputBuffer()
		p.ResetOutputBuffer()
		return New("serial "+name, &serialPort{p}), nil
	}
}

// serialPort turns the closed port error into one the tunnel recognises
type serialPort struct {
	serial.Port
}

func (s *serialPort) Read(b []byte) (int, error) {
	n, err := s.Port.Read(b)
	return n, portErr(err)
}

func (s *serialPort) Write(b []byte) (int, error) {
	n, err := s.Port.Write(b)
	return n, portErr(err)
}

func portErr(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
		return fmt.Errorf("%v: %w", err, panda.ErrClosed)
	}
	return err
}

// Ports lists the serial ports found on the system
func Ports() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

func portInfo(portName string) (string, error) {
	if runtime.GOOS == "windows" {
		portName = strings.ToUpper(portName)
	}
	ports, err := Ports()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	for _, port := range ports {
		if port.Name == portName {
			if port.IsUSB {
				log.Debugf("[TUNNEL] %s USB ID %s:%s serial %s", port.Name, port.VID, port.PID, port.SerialNumber)
			}
			return port.Name, nil
		}
	}
	return "", fmt.Errorf("serial port %q not found", portName)
}
