// Package usb talks to the device over libusb.
package usb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
	"github.com/roffe/panda"
	log "github.com/sirupsen/logrus"
)

const (
	Vendor          = 0xbbaa
	Product         = 0xddcc
	ProductBootstub = 0xddee
)

// USB topology
const (
	usbConfigNumber = 1
	usbInterfaceNum = 0
	usbAltSetting   = 0
	usbInEndpoint   = 1
	usbSerialOut    = 2
	usbCANOut       = 3
)

const (
	requestIn  = uint8(gousb.ControlIn | gousb.ControlVendor | gousb.ControlDevice)
	requestOut = uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)
)

type Transport struct {
	usbCtx *gousb.Context
	dev    *gousb.Device
	devCfg *gousb.Config
	iface  *gousb.Interface
	in     *gousb.InEndpoint
	out    map[uint8]*gousb.OutEndpoint

	// Bootstub is set when the device enumerated in bootloader mode
	Bootstub bool

	closing   context.Context
	close     context.CancelFunc
	closeOnce sync.Once
}

// Dialer returns a panda.Dialer opening the device with the given serial number,
// or the first device found when serial is empty.
func Dialer(serial string) panda.Dialer {
	return func(ctx context.Context) (panda.Transport, error) {
		return Open(serial)
	}
}

func Open(serial string) (*Transport, error) {
	usbCtx := gousb.NewContext()
	dev, err := openDevice(usbCtx, serial)
	if err != nil {
		usbCtx.Close()
		return nil, err
	}
	if err := dev.SetAutoDetach(true); err != nil {
		log.Warnf("[USB] %s.SetAutoDetach(true): %v", dev, err)
	}
	cfg, err := dev.Config(usbConfigNumber)
	if err != nil {
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("%s.Config(%d): %w", dev, usbConfigNumber, err)
	}
	iface, err := cfg.Interface(usbInterfaceNum, usbAltSetting)
	if err != nil {
		cfg.Close()
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("%s.Interface(%d, %d): %w", cfg, usbInterfaceNum, usbAltSetting, err)
	}

	t := &Transport{
		usbCtx:   usbCtx,
		dev:      dev,
		devCfg:   cfg,
		iface:    iface,
		out:      make(map[uint8]*gousb.OutEndpoint),
		Bootstub: dev.Desc.Product == ProductBootstub,
	}
	t.closing, t.close = context.WithCancel(context.Background())

	if t.in, err = iface.InEndpoint(usbInEndpoint); err != nil {
		t.closeUSB()
		return nil, fmt.Errorf("InEndpoint(%d): %w", usbInEndpoint, err)
	}
	for _, ep := range []uint8{usbSerialOut, usbCANOut} {
		out, err := iface.OutEndpoint(int(ep))
		if err != nil {
			t.closeUSB()
			return nil, fmt.Errorf("OutEndpoint(%d): %w", ep, err)
		}
		t.out[ep] = out
	}
	log.Infof("[USB] opened %s (bootstub: %v)", dev, t.Bootstub)
	return t, nil
}

func openDevice(usbCtx *gousb.Context, serial string) (*gousb.Device, error) {
	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == Vendor && (desc.Product == Product || desc.Product == ProductBootstub)
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("open devices: %w", err)
	}
	var found *gousb.Device
	for _, dev := range devs {
		if found != nil {
			dev.Close()
			continue
		}
		sn, err := dev.SerialNumber()
		if err != nil {
			dev.Close()
			continue
		}
		if serial == "" || sn == serial {
			found = dev
			continue
		}
		dev.Close()
	}
	if found == nil {
		if serial != "" {
			return nil, fmt.Errorf("panda %q not found", serial)
		}
		return nil, errors.New("panda not found")
	}
	return found, nil
}

func (t *Transport) BulkWrite(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	out, ok := t.out[endpoint]
	if !ok {
		return 0, fmt.Errorf("no out endpoint %d", endpoint)
	}
	ctx, cancel := t.opContext(ctx)
	defer cancel()
	n, err := out.WriteContext(ctx, data)
	if err != nil {
		return n, t.classify("bulk write", err)
	}
	return n, nil
}

func (t *Transport) BulkRead(ctx context.Context, endpoint uint8, max int) ([]byte, error) {
	if endpoint != usbInEndpoint {
		return nil, fmt.Errorf("no in endpoint %d", endpoint)
	}
	ctx, cancel := t.opContext(ctx)
	defer cancel()
	buf := make([]byte, max)
	n, err := t.in.ReadContext(ctx, buf)
	if err != nil {
		return nil, t.classify("bulk read", err)
	}
	return buf[:n], nil
}

func (t *Transport) ControlWrite(_ context.Context, request uint8, value, index uint16, data []byte) error {
	if t.closing.Err() != nil {
		return panda.ErrClosed
	}
	if _, err := t.dev.Control(requestOut, request, value, index, data); err != nil {
		return t.classify("control write", err)
	}
	return nil
}

func (t *Transport) ControlRead(_ context.Context, request uint8, value, index uint16, length int) ([]byte, error) {
	if t.closing.Err() != nil {
		return nil, panda.ErrClosed
	}
	buf := make([]byte, length)
	n, err := t.dev.Control(requestIn, request, value, index, buf)
	if err != nil {
		return nil, t.classify("control read", err)
	}
	return buf[:n], nil
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.close()
		t.closeUSB()
	})
	return nil
}

func (t *Transport) closeUSB() {
	if t.iface != nil {
		t.iface.Close()
	}
	if t.devCfg != nil {
		_ = t.devCfg.Close()
	}
	if t.dev != nil {
		_ = t.dev.Close()
	}
	if t.usbCtx != nil {
		_ = t.usbCtx.Close()
	}
}

// opContext returns ctx that is also cancelled when the transport is closed
func (t *Transport) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.closing, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// classify maps libusb failures onto the errors the panda layer understands
func (t *Transport) classify(op string, err error) error {
	if t.closing.Err() != nil {
		return fmt.Errorf("%s: %w", op, panda.ErrClosed)
	}
	if isTransient(err) {
		return panda.Transient(op, err)
	}
	if isGone(err) {
		return fmt.Errorf("%s: %w: %v", op, panda.ErrClosed, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	var uerr gousb.Error
	if errors.As(err, &uerr) {
		switch uerr {
		case gousb.ErrorIO, gousb.ErrorOverflow, gousb.ErrorInterrupted:
			return true
		}
	}
	var st gousb.TransferStatus
	if errors.As(err, &st) {
		switch st {
		case gousb.TransferError, gousb.TransferOverflow:
			return true
		}
	}
	return false
}

func isGone(err error) bool {
	var uerr gousb.Error
	if errors.As(err, &uerr) && uerr == gousb.ErrorNoDevice {
		return true
	}
	var st gousb.TransferStatus
	return errors.As(err, &st) && st == gousb.TransferNoDevice
}
