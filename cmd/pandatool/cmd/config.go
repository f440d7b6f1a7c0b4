package cmd

import (
	"fmt"
	"time"

	"github.com/roffe/panda"
	"github.com/spf13/pflag"
	"gopkg.in/ini.v1"
)

type config struct {
	Transport string
	Serial    string
	Addr      string
	Port      string
	Baudrate  int
	Debug     bool

	Retries    uint
	RetryDelay time.Duration
	Backoff    bool

	Echo      string
	KlinePort panda.SerialPort
	KlineBaud int
}

func defaultConfig() config {
	return config{
		Transport: "usb",
		Baudrate:  115200,
		Echo:      panda.EchoStrict.String(),
		KlinePort: panda.SerialLIN1,
		KlineBaud: 10400,
	}
}

// load reads an ini file, or its contents as []byte, on top of c.
//
//	[transport]
//	type = wifi
//	addr = 192.168.0.10:1337
//
//	[retry]
//	attempts = 5
//	delay = 10ms
//	backoff = true
//
//	[kline]
//	port = LIN2
//	baudrate = 10400
//	echo = lenient
func (c *config) load(source interface{}) error {
	f, err := ini.Load(source)
	if err != nil {
		return err
	}
	tr := f.Section("transport")
	c.Transport = tr.Key("type").MustString(c.Transport)
	c.Serial = tr.Key("serial").MustString(c.Serial)
	c.Addr = tr.Key("addr").MustString(c.Addr)
	c.Port = tr.Key("port").MustString(c.Port)
	c.Baudrate = tr.Key("baudrate").MustInt(c.Baudrate)
	c.Debug = tr.Key("debug").MustBool(c.Debug)

	rt := f.Section("retry")
	c.Retries = rt.Key("attempts").MustUint(c.Retries)
	c.RetryDelay = rt.Key("delay").MustDuration(c.RetryDelay)
	c.Backoff = rt.Key("backoff").MustBool(c.Backoff)

	kl := f.Section("kline")
	c.Echo = kl.Key("echo").MustString(c.Echo)
	c.KlineBaud = kl.Key("baudrate").MustInt(c.KlineBaud)
	if kl.HasKey("port") {
		port, err := parseSerialPort(kl.Key("port").String())
		if err != nil {
			return fmt.Errorf("[kline] %w", err)
		}
		c.KlinePort = port
	}
	return nil
}

// fromFlags loads the --config file, if any, then applies the flags given on the
// command line
func (c *config) fromFlags(fs *pflag.FlagSet) error {
	if path, _ := fs.GetString(flagConfig); path != "" {
		if err := c.load(path); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	}
	var err error
	set := func(name string, apply func()) {
		if err == nil && fs.Changed(name) {
			apply()
		}
	}
	set(flagTransport, func() { c.Transport, err = fs.GetString(flagTransport) })
	set(flagSerial, func() { c.Serial, err = fs.GetString(flagSerial) })
	set(flagAddr, func() { c.Addr, err = fs.GetString(flagAddr) })
	set(flagPort, func() { c.Port, err = fs.GetString(flagPort) })
	set(flagBaudrate, func() { c.Baudrate, err = fs.GetInt(flagBaudrate) })
	set(flagDebug, func() { c.Debug, err = fs.GetBool(flagDebug) })
	set(flagRetries, func() { c.Retries, err = fs.GetUint(flagRetries) })
	set(flagEcho, func() { c.Echo, err = fs.GetString(flagEcho) })
	return err
}

func parseSerialPort(s string) (panda.SerialPort, error) {
	for _, p := range []panda.SerialPort{panda.SerialDebug, panda.SerialESP, panda.SerialLIN1, panda.SerialLIN2} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown serial port %q", s)
}
