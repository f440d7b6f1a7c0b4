package cmd

import (
	"context"
	"fmt"

	"github.com/roffe/panda"
	"github.com/roffe/panda/transport/loopback"
	"github.com/roffe/panda/transport/tunnel"
	"github.com/roffe/panda/transport/usb"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "pandatool",
	Short:        "CAN and K-line tool for panda interfaces",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.fromFlags(cmd.Flags()); err != nil {
			return err
		}
		if cfg.Debug {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig    = "config"
	flagTransport = "transport"
	flagSerial    = "serial"
	flagAddr      = "addr"
	flagPort      = "port"
	flagBaudrate  = "baudrate"
	flagDebug     = "debug"
	flagRetries   = "retries"
	flagEcho      = "echo"
)

var cfg = defaultConfig()

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "ini file with defaults for the flags below")
	pf.StringP(flagTransport, "t", cfg.Transport, "usb, wifi, serial or loopback")
	pf.StringP(flagSerial, "s", "", "usb serial number, empty = first device found")
	pf.String(flagAddr, tunnel.DefaultWiFiAddr, "wifi address")
	pf.StringP(flagPort, "p", "*", "com-port, * = print available")
	pf.IntP(flagBaudrate, "b", cfg.Baudrate, "baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.Uint(flagRetries, cfg.Retries, "attempts per transfer, 0 = retry until success")
	pf.String(flagEcho, cfg.Echo, "kline echo policy, strict or lenient")
}

// initPanda connects to the device selected by the flags
func initPanda(ctx context.Context) (*panda.Panda, error) {
	dial, err := dialer(cfg)
	if err != nil {
		return nil, err
	}
	echo, err := panda.ParseEchoPolicy(cfg.Echo)
	if err != nil {
		return nil, err
	}
	p, err := panda.New(dial,
		panda.WithLogger(log.StandardLogger()),
		panda.WithRetryPolicy(panda.RetryPolicy{
			MaxAttempts: cfg.Retries,
			Delay:       cfg.RetryDelay,
			Backoff:     cfg.Backoff,
		}),
		panda.WithConnectPolicy(panda.RetryPolicy{MaxAttempts: 3, Delay: cfg.RetryDelay}),
		panda.WithEchoPolicy(echo),
	)
	if err != nil {
		return nil, err
	}
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func dialer(c config) (panda.Dialer, error) {
	switch c.Transport {
	case "usb":
		return usb.Dialer(c.Serial), nil
	case "wifi":
		return tunnel.DialWiFi(c.Addr), nil
	case "serial":
		if c.Port == "*" || c.Port == "" {
			printPorts()
			return nil, fmt.Errorf("no com-port selected")
		}
		return tunnel.OpenSerial(c.Port, c.Baudrate), nil
	case "loopback":
		return loopback.New().Dialer(), nil
	}
	return nil, fmt.Errorf("unknown transport %q", c.Transport)
}

func printPorts() {
	ports, err := tunnel.Ports()
	if err != nil {
		log.Error(err)
		return
	}
	if len(ports) == 0 {
		log.Info("no serial ports found")
		return
	}
	for _, port := range ports {
		if port.IsUSB {
			log.Infof("%s %s:%s %s", port.Name, port.VID, port.PID, port.SerialNumber)
			continue
		}
		log.Info(port.Name)
	}
}
