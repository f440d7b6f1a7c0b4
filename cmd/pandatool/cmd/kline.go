package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/roffe/panda"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var klineCmd = &cobra.Command{
	Use:   "kline",
	Short: "K-line related commands",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		fs := cmd.Flags()
		if fs.Changed("kport") {
			name, _ := fs.GetString("kport")
			port, err := parseSerialPort(strings.ToUpper(name))
			if err != nil {
				return err
			}
			cfg.KlinePort = port
		}
		if fs.Changed("kbaud") {
			cfg.KlineBaud, _ = fs.GetInt("kbaud")
		}
		return nil
	},
}

var klineSendCmd = &cobra.Command{
	Use:   "send <hex>",
	Short: "send one message and wait for the echo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := parseHex(args[0])
		if err != nil {
			return err
		}
		checksum, _ := cmd.Flags().GetBool("checksum")
		ctx := cmd.Context()
		p, err := initKline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		return p.KlineSend(ctx, cfg.KlinePort, msg, checksum)
	},
}

var klineRecvCmd = &cobra.Command{
	Use:   "recv",
	Short: "wait for one message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		p, err := initKline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		msg, err := p.KlineRecv(ctx, cfg.KlinePort)
		if err != nil {
			return err
		}
		fmt.Printf("% X\n", msg)
		return nil
	},
}

var klineTermCmd = &cobra.Command{
	Use:   "term",
	Short: "interactive request/response prompt",
	Long:  `Every line entered is sent with checksum, the reply is printed. Ctrl-D quits.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx := cmd.Context()
		p, err := initKline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		prompt := promptui.Prompt{
			Label: cfg.KlinePort.String(),
			Validate: func(s string) error {
				_, err := parseHex(s)
				return err
			},
		}
		for {
			line, err := prompt.Run()
			if err != nil {
				if errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrInterrupt) {
					return nil
				}
				return err
			}
			msg, _ := parseHex(line)
			if len(msg) == 0 {
				continue
			}
			reply, err := klineExchange(ctx, p, msg, timeout)
			if err != nil {
				log.Error(err)
				continue
			}
			fmt.Printf("% X\n", reply)
		}
	},
}

func klineExchange(ctx context.Context, p *panda.Panda, msg []byte, timeout time.Duration) ([]byte, error) {
	if err := p.KlineSend(ctx, cfg.KlinePort, msg, true); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.KlineRecv(ctx, cfg.KlinePort)
}

func initKline(ctx context.Context) (*panda.Panda, error) {
	p, err := initPanda(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.SetUARTBaud(ctx, cfg.KlinePort, cfg.KlineBaud); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.SetUARTParity(ctx, cfg.KlinePort, panda.ParityNone); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func init() {
	pf := klineCmd.PersistentFlags()
	pf.String("kport", panda.SerialLIN1.String(), "serial port the K-line is on, LIN1 or LIN2")
	pf.Int("kbaud", 10400, "K-line baudrate")
	klineSendCmd.Flags().BoolP("checksum", "k", true, "append checksum")
	for _, c := range []*cobra.Command{klineRecvCmd, klineTermCmd} {
		c.Flags().Duration("timeout", time.Second, "reply timeout")
	}
	klineCmd.AddCommand(klineSendCmd, klineRecvCmd, klineTermCmd)
	rootCmd.AddCommand(klineCmd)
}
