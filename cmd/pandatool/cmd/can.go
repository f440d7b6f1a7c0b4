package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/roffe/panda"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var canCMD = &cobra.Command{
	Use:   "can",
	Short: "CAN related commands",
}

var canSendCmd = &cobra.Command{
	Use:   "send <address> <hex data>",
	Short: "send one frame",
	Example: `  pandatool can send 7e0 "02 10 03"
  pandatool can send --bus 1 0x18DAF110 021003`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, err := frameFromArgs(cmd, args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		p, err := initPanda(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := p.CANSend(ctx, frame); err != nil {
			return err
		}
		log.Infof("sent %s", frame)
		return nil
	},
}

var canDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "print received frames until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		p, err := initPanda(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		frames := make(chan *panda.CANFrame, 256)
		errg, ctx := errgroup.WithContext(cmd.Context())
		errg.Go(func() error {
			defer close(frames)
			return canReader(ctx, p, interval, frames)
		})
		errg.Go(func() error {
			for f := range frames {
				fmt.Println(f.ColorString())
			}
			return nil
		})
		if err := errg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info(p.Stats())
		return nil
	},
}

func canReader(ctx context.Context, p *panda.Panda, interval time.Duration, out chan<- *panda.CANFrame) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			frames, err := p.CANRecv(ctx)
			if err != nil {
				return err
			}
			for _, f := range frames {
				select {
				case out <- f:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

var canSpamCmd = &cobra.Command{
	Use:   "spam <address> <hex data>",
	Short: "send the same frame over and over",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		batch, _ := cmd.Flags().GetInt("batch")
		if count <= 0 || batch <= 0 {
			return fmt.Errorf("count and batch must be positive")
		}
		frame, err := frameFromArgs(cmd, args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		p, err := initPanda(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		bar := progressbar.NewOptions(count,
			progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan]sending[reset] 0x%X", frame.Address)),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))
		start := time.Now()
		for sent := 0; sent < count; {
			n := min(batch, count-sent)
			frames := make([]*panda.CANFrame, n)
			for i := range frames {
				frames[i] = frame
			}
			if err := p.CANSendMany(ctx, frames); err != nil {
				return err
			}
			sent += n
			bar.Add(n)
		}
		bar.Finish()
		fmt.Println()
		log.Infof("sent %d frames in %s, %s", count, time.Since(start).Round(time.Millisecond), p.Stats())
		return nil
	},
}

func frameFromArgs(cmd *cobra.Command, args []string) (*panda.CANFrame, error) {
	bus, _ := cmd.Flags().GetUint8("bus")
	addr, err := parseAddress(args[0])
	if err != nil {
		return nil, err
	}
	data, err := parseHex(args[1])
	if err != nil {
		return nil, err
	}
	frame := panda.NewFrame(addr, data, bus)
	return frame, frame.Validate()
}

func init() {
	for _, c := range []*cobra.Command{canSendCmd, canSpamCmd} {
		c.Flags().Uint8("bus", 0, "CAN bus")
	}
	canDumpCmd.Flags().Duration("interval", 5*time.Millisecond, "poll interval")
	canSpamCmd.Flags().IntP("count", "n", 1000, "frames to send")
	canSpamCmd.Flags().Int("batch", 16, "frames per transfer")
	canCMD.AddCommand(canSendCmd, canDumpCmd, canSpamCmd)
	rootCmd.AddCommand(canCMD)
}
