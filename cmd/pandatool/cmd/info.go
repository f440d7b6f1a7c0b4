package cmd

import (
	"fmt"
	"strings"

	"github.com/roffe/panda"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "print device info",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := initPanda(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		version, err := p.Version(ctx)
		if err != nil {
			return err
		}
		serial, _, err := p.Serial(ctx)
		if err != nil {
			return err
		}
		grey, err := p.IsGrey(ctx)
		if err != nil {
			return err
		}
		health, err := p.Health(ctx)
		if err != nil {
			return err
		}
		log.Infof("version: %s", version)
		log.Infof("serial: %s grey: %v", serial, grey)
		log.Infof("health: %s", health)
		return nil
	},
}

var safetyCmd = &cobra.Command{
	Use:       "safety <mode>",
	Short:     "set safety mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: safetyModes(),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := panda.ParseSafetyMode(strings.ToUpper(args[0]))
		if err != nil {
			return fmt.Errorf("%w, valid modes: %s", err, strings.Join(safetyModes(), ", "))
		}
		ctx := cmd.Context()
		p, err := initPanda(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := p.SetSafetyMode(ctx, mode); err != nil {
			return err
		}
		log.Infof("safety mode %s", mode)
		return nil
	},
}

func safetyModes() []string {
	var out []string
	for _, m := range []panda.SafetyMode{panda.SafetyNoOutput, panda.SafetyHonda, panda.SafetyToyota, panda.SafetyToyotaNoLimits, panda.SafetyAllOutput, panda.SafetyELM327} {
		out = append(out, m.String())
	}
	return out
}

func init() {
	rootCmd.AddCommand(infoCmd, safetyCmd)
}
