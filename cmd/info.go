package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/openpgp"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the OpenPGP application state",
		Long: `Show the application identifier, cardholder data, key formats,
fingerprints and PIN retry counters. No PIN is needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConnection(cmd, func(c *openpgp.Connection) error {
				info, err := c.ReadTokenInfo()
				if err != nil {
					return err
				}
				printf(cmd, "%s\n", info.Describe())
				return nil
			})
		},
	}
}
