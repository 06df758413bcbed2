package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/pcsc"
)

func newReadersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "readers",
		Short: "List the PC/SC readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			readers, err := pcsc.ListReaders()
			if err != nil {
				return err
			}
			if len(readers) == 0 {
				printf(cmd, "no reader found\n")
				return nil
			}
			selected, _ := pcsc.FindReader(readers, a.cfg.Reader)
			for _, r := range readers {
				mark := " "
				if r == selected {
					mark = "*"
				}
				printf(cmd, "%s %s (%s)\n", mark, r, pcsc.New(r, false).TokenType())
			}
			return nil
		},
	}
}
