package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/openpgp"
)

// parseHexInput accepts hex with any whitespace, as dumped by other tools.
func parseHexInput(b []byte) ([]byte, error) {
	clean := strings.Join(strings.Fields(string(b)), "")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("input is not hex: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return data, nil
}

func newDecryptCmd(a *app) *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt an OpenPGP session key",
		Long: `Decrypt the encrypted session key of a public-key encrypted session key
packet with the key in the decryption slot.

The input is hex: for RSA the MPI value, for ECDH the ephemeral point MPI
followed by the length byte and the wrapped key. The output is the session
data in hex: cipher algorithm, key and checksum.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			encrypted, err := parseHexInput(raw)
			if err != nil {
				return err
			}

			return a.withConnection(cmd, func(c *openpgp.Connection) error {
				pin, err := promptPIN(cmd, "PIN: ")
				if err != nil {
					return err
				}
				if err := c.VerifyPINForOther(pin); err != nil {
					return explain(err)
				}
				session, err := c.DecryptSessionKey(encrypted, nil)
				if err != nil {
					return explain(err)
				}
				printf(cmd, "%X\n", session)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "-", "hex input file, - for stdin")
	return cmd
}
