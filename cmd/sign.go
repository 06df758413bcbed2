package cmd

import (
	"crypto"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/openpgp"
)

var hashes = map[string]crypto.Hash{
	"sha1":      crypto.SHA1,
	"sha224":    crypto.SHA224,
	"sha256":    crypto.SHA256,
	"sha384":    crypto.SHA384,
	"sha512":    crypto.SHA512,
	"ripemd160": crypto.RIPEMD160,
}

func parseHash(name string) (crypto.Hash, error) {
	h, ok := hashes[strings.ToLower(strings.ReplaceAll(name, "-", ""))]
	if !ok {
		return 0, fmt.Errorf("unknown hash %q", name)
	}
	return h, nil
}

// readInput reads the named file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func newSignCmd(a *app) *cobra.Command {
	var hashName, in, out string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a message with the signature key",
		Long: `Hash the message locally and sign the digest with the key in the
signature slot. The signature is printed in hex, or written raw with --out.

RSA signatures are PKCS#1 v1.5, ECDSA signatures are DER encoded, EdDSA
signatures are the 64 raw bytes.`,
		Example: `  openpgp-card sign --in release.tar.gz --out release.sig
  echo -n hello | openpgp-card sign --hash ripemd160`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := parseHash(hashName)
			if err != nil {
				return err
			}
			msg, err := readInput(cmd, in)
			if err != nil {
				return err
			}

			return a.withConnection(cmd, func(c *openpgp.Connection) error {
				pin, err := promptPIN(cmd, "PIN: ")
				if err != nil {
					return err
				}
				if err := c.VerifyPINForSignature(pin); err != nil {
					return explain(err)
				}
				sig, err := c.HashAndSign(h, msg)
				if err != nil {
					return explain(err)
				}
				if out != "" {
					return os.WriteFile(out, sig, 0o644)
				}
				printf(cmd, "%X\n", sig)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hashName, "hash", "sha256", "sha1, sha224, sha256, sha384, sha512 or ripemd160")
	cmd.Flags().StringVar(&in, "in", "-", "message file, - for stdin")
	cmd.Flags().StringVar(&out, "out", "", "write the raw signature to this file")
	return cmd
}
