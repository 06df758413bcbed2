package cmd

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/openpgp"
)

func parseSlot(name string) (keyformat.Slot, error) {
	slot, ok := keyformat.SlotByName(name)
	if !ok {
		return 0, fmt.Errorf("unknown slot %q, want sign, decrypt or auth", name)
	}
	return slot, nil
}

// formatFor resolves a format name; Weierstrass curves are ECDH keys in
// the decryption slot and ECDSA keys elsewhere.
func formatFor(slot keyformat.Slot, name string) (keyformat.KeyFormat, error) {
	alg := keyformat.AlgECDSA
	if slot == keyformat.SlotDecrypt {
		alg = keyformat.AlgECDH
	}
	return keyformat.ByName(name, alg)
}

func newGenerateCmd(a *app) *cobra.Command {
	var slotName, formatName string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key pair on the card",
		Long: `Generate a key pair in a slot, replacing the key it holds. The
fingerprint and creation time are written to the card and the public key is
printed as PEM.

--format changes the slot attributes first: rsa2048, rsa3072, rsa4096,
nistp256, nistp384, nistp521, brainpoolP256r1, brainpoolP384r1,
brainpoolP512r1, ed25519 or cv25519.`,
		Example: `  openpgp-card generate --slot sign --format ed25519
  openpgp-card generate --slot decrypt --format cv25519`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			slot, err := parseSlot(slotName)
			if err != nil {
				return err
			}
			var format keyformat.KeyFormat
			if formatName != "" {
				if format, err = formatFor(slot, formatName); err != nil {
					return err
				}
			}

			return a.withConnection(cmd, func(c *openpgp.Connection) error {
				pin, err := promptPIN(cmd, "Admin PIN: ")
				if err != nil {
					return err
				}
				if err := c.VerifyPINForAdmin(pin); err != nil {
					return explain(err)
				}
				if format != nil {
					if err := c.SetKeyAttributes(slot, format); err != nil {
						return explain(err)
					}
				}

				pub, fp, err := c.GenerateKey(slot, time.Now())
				if err != nil {
					return explain(err)
				}
				der, err := x509.MarshalPKIXPublicKey(pub)
				if err != nil {
					return err
				}
				printf(cmd, "Fingerprint: %X\n", fp)
				printf(cmd, "%s", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&slotName, "slot", "sign", "sign, decrypt or auth")
	cmd.Flags().StringVar(&formatName, "format", "", "key format, empty keeps the current one")
	return cmd
}
