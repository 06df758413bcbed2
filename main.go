// openpgp-card drives the OpenPGP application of smart cards and tokens
// through PC/SC.
package main

import "github.com/gregLibert/openpgp-card/cmd"

func main() {
	cmd.Execute()
}
