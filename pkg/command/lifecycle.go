package command

import (
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// TerminateDF switches the application to the terminated state. It needs PW3,
// or both PW1 and PW3 blocked.
func TerminateDF() *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_TERMINATE_DF, 0x00, 0x00, nil, 0)
}

// ActivateFile reinitializes a terminated application to factory state.
func ActivateFile() *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_ACTIVATE_FILE, 0x00, 0x00, nil, 0)
}
