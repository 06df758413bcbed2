package iso7816

// SELECT (INS A4, ISO 7816-4 §11.2.2). P1 is the selection method, P2 the
// occurrence (bits 2-1) and the expected response (bits 4-3).

// SelectionMethod is P1 of SELECT.
type SelectionMethod byte

const (
	SelectByFileID SelectionMethod = 0x00
	SelectByDFName SelectionMethod = 0x04 // application identifier
)

// SelectionControl is the response part of P2.
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0b0000_00_00
	ReturnFCP    SelectionControl = 0b0000_01_00
	ReturnNoData SelectionControl = 0b0000_11_00
)

// NewSelectCommand builds a SELECT of the first or only occurrence.
//
// A SELECT carrying data has no Le: T=0 readers cannot send Lc and Le
// together, the card answers 61XX and the Client fetches the response.
func NewSelectCommand(cla Class, method SelectionMethod, ctrl SelectionControl, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_SELECT)

	ne := 0
	if len(data) == 0 && ctrl != ReturnNoData {
		ne = MaxShortLe
	}
	return NewCommandAPDU(cla, ins, byte(method), byte(ctrl), data, ne)
}

// SelectByAID selects an application by AID, full or truncated.
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, ReturnFCI, aid)
}
