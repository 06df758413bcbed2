package iso7816

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

func TestNewSelectCommand(t *testing.T) {
	cls, _ := NewClass(0x00)

	tests := []struct {
		name string
		cmd  *CommandAPDU
		want []byte
	}{
		{
			name: "OpenPGP application",
			cmd:  SelectByAID(cls, tlv.Hex("D27600012401")),
			// No Le: the answer comes through 61XX on T=0.
			want: tlv.Hex("00 A4 04 00 06 D27600012401"),
		},
		{
			name: "truncated vendor AID",
			cmd:  SelectByAID(cls, tlv.Hex("A00000061701")),
			want: tlv.Hex("00 A4 04 00 06 A00000061701"),
		},
		{
			name: "master file",
			cmd:  NewSelectCommand(cls, SelectByFileID, ReturnFCP, nil),
			want: tlv.Hex("00 A4 00 04 00"),
		},
		{
			name: "no response data",
			cmd:  NewSelectCommand(cls, SelectByFileID, ReturnNoData, tlv.Hex("3F00")),
			want: tlv.Hex("00 A4 00 0C 02 3F00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Bytes()
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
