package tlv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/moov-io/bertlv"
)

var (
	// ErrMalformed reports an encoding that does not follow BER-TLV rules.
	ErrMalformed = errors.New("malformed TLV")
	// ErrTruncated reports an object whose length runs past the end of the input.
	ErrTruncated = errors.New("truncated TLV")
)

// Node is one BER-TLV data object. Constructed nodes (bit 0x20 of the first tag
// byte) carry their decoded children; Value then holds the encoded children.
type Node struct {
	Tag      uint32
	Value    []byte
	Children []Node
}

// NewPrimitive builds a leaf node.
func NewPrimitive(tag uint32, value []byte) Node {
	return Node{Tag: tag, Value: value}
}

// NewConstructed builds a template node from its children.
func NewConstructed(tag uint32, children ...Node) Node {
	return Node{Tag: tag, Children: children}
}

// IsConstructed reports whether the tag announces nested data objects.
func (n Node) IsConstructed() bool {
	return IsConstructedTag(n.Tag)
}

// IsConstructedTag checks bit 0x20 of the first tag byte.
func IsConstructedTag(tag uint32) bool {
	first := tag
	for first > 0xFF {
		first >>= 8
	}
	return first&0x20 != 0
}

// Decode parses a BER-TLV byte stream into a list of nodes.
func Decode(data []byte) ([]Node, error) {
	if err := validate(data, 0); err != nil {
		return nil, err
	}
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromPackets(packets)
}

const maxDepth = 16

// validate walks the headers so that truncated or malformed card data is
// classified before bertlv sees it.
func validate(data []byte, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	for len(data) > 0 {
		tag, length, hl, err := ReadHeader(data)
		if err != nil {
			return err
		}
		if IsConstructedTag(tag) {
			if err := validate(data[hl:hl+length], depth+1); err != nil {
				return err
			}
		}
		data = data[hl+length:]
	}
	return nil
}

func fromPackets(packets []bertlv.TLV) ([]Node, error) {
	nodes := make([]Node, 0, len(packets))
	for _, p := range packets {
		tag, err := strconv.ParseUint(p.Tag, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: tag %q: %v", ErrMalformed, p.Tag, err)
		}

		n := Node{Tag: uint32(tag), Value: p.Value}
		if len(p.TLVs) > 0 {
			n.Children, err = fromPackets(p.TLVs)
			if err != nil {
				return nil, err
			}
			n.Value = getPacketRawData(p)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// getPacketRawData re-encodes the children of a constructed packet, bertlv
// keeping only the decoded form.
func getPacketRawData(p bertlv.TLV) []byte {
	if enc, err := bertlv.Encode(p.TLVs); err == nil {
		return enc
	}
	return p.Value
}

// Encode serializes nodes back to BER-TLV using minimal definite lengths.
func Encode(nodes ...Node) ([]byte, error) {
	return bertlv.Encode(toPackets(nodes))
}

func toPackets(nodes []Node) []bertlv.TLV {
	packets := make([]bertlv.TLV, 0, len(nodes))
	for _, n := range nodes {
		p := bertlv.TLV{Tag: TagString(n.Tag)}
		if len(n.Children) > 0 {
			p.TLVs = toPackets(n.Children)
		} else {
			p.Value = n.Value
		}
		packets = append(packets, p)
	}
	return packets
}

// TagString renders a tag the way bertlv keys its packets, e.g. "5F52".
func TagString(tag uint32) string {
	return fmt.Sprintf("%02X", tag)
}

// Find returns the first top-level node carrying the tag.
func Find(nodes []Node, tag uint32) (Node, bool) {
	for _, n := range nodes {
		if n.Tag == tag {
			return n, true
		}
	}
	return Node{}, false
}

// FindRecursive searches the whole tree, depth first, for the tag.
func FindRecursive(nodes []Node, tag uint32) (Node, bool) {
	for _, n := range nodes {
		if n.Tag == tag {
			return n, true
		}
		if found, ok := FindRecursive(n.Children, tag); ok {
			return found, true
		}
	}
	return Node{}, false
}

// String renders the tree, one node per line, for traces and debugging.
func (n Node) String() string {
	var sb strings.Builder
	n.write(&sb, 0)
	return sb.String()
}

func (n Node) write(sb *strings.Builder, depth int) {
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	indent := strings.Repeat("  ", depth)
	if len(n.Children) == 0 {
		fmt.Fprintf(sb, "%s%s [%d] %X", indent, TagString(n.Tag), len(n.Value), n.Value)
		return
	}
	fmt.Fprintf(sb, "%s%s", indent, TagString(n.Tag))
	for _, c := range n.Children {
		c.write(sb, depth+1)
	}
}
