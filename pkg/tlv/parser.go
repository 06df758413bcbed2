// Package tlv provides the BER-TLV and compact-TLV codecs used by OpenPGP cards,
// and high-level utilities for mapping data objects into Go structures using
// struct tags.
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Unmarshaler allows custom types to implement their own TLV parsing logic.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

// Unmarshal parses raw BER-TLV data and maps it into a target Go struct.
//
// Fields are bound with `tlv:"5F50"` tags. A field of type []Node tagged
// `tlv:",unknown"` (or named Unknown) collects the objects nothing else consumed.
func Unmarshal(data []byte, target interface{}) error {
	nodes, err := Decode(data)
	if err != nil {
		return err
	}
	return UnmarshalNodes(nodes, target)
}

// UnmarshalNodes maps pre-decoded nodes to a target struct.
// It supports multiple occurrences of the same tag if the target field is a slice.
func UnmarshalNodes(nodes []Node, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v = v.Elem()
	t := v.Type()

	consumed := make(map[int]bool)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		tagConfig := fieldType.Tag.Get("tlv")

		if tagConfig == "" || tagConfig == ",unknown" || fieldType.Name == "Unknown" {
			continue
		}

		tagHex := strings.Split(tagConfig, ",")[0]
		tag, err := strconv.ParseUint(tagHex, 16, 32)
		if err != nil {
			return fmt.Errorf("field %s: invalid tlv tag %q", fieldType.Name, tagHex)
		}

		for idx, n := range nodes {
			if n.Tag == uint32(tag) {
				if err := mapNodeToField(n, field); err != nil {
					return fmt.Errorf("field %s: %w", fieldType.Name, err)
				}
				consumed[idx] = true
			}
		}
	}

	return handleUnknownFields(v, t, nodes, consumed)
}

// mapNodeToField dispatches the TLV data to the appropriate reflection logic.
func mapNodeToField(n Node, field reflect.Value) error {
	// If it's a slice of structs (but not []byte), we grow the slice and use the last element
	if field.Kind() == reflect.Slice && !isByteSlice(field) && field.Type() != nodeSliceType {
		newElem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeToValue(n, newElem); err != nil {
			return err
		}
		field.Set(reflect.Append(field, newElem))
		return nil
	}

	return decodeToValue(n, field)
}

var nodeSliceType = reflect.TypeOf([]Node{})

// decodeToValue handles the leaf-node decoding logic (Custom Unmarshaler, ByteSlice, Struct, etc.)
func decodeToValue(n Node, field reflect.Value) error {
	// 1. Custom Unmarshaler
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(n.Value)
		}
	}

	// 2. Byte Slices
	if isByteSlice(field) {
		field.SetBytes(n.Value)
		return nil
	}

	// 3. Raw children
	if field.Type() == nodeSliceType {
		field.Set(reflect.ValueOf(n.Children))
		return nil
	}

	// 4. Strings (Hex representation)
	if field.Kind() == reflect.String {
		field.SetString(hex.EncodeToString(n.Value))
		return nil
	}

	// 5. Nested Structures
	if isStructOrPtrToStruct(field) {
		targetField := getTargetField(field)
		if len(n.Children) > 0 {
			return UnmarshalNodes(n.Children, targetField.Interface())
		}
		if len(n.Value) == 0 {
			return nil
		}
		return Unmarshal(n.Value, targetField.Interface())
	}

	return nil
}

func handleUnknownFields(v reflect.Value, t reflect.Type, nodes []Node, consumed map[int]bool) error {
	unknownField, found := findUnknownField(v, t)
	if !found {
		return nil
	}

	var leftovers []Node
	for idx, n := range nodes {
		if !consumed[idx] {
			leftovers = append(leftovers, n)
		}
	}

	if len(leftovers) > 0 && unknownField.CanSet() {
		unknownField.Set(reflect.ValueOf(leftovers))
	}
	return nil
}

func findUnknownField(v reflect.Value, t reflect.Type) (reflect.Value, bool) {
	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("tlv")
		if tag == ",unknown" || t.Field(i).Name == "Unknown" {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// GetValue scans the raw data for a specific top-level tag and returns its payload.
func GetValue(data []byte, tag uint32) ([]byte, error) {
	nodes, err := Decode(data)
	if err != nil {
		return nil, err
	}
	n, ok := Find(nodes, tag)
	if !ok {
		return nil, fmt.Errorf("tag %s not found", TagString(tag))
	}
	return n.Value, nil
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}

func isStructOrPtrToStruct(v reflect.Value) bool {
	if v.Kind() == reflect.Struct {
		return true
	}
	if v.Kind() == reflect.Ptr && v.Type().Elem().Kind() == reflect.Struct {
		return true
	}
	return false
}

func getTargetField(field reflect.Value) reflect.Value {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return field
	}
	return field.Addr()
}
