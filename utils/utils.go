package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

var (
	//EncBase64 wrapper for encoding to base64
	EncBase64 = base64.StdEncoding.EncodeToString
	//DecBase64 wrapper for decoding from base64
	DecBase64 = base64.StdEncoding.DecodeString

	utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// COUNT returns the uint16 byte stream of an int. This is required for PtypBinary
func COUNT(val int) []byte {
	return EncodeNum(uint16(val))
}

// COUNT32 is the 4 byte COUNT used inside extended rule buffers
func COUNT32(val int) []byte {
	return EncodeNum(uint32(val))
}

// UniString converts a string into a null terminated UTF-16LE byte array
func UniString(str string) []byte {
	return append(UTF16(str), 0x00, 0x00)
}

// UTF16 converts a string into UTF-16LE without a terminator
func UTF16(str string) []byte {
	b, err := utf16le.NewEncoder().Bytes([]byte(str))
	if err != nil {
		return nil
	}
	return b
}

// FromUnicode reads a UTF-16LE byte array, dropping any null terminator
func FromUnicode(uni []byte) string {
	for len(uni) >= 2 && uni[len(uni)-1] == 0x00 && uni[len(uni)-2] == 0x00 {
		uni = uni[:len(uni)-2]
	}
	b, err := utf16le.NewDecoder().Bytes(uni)
	if err != nil {
		return ""
	}
	return string(b)
}

// FromASCII drops the null terminator of a String8 value
func FromASCII(str []byte) string {
	return strings.TrimRight(string(str), "\x00")
}

// DecodeUint32 decode 4 byte value into uint32
func DecodeUint32(num []byte) uint32 {
	return binary.LittleEndian.Uint32(num)
}

// EncodeNum encode a number as a byte array
func EncodeNum(v interface{}) []byte {
	byteNum := new(bytes.Buffer)
	binary.Write(byteNum, binary.LittleEndian, v)
	return byteNum.Bytes()
}

// BodyToBytes walks a struct (or slice) and writes each field little-endian,
// nested structs, slices and interfaces are flattened in order
func BodyToBytes(DataStruct interface{}) []byte {
	if DataStruct == nil {
		return nil
	}
	v := reflect.ValueOf(DataStruct)
	dumped := []byte{}

	if v.Kind() == reflect.Slice {
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return append(dumped, v.Bytes()...)
		}
		for i := 0; i < v.Len(); i++ {
			dumped = append(dumped, valueToBytes(v.Index(i))...)
		}
		return dumped
	}
	for i := 0; i < v.NumField(); i++ {
		dumped = append(dumped, valueToBytes(v.Field(i))...)
	}
	return dumped
}

func valueToBytes(v reflect.Value) []byte {
	switch v.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return EncodeNum(v.Interface())
	case reflect.Struct, reflect.Slice:
		return BodyToBytes(v.Interface())
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		if m, ok := v.Interface().(interface{ Marshal() []byte }); ok {
			return m.Marshal()
		}
		return BodyToBytes(v.Interface())
	}
	return nil
}

// Obfuscate traffic using XOR and the magic byte as specified in RPC docs
func Obfuscate(data []byte) []byte {
	bnew := make([]byte, len(data))
	for k := range data {
		bnew[k] = data[k] ^ 0xA5
	}
	return bnew
}

// GUIDToByteArray mimics Guid.ToByteArray Method () from .NET
// The example displays the following output:
//
//	Guid: 35918bc9-196d-40ea-9779-889d79b753f0
//	C9 8B 91 35 6D 19 EA 40 97 79 88 9D 79 B7 53 F0
func GUIDToByteArray(guid string) ([]byte, error) {
	u, err := uuid.Parse(strings.Trim(guid, "{}"))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", guid, err)
	}
	array := make([]byte, 16)
	copy(array, u[:])
	reverse(array[0:4])
	reverse(array[4:6])
	reverse(array[6:8])
	return array, nil
}

// ByteArrayToGUID is the inverse of GUIDToByteArray
func ByteArrayToGUID(array []byte) (string, error) {
	if len(array) != 16 {
		return "", fmt.Errorf("a GUID is 16 bytes, got %d", len(array))
	}
	var u uuid.UUID
	copy(u[:], array)
	reverse(u[0:4])
	reverse(u[4:6])
	reverse(u[6:8])
	return u.String(), nil
}

// NewGUID returns a random GUID in the on-the-wire byte order
func NewGUID() []byte {
	u := uuid.New()
	b, _ := GUIDToByteArray(u.String())
	return b
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
