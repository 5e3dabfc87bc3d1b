package mapi

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sensepost/exconform/utils"
)

//ErrUnsupportedType is returned for property types the reader does not know
var ErrUnsupportedType = errors.New("unsupported property type")

//PropertyTag identifies a property, serialised as type then id
type PropertyTag struct {
	PropertyType uint16
	PropertyID   uint16
}

//Marshal turn PropertyTag into bytes
func (tag PropertyTag) Marshal() []byte {
	return utils.BodyToBytes(tag)
}

func (tag PropertyTag) String() string {
	return fmt.Sprintf("0x%04X%04X", tag.PropertyID, tag.PropertyType)
}

//TaggedPropertyValue is a tag followed by its encoded value
type TaggedPropertyValue struct {
	PropertyTag   PropertyTag
	PropertyValue []byte
}

//Marshal turn TaggedPropertyValue into bytes
func (p TaggedPropertyValue) Marshal() []byte {
	return append(p.PropertyTag.Marshal(), p.PropertyValue...)
}

//NewStringProp encodes a null terminated unicode string value
func NewStringProp(tag PropertyTag, s string) TaggedPropertyValue {
	return TaggedPropertyValue{tag, utils.UniString(s)}
}

//NewInt32Prop encodes a 4 byte value
func NewInt32Prop(tag PropertyTag, v uint32) TaggedPropertyValue {
	return TaggedPropertyValue{tag, utils.EncodeNum(v)}
}

//NewInt64Prop encodes an 8 byte value
func NewInt64Prop(tag PropertyTag, v uint64) TaggedPropertyValue {
	return TaggedPropertyValue{tag, utils.EncodeNum(v)}
}

//NewBoolProp encodes a 1 byte boolean
func NewBoolProp(tag PropertyTag, v bool) TaggedPropertyValue {
	if v {
		return TaggedPropertyValue{tag, []byte{0x01}}
	}
	return TaggedPropertyValue{tag, []byte{0x00}}
}

//NewBinaryProp encodes a binary value with the 2 byte COUNT used in ROP buffers
func NewBinaryProp(tag PropertyTag, data []byte) TaggedPropertyValue {
	return TaggedPropertyValue{tag, append(utils.COUNT(len(data)), data...)}
}

//NewBinaryPropExt encodes a binary value with the 4 byte COUNT of extended rules
func NewBinaryPropExt(tag PropertyTag, data []byte) TaggedPropertyValue {
	return TaggedPropertyValue{tag, append(utils.COUNT32(len(data)), data...)}
}

//Text decodes a PtypString or PtypString8 value
func (p TaggedPropertyValue) Text() string {
	if p.PropertyTag.PropertyType == PtypString8 {
		return utils.FromASCII(p.PropertyValue)
	}
	return utils.FromUnicode(p.PropertyValue)
}

//Uint32 decodes a 4 byte value, smaller values are widened
func (p TaggedPropertyValue) Uint32() uint32 {
	switch len(p.PropertyValue) {
	case 0:
		return 0
	case 1:
		return uint32(p.PropertyValue[0])
	case 2, 3:
		return uint32(binary.LittleEndian.Uint16(p.PropertyValue))
	}
	return binary.LittleEndian.Uint32(p.PropertyValue)
}

//Uint64 decodes an 8 byte value
func (p TaggedPropertyValue) Uint64() uint64 {
	if len(p.PropertyValue) < 8 {
		return uint64(p.Uint32())
	}
	return binary.LittleEndian.Uint64(p.PropertyValue)
}

//Bool decodes a boolean
func (p TaggedPropertyValue) Bool() bool {
	return len(p.PropertyValue) > 0 && p.PropertyValue[0] != 0
}

//Binary strips the 2 byte COUNT of a binary value read from a ROP buffer.
//It returns nil when the COUNT does not match the data.
func (p TaggedPropertyValue) Binary() []byte {
	return p.binary(2)
}

//BinaryExt strips the 4 byte COUNT used inside extended rule structures
func (p TaggedPropertyValue) BinaryExt() []byte {
	return p.binary(4)
}

func (p TaggedPropertyValue) binary(width int) []byte {
	d := newDecoder("PtypBinary", p.PropertyValue)
	n := d.count("COUNT", width)
	b := d.bytes("Value", n)
	if d.err != nil || d.remaining() != 0 {
		return nil
	}
	return b
}

//fixedSize returns the byte size of fixed length property types
func fixedSize(ptype uint16) int {
	switch ptype {
	case PtypBoolean:
		return 1
	case PtypInteger16:
		return 2
	case PtypInteger32, PtypFloating32, PtypErrorCode:
		return 4
	case PtypInteger64, PtypFloating64, PtypCurrency, PtypFloatingTime, PtypTime:
		return 8
	case PtypGUID:
		return 16
	}
	return 0
}

//readPropertyValue returns the encoded bytes of one value, width is the COUNT size
func readPropertyValue(d *decoder, ptype uint16, width int) []byte {
	field := fmt.Sprintf("PropertyValue(0x%04X)", ptype)
	if n := fixedSize(ptype); n > 0 {
		return d.bytes(field, n)
	}
	start := d.pos
	switch ptype {
	case PtypString:
		d.unicodeString(field)
	case PtypString8:
		d.asciiString(field)
	case PtypBinary, PtypServerID:
		n := d.count(field, width)
		d.take(field, n)
	case PtypRuleAction:
		ra := RuleAction{}
		n, err := ra.unmarshal(d.buf[d.pos:], width == 4)
		if err != nil {
			d.fail(field, err)
			return nil
		}
		d.take(field, n)
	case PtypRestriction:
		_, n, err := unmarshalRestriction(d.buf[d.pos:], width == 4)
		if err != nil {
			d.fail(field, err)
			return nil
		}
		d.take(field, n)
	case PtypMultipleInteger16, PtypMultipleInteger32, PtypMultipleFloat32, PtypMultipleFloat64,
		PtypMultipleCurrency, PtypMultipleFloatTime, PtypMultipleInteger64, PtypMultipleTime, PtypMultipleGUID:
		n := d.count(field, width)
		d.take(field, n*fixedSize(ptype&^0x1000))
	case PtypMultipleString, PtypMultipleString8, PtypMultipleBinary:
		n := d.count(field, width)
		for i := 0; i < n && d.err == nil; i++ {
			readPropertyValue(d, ptype&^0x1000, width)
		}
	default:
		d.fail(field, ErrUnsupportedType)
	}
	if d.err != nil {
		return nil
	}
	return append([]byte(nil), d.buf[start:d.pos]...)
}

//readTaggedValue reads a PropertyTag and the value that follows it
func readTaggedValue(d *decoder, width int) TaggedPropertyValue {
	p := TaggedPropertyValue{}
	p.PropertyTag.PropertyType = d.uint16("PropertyType")
	p.PropertyTag.PropertyID = d.uint16("PropertyId")
	p.PropertyValue = readPropertyValue(d, p.PropertyTag.PropertyType, width)
	return p
}

//ReadTaggedPropertyValue decodes a single TaggedPropertyValue, returning the bytes consumed
func ReadTaggedPropertyValue(buf []byte, extended bool) (TaggedPropertyValue, int, error) {
	d := newDecoder("TaggedPropertyValue", buf)
	p := readTaggedValue(d, countWidth(extended))
	return p, d.pos, d.err
}

func countWidth(extended bool) int {
	if extended {
		return 4
	}
	return 2
}

//Value flags inside a FlaggedPropertyRow
const (
	ValuePresent = 0x00
	ValueAbsent  = 0x01
	ValueError   = 0x0A
)

//PropertyValue is one column of a row
type PropertyValue struct {
	PropertyTag PropertyTag
	Flag        uint8
	Value       []byte
}

//PropertyRow is a StandardPropertyRow (Flag 0x00) or FlaggedPropertyRow (Flag 0x01)
type PropertyRow struct {
	Flag           uint8
	PropertyValues []PropertyValue
}

//Get returns the column as a TaggedPropertyValue, false when absent or an error
func (row PropertyRow) Get(tag PropertyTag) (TaggedPropertyValue, bool) {
	for _, v := range row.PropertyValues {
		if v.PropertyTag == tag && v.Flag == ValuePresent {
			return TaggedPropertyValue{v.PropertyTag, v.Value}, true
		}
	}
	return TaggedPropertyValue{}, false
}

func readPropertyRow(d *decoder, columns []PropertyTag) PropertyRow {
	row := PropertyRow{Flag: d.uint8("PropertyRow.Flag")}
	if row.Flag != 0x00 && row.Flag != 0x01 {
		d.failf("PropertyRow.Flag", "unknown row flag 0x%02X", row.Flag)
		return row
	}
	for _, col := range columns {
		v := PropertyValue{PropertyTag: col}
		if row.Flag == 0x01 {
			v.Flag = d.uint8("PropertyValue.Flag")
		}
		switch v.Flag {
		case ValuePresent:
			ptype := col.PropertyType
			if ptype == PtypUnspecified {
				ptype = d.uint16("PropertyType")
				v.PropertyTag.PropertyType = ptype
			}
			v.Value = readPropertyValue(d, ptype, 2)
		case ValueAbsent:
		case ValueError:
			v.Value = d.bytes("ErrorCode", 4)
		default:
			d.failf("PropertyValue.Flag", "unknown value flag 0x%02X", v.Flag)
		}
		if d.err != nil {
			return row
		}
		row.PropertyValues = append(row.PropertyValues, v)
	}
	return row
}
