package mapi

import (
	"fmt"

	"github.com/sensepost/exconform/utils"
)

//Contains the datastructs used to form restrictions

// match types for fuzzy low
const (
	FLFULLSTRING = 0x0000 //field and the value of the column property tag match one another in their entirety
	FLSUBSTRING  = 0x0001 //field matches some portion of the value of the column tag
	FLPREFIX     = 0x0002 //field matches a starting portion of the value of the column tag
)

// match types for fuzzy high
const (
	FLIGNORECASE    = 0x0001 //The comparison does not consider case
	FLIGNOREONSPACE = 0x0002 //The comparison ignores Unicode-defined nonspacing characters such as diacritical marks
	FLLOOSE         = 0x0004 //The comparison results in a match whenever possible, ignoring case and nonspacing characters
)

// relational operators
const (
	RELOPLT         = 0x00
	RELOPLE         = 0x01
	RELOPGT         = 0x02
	RELOPGE         = 0x03
	RELOPEQ         = 0x04
	RELOPNE         = 0x05
	RELOPRE         = 0x06
	RELOPMEMBEROFDL = 0x64
)

// restriction types
const (
	RestrictAnd        = 0x00
	RestrictOr         = 0x01
	RestrictNot        = 0x02
	RestrictContent    = 0x03
	RestrictProperty   = 0x04
	RestrictCompare    = 0x05
	RestrictBitmask    = 0x06
	RestrictSize       = 0x07
	RestrictExist      = 0x08
	RestrictSubObject  = 0x09
	RestrictComment    = 0x0A
	RestrictCount      = 0x0B
	maxRestrictionNest = 255
)

// Restriction interface to generalise restrictions
type Restriction interface {
	Marshal() []byte
	marshal(width int) []byte
}

// MarshalRestriction encodes a restriction, extended restrictions use 4 byte counts
func MarshalRestriction(r Restriction, extended bool) []byte {
	return r.marshal(countWidth(extended))
}

func count(n, width int) []byte {
	if width == 4 {
		return utils.COUNT32(n)
	}
	return utils.COUNT(n)
}

// ContentRestriction describes a content restriction,
// which is used to limit a table view to only those rows that include a column
// with contents matching a search string.
type ContentRestriction struct {
	RestrictType   uint8  //0x03
	FuzzyLevelLow  uint16 //type of match
	FuzzyLevelHigh uint16
	PropertyTag    PropertyTag //indicates the propertytag value field
	PropertyValue  TaggedPropertyValue
}

// AndRestriction structure describes a combination of nested conditions that need to be
// AND'ed with each other
type AndRestriction struct {
	RestrictType  uint8 //0x00
	RestrictCount uint32
	Restricts     []Restriction
}

// OrRestriction structure describes a combination of nested conditions that need to be
// OR'ed with each other
type OrRestriction struct {
	RestrictType  uint8 //0x01
	RestrictCount uint32
	Restricts     []Restriction
}

// NotRestriction is used to apply a logical NOT operation to a single restriction
type NotRestriction struct {
	RestrictType uint8 //0x02
	Restriction  Restriction
}

// PropertyRestriction compares a property against a value
type PropertyRestriction struct {
	RestrictType uint8 //0x04
	RelOp        uint8
	PropTag      PropertyTag
	TaggedValue  TaggedPropertyValue
}

// ComparePropertiesRestriction compares two properties of the same object
type ComparePropertiesRestriction struct {
	RestrictType uint8 //0x05
	RelOp        uint8
	PropTag1     PropertyTag
	PropTag2     PropertyTag
}

// BitMaskRestriction tests the bits of a property
type BitMaskRestriction struct {
	RestrictType uint8 //0x06
	BitmapRelOp  uint8
	PropTag      PropertyTag
	Mask         uint32
}

// SizeRestriction compares the size of a property
type SizeRestriction struct {
	RestrictType uint8 //0x07
	RelOp        uint8
	PropTag      PropertyTag
	Size         uint32
}

// ExistRestriction tests that a property is present
type ExistRestriction struct {
	RestrictType uint8 //0x08
	PropTag      PropertyTag
}

// SubObjectRestriction applies a restriction to the recipients or attachments of a message
type SubObjectRestriction struct {
	RestrictType uint8 //0x09
	SubObject    PropertyTag
	Restriction  Restriction
}

// CommentRestriction annotates a restriction with property values
type CommentRestriction struct {
	RestrictType uint8 //0x0A
	TaggedValues []TaggedPropertyValue
	Restriction  Restriction
}

// CountRestriction limits the number of matches of its sub restriction
type CountRestriction struct {
	RestrictType   uint8 //0x0B
	Count          uint32
	SubRestriction Restriction
}

// Marshal turn ContentRestriction into Bytes
func (restriction ContentRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn AndResetriction into Bytes
func (restriction AndRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn OrResetriction into Bytes
func (restriction OrRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn NotRestriction into Bytes
func (restriction NotRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn PropertyRestriction into Bytes
func (restriction PropertyRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn ComparePropertiesRestriction into Bytes
func (restriction ComparePropertiesRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn BitMaskRestriction into Bytes
func (restriction BitMaskRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn SizeRestriction into Bytes
func (restriction SizeRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn ExistRestriction into Bytes
func (restriction ExistRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn SubObjectRestriction into Bytes
func (restriction SubObjectRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn CommentRestriction into Bytes
func (restriction CommentRestriction) Marshal() []byte { return restriction.marshal(2) }

// Marshal turn CountRestriction into Bytes
func (restriction CountRestriction) Marshal() []byte { return restriction.marshal(2) }

func (restriction ContentRestriction) marshal(width int) []byte {
	b := []byte{RestrictContent}
	b = append(b, utils.EncodeNum(restriction.FuzzyLevelLow)...)
	b = append(b, utils.EncodeNum(restriction.FuzzyLevelHigh)...)
	b = append(b, restriction.PropertyTag.Marshal()...)
	return append(b, restriction.PropertyValue.Marshal()...)
}

func marshalList(rtype uint8, restricts []Restriction, width int) []byte {
	b := append([]byte{rtype}, count(len(restricts), width)...)
	for _, r := range restricts {
		b = append(b, r.marshal(width)...)
	}
	return b
}

func (restriction AndRestriction) marshal(width int) []byte {
	return marshalList(RestrictAnd, restriction.Restricts, width)
}

func (restriction OrRestriction) marshal(width int) []byte {
	return marshalList(RestrictOr, restriction.Restricts, width)
}

func (restriction NotRestriction) marshal(width int) []byte {
	return append([]byte{RestrictNot}, restriction.Restriction.marshal(width)...)
}

func (restriction PropertyRestriction) marshal(width int) []byte {
	b := []byte{RestrictProperty, restriction.RelOp}
	b = append(b, restriction.PropTag.Marshal()...)
	return append(b, restriction.TaggedValue.Marshal()...)
}

func (restriction ComparePropertiesRestriction) marshal(width int) []byte {
	b := []byte{RestrictCompare, restriction.RelOp}
	b = append(b, restriction.PropTag1.Marshal()...)
	return append(b, restriction.PropTag2.Marshal()...)
}

func (restriction BitMaskRestriction) marshal(width int) []byte {
	b := []byte{RestrictBitmask, restriction.BitmapRelOp}
	b = append(b, restriction.PropTag.Marshal()...)
	return append(b, utils.EncodeNum(restriction.Mask)...)
}

func (restriction SizeRestriction) marshal(width int) []byte {
	b := []byte{RestrictSize, restriction.RelOp}
	b = append(b, restriction.PropTag.Marshal()...)
	return append(b, utils.EncodeNum(restriction.Size)...)
}

func (restriction ExistRestriction) marshal(width int) []byte {
	return append([]byte{RestrictExist}, restriction.PropTag.Marshal()...)
}

func (restriction SubObjectRestriction) marshal(width int) []byte {
	b := append([]byte{RestrictSubObject}, restriction.SubObject.Marshal()...)
	return append(b, restriction.Restriction.marshal(width)...)
}

func (restriction CommentRestriction) marshal(width int) []byte {
	b := []byte{RestrictComment, uint8(len(restriction.TaggedValues))}
	for _, v := range restriction.TaggedValues {
		b = append(b, v.Marshal()...)
	}
	if restriction.Restriction == nil {
		return append(b, 0x00)
	}
	b = append(b, 0x01)
	return append(b, restriction.Restriction.marshal(width)...)
}

func (restriction CountRestriction) marshal(width int) []byte {
	b := append([]byte{RestrictCount}, utils.EncodeNum(restriction.Count)...)
	return append(b, restriction.SubRestriction.marshal(width)...)
}

// UnmarshalRestriction decodes a restriction, returning the bytes consumed
func UnmarshalRestriction(buf []byte, extended bool) (Restriction, int, error) {
	return unmarshalRestriction(buf, extended)
}

func unmarshalRestriction(buf []byte, extended bool) (Restriction, int, error) {
	d := newDecoder("Restriction", buf)
	r := readRestriction(d, countWidth(extended), 0)
	if d.err != nil {
		return nil, 0, d.err
	}
	return r, d.pos, nil
}

func readTag(d *decoder) PropertyTag {
	t := PropertyTag{}
	t.PropertyType = d.uint16("PropertyType")
	t.PropertyID = d.uint16("PropertyId")
	return t
}

func readRestriction(d *decoder, width, depth int) Restriction {
	if depth > maxRestrictionNest {
		d.failf("RestrictType", "restriction nested deeper than %d", maxRestrictionNest)
		return nil
	}
	rtype := d.uint8("RestrictType")
	if d.err != nil {
		return nil
	}
	switch rtype {
	case RestrictAnd, RestrictOr:
		n := d.count("RestrictCount", width)
		list := []Restriction{}
		for i := 0; i < n && d.err == nil; i++ {
			list = append(list, readRestriction(d, width, depth+1))
		}
		if rtype == RestrictAnd {
			return AndRestriction{RestrictType: rtype, RestrictCount: uint32(n), Restricts: list}
		}
		return OrRestriction{RestrictType: rtype, RestrictCount: uint32(n), Restricts: list}
	case RestrictNot:
		return NotRestriction{RestrictType: rtype, Restriction: readRestriction(d, width, depth+1)}
	case RestrictContent:
		r := ContentRestriction{RestrictType: rtype}
		r.FuzzyLevelLow = d.uint16("FuzzyLevelLow")
		r.FuzzyLevelHigh = d.uint16("FuzzyLevelHigh")
		r.PropertyTag = readTag(d)
		r.PropertyValue = readTaggedValue(d, width)
		return r
	case RestrictProperty:
		r := PropertyRestriction{RestrictType: rtype}
		r.RelOp = d.uint8("RelOp")
		r.PropTag = readTag(d)
		r.TaggedValue = readTaggedValue(d, width)
		return r
	case RestrictCompare:
		r := ComparePropertiesRestriction{RestrictType: rtype}
		r.RelOp = d.uint8("RelOp")
		r.PropTag1 = readTag(d)
		r.PropTag2 = readTag(d)
		return r
	case RestrictBitmask:
		r := BitMaskRestriction{RestrictType: rtype}
		r.BitmapRelOp = d.uint8("BitmapRelOp")
		r.PropTag = readTag(d)
		r.Mask = d.uint32("Mask")
		return r
	case RestrictSize:
		r := SizeRestriction{RestrictType: rtype}
		r.RelOp = d.uint8("RelOp")
		r.PropTag = readTag(d)
		r.Size = d.uint32("Size")
		return r
	case RestrictExist:
		return ExistRestriction{RestrictType: rtype, PropTag: readTag(d)}
	case RestrictSubObject:
		r := SubObjectRestriction{RestrictType: rtype}
		r.SubObject = readTag(d)
		r.Restriction = readRestriction(d, width, depth+1)
		return r
	case RestrictComment:
		r := CommentRestriction{RestrictType: rtype}
		n := int(d.uint8("TaggedValuesCount"))
		for i := 0; i < n && d.err == nil; i++ {
			r.TaggedValues = append(r.TaggedValues, readTaggedValue(d, width))
		}
		if d.uint8("RestrictionPresent") != 0 {
			r.Restriction = readRestriction(d, width, depth+1)
		}
		return r
	case RestrictCount:
		r := CountRestriction{RestrictType: rtype}
		r.Count = d.uint32("Count")
		r.SubRestriction = readRestriction(d, width, depth+1)
		return r
	}
	d.fail("RestrictType", fmt.Errorf("unknown restriction type 0x%02X", rtype))
	return nil
}
