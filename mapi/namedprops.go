package mapi

import (
	"bytes"

	"github.com/sensepost/exconform/utils"
)

//PropertyName Kind values
const (
	KindLID    = 0x00
	KindString = 0x01
	KindNone   = 0xFF
)

//PSPublicStrings is the PS_PUBLIC_STRINGS property set
const PSPublicStrings = "{00020329-0000-0000-C000-000000000046}"

//PSMapi is the PS_MAPI property set
const PSMapi = "{00020328-0000-0000-C000-000000000046}"

//PropertyName identifies a named property by set GUID and either a LID or a name
type PropertyName struct {
	Kind     uint8
	GUID     []byte
	LID      uint32
	NameSize uint8
	Name     []byte //UTF-16LE including the terminator
}

//NamedPropertyInformation maps the property ids used inside an extended rule to their names
type NamedPropertyInformation struct {
	NoOfNamedProps      uint16
	PropIDs             []uint16
	NamedPropertiesSize uint32
	NamedProperties     []PropertyName
}

//ExtendedRuleActions is the value of PidTagExtendedRuleMessageActions
type ExtendedRuleActions struct {
	NamedPropertyInformation NamedPropertyInformation
	RuleVersion              uint32
	RuleActionBuffer         RuleAction
}

//ExtendedRuleCondition is the value of PidTagExtendedRuleMessageCondition
type ExtendedRuleCondition struct {
	NamedPropertyInformation NamedPropertyInformation
	RuleRestriction          Restriction
}

//NewStringName builds a Kind 0x01 PropertyName from a GUID string and name
func NewStringName(guid, name string) PropertyName {
	n := utils.UniString(name)
	return PropertyName{Kind: KindString, GUID: guidBytes(guid), NameSize: uint8(len(n)), Name: n}
}

//NewLIDName builds a Kind 0x00 PropertyName
func NewLIDName(guid string, lid uint32) PropertyName {
	return PropertyName{Kind: KindLID, GUID: guidBytes(guid), LID: lid}
}

//NewNamedPropertyInformation pairs ids with names, counts and sizes are derived
func NewNamedPropertyInformation(ids []uint16, names []PropertyName) NamedPropertyInformation {
	npi := NamedPropertyInformation{NoOfNamedProps: uint16(len(ids)), PropIDs: ids, NamedProperties: names}
	npi.NamedPropertiesSize = uint32(npi.DerivedSize())
	return npi
}

//Size is the encoded size of the PropertyName derived from its Kind
func (pn PropertyName) Size() int {
	switch pn.Kind {
	case KindLID:
		return 17 + 4
	case KindString:
		return 17 + 1 + int(pn.NameSize)
	}
	return 17
}

//String returns the name of a Kind 0x01 PropertyName
func (pn PropertyName) String() string {
	return utils.FromUnicode(pn.Name)
}

//SetGUID returns the property set as a GUID string
func (pn PropertyName) SetGUID() string {
	g, err := utils.ByteArrayToGUID(pn.GUID)
	if err != nil {
		return ""
	}
	return g
}

//Marshal turn PropertyName into bytes
func (pn PropertyName) Marshal() []byte {
	b := []byte{pn.Kind}
	guid := make([]byte, 16)
	copy(guid, pn.GUID)
	b = append(b, guid...)
	switch pn.Kind {
	case KindLID:
		b = append(b, utils.EncodeNum(pn.LID)...)
	case KindString:
		b = append(b, pn.NameSize)
		b = append(b, pn.Name...)
	}
	return b
}

//Unmarshal func
func (pn *PropertyName) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("PropertyName", buf)
	*pn = readPropertyName(d)
	return d.pos, d.err
}

func readPropertyName(d *decoder) PropertyName {
	pn := PropertyName{}
	pn.Kind = d.uint8("Kind")
	pn.GUID = d.bytes("GUID", 16)
	switch pn.Kind {
	case KindLID:
		pn.LID = d.uint32("LID")
	case KindString:
		pn.NameSize = d.uint8("NameSize")
		pn.Name = d.bytes("Name", int(pn.NameSize))
	case KindNone:
	default:
		d.failf("Kind", "unknown kind 0x%02X", pn.Kind)
	}
	return pn
}

//DerivedSize is the byte size of NamedProperties computed from each name
func (npi NamedPropertyInformation) DerivedSize() int {
	n := 0
	for _, pn := range npi.NamedProperties {
		n += pn.Size()
	}
	return n
}

//Lookup returns the name mapped to a property id
func (npi NamedPropertyInformation) Lookup(id uint16) (PropertyName, bool) {
	for i, p := range npi.PropIDs {
		if p == id && i < len(npi.NamedProperties) {
			return npi.NamedProperties[i], true
		}
	}
	return PropertyName{}, false
}

//Marshal turn NamedPropertyInformation into bytes, the size fields are written as stored
func (npi NamedPropertyInformation) Marshal() []byte {
	b := utils.EncodeNum(npi.NoOfNamedProps)
	for _, id := range npi.PropIDs {
		b = append(b, utils.EncodeNum(id)...)
	}
	if npi.NoOfNamedProps == 0 {
		return b
	}
	b = append(b, utils.EncodeNum(npi.NamedPropertiesSize)...)
	for _, pn := range npi.NamedProperties {
		b = append(b, pn.Marshal()...)
	}
	return b
}

//Unmarshal func
func (npi *NamedPropertyInformation) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("NamedPropertyInformation", buf)
	*npi = readNamedPropertyInformation(d)
	return d.pos, d.err
}

//DecodeNamedPropertyInformation decodes the structure at the start of buf
func DecodeNamedPropertyInformation(buf []byte) (*NamedPropertyInformation, error) {
	npi := &NamedPropertyInformation{}
	if _, err := npi.Unmarshal(buf); err != nil {
		return nil, err
	}
	return npi, nil
}

//NamedPropertiesSize and NamedProperties are only present when there is at least one named property.
//NamedProperties holds one PropertyName per id, and NamedPropertiesSize bounds them.
func readNamedPropertyInformation(d *decoder) NamedPropertyInformation {
	npi := NamedPropertyInformation{}
	npi.NoOfNamedProps = d.uint16("NoOfNamedProps")
	for i := 0; i < int(npi.NoOfNamedProps) && d.err == nil; i++ {
		npi.PropIDs = append(npi.PropIDs, d.uint16("PropId"))
	}
	if npi.NoOfNamedProps == 0 || d.err != nil {
		return npi
	}
	npi.NamedPropertiesSize = d.uint32("NamedPropertiesSize")
	names := d.sub("NamedProperties", int(npi.NamedPropertiesSize))
	for i := 0; i < int(npi.NoOfNamedProps) && names.err == nil; i++ {
		npi.NamedProperties = append(npi.NamedProperties, readPropertyName(names))
	}
	d.absorb(names)
	return npi
}

//NewExtendedRuleActions wraps a RuleAction with its named properties, RuleVersion is 1
func NewExtendedRuleActions(npi NamedPropertyInformation, actions RuleAction) ExtendedRuleActions {
	return ExtendedRuleActions{NamedPropertyInformation: npi, RuleVersion: 1, RuleActionBuffer: actions}
}

//Marshal turn ExtendedRuleActions into bytes
func (era ExtendedRuleActions) Marshal() []byte {
	b := era.NamedPropertyInformation.Marshal()
	b = append(b, utils.EncodeNum(era.RuleVersion)...)
	return append(b, era.RuleActionBuffer.Marshal(true)...)
}

//Unmarshal func
func (era *ExtendedRuleActions) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("ExtendedRuleActions", buf)
	era.NamedPropertyInformation = readNamedPropertyInformation(d)
	era.RuleVersion = d.uint32("RuleVersion")
	if d.err != nil {
		return 0, d.err
	}
	n, err := era.RuleActionBuffer.unmarshal(buf[d.pos:], true)
	if err != nil {
		return 0, err
	}
	return d.pos + n, nil
}

//DecodeExtendedRuleActions decodes a PidTagExtendedRuleMessageActions value
func DecodeExtendedRuleActions(buf []byte) (*ExtendedRuleActions, error) {
	era := &ExtendedRuleActions{}
	if _, err := era.Unmarshal(buf); err != nil {
		return nil, err
	}
	return era, nil
}

//Marshal turn ExtendedRuleCondition into bytes
func (erc ExtendedRuleCondition) Marshal() []byte {
	b := erc.NamedPropertyInformation.Marshal()
	if erc.RuleRestriction != nil {
		b = append(b, MarshalRestriction(erc.RuleRestriction, true)...)
	}
	return b
}

//Unmarshal func
func (erc *ExtendedRuleCondition) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("ExtendedRuleCondition", buf)
	erc.NamedPropertyInformation = readNamedPropertyInformation(d)
	if d.err != nil {
		return 0, d.err
	}
	r, n, err := unmarshalRestriction(buf[d.pos:], true)
	if err != nil {
		return 0, err
	}
	erc.RuleRestriction = r
	return d.pos + n, nil
}

//DecodeExtendedRuleCondition decodes a PidTagExtendedRuleMessageCondition value
func DecodeExtendedRuleCondition(buf []byte) (*ExtendedRuleCondition, error) {
	erc := &ExtendedRuleCondition{}
	if _, err := erc.Unmarshal(buf); err != nil {
		return nil, err
	}
	return erc, nil
}

//GUIDEqual compares a 16 byte GUID with its string form
func GUIDEqual(b []byte, guid string) bool {
	want, err := utils.GUIDToByteArray(guid)
	return err == nil && bytes.Equal(b, want)
}

//guidBytes is GUIDToByteArray for the fixed GUIDs of this package, an invalid string gives the null GUID
func guidBytes(guid string) []byte {
	b, err := utils.GUIDToByteArray(guid)
	if err != nil {
		return make([]byte, 16)
	}
	return b
}
