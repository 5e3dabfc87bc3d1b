package mapi

import (
	"fmt"

	"github.com/sensepost/exconform/utils"
)

//STAT holds the state of the NSPI table
type STAT struct {
	SortType       uint32
	ContainerID    uint32
	CurrentRec     uint32
	Delta          uint32
	NumPos         uint32
	TotalRecs      uint32
	CodePage       uint32
	TemplateLocale uint32
	SortLocale     uint32
}

//defaultSTAT is the state sent with every address book request, CurrentRec is filled per request
func defaultSTAT() STAT {
	return STAT{CodePage: 1252, TemplateLocale: 1033, SortLocale: 2057}
}

// BindRequest struct used in bind request to bind to addressbook
type BindRequest struct {
	Flags               uint32
	HasState            byte
	State               STAT
	AuxiliaryBufferSize uint32
}

// BindResponse struct
type BindResponse struct {
	StatusCode          uint32
	ErrorCode           uint32
	ServerGUID          []byte
	AuxiliaryBufferSize uint32
	AuxiliaryBuffer     []byte
}

// UnbindRequest ends the address book session
type UnbindRequest struct {
	Reserved            uint32
	AuxiliaryBufferSize uint32
}

// DnToMinIDRequest maps DNs to Minimal Entry IDs
type DnToMinIDRequest struct {
	Reserved            uint32
	HasNames            byte
	NameCount           uint32
	NameValues          []byte //null terminated ASCII strings
	AuxiliaryBufferSize uint32
}

// DnToMinIDResponse struct
type DnToMinIDResponse struct {
	StatusCode          uint32
	ErrorCode           uint32
	HasMinimalIds       byte
	MinimalIDCount      uint32 //if HasMinimalIds is set
	MinimalIds          []uint32
	AuxiliaryBufferSize uint32
	AuxiliaryBuffer     []byte
}

// LargePropertyTagArray contains a list of propertytags
type LargePropertyTagArray struct {
	PropertyTagCount uint32
	PropertyTags     []PropertyTag
}

// GetPropsRequest reads properties of the object STAT.CurrentRec points at
type GetPropsRequest struct {
	Flags               uint32
	HasState            byte
	State               STAT
	HasPropertyTags     byte
	PropertyTags        LargePropertyTagArray
	AuxiliaryBufferSize uint32
}

// GetPropsResponse struct
type GetPropsResponse struct {
	StatusCode          uint32
	ErrorCode           uint32
	CodePage            uint32
	HasPropertyValues   byte
	PropertyValues      AddressBookPropertyValueList
	AuxiliaryBufferSize uint32
	AuxiliaryBuffer     []byte
}

// AddressBookPropertyValueList used to list addressbook
type AddressBookPropertyValueList struct {
	PropertyValueCount uint32
	PropertyValues     []AddressBookTaggedPropertyValue
}

// AddressBookTaggedPropertyValue used to hold a value for an Addressbook entry.
// PropertyValue is the value without the HasValue byte, nil when HasValue was 0x00.
type AddressBookTaggedPropertyValue struct {
	PropertyTag   PropertyTag
	PropertyValue []byte
}

// Marshal turn BindRequest into Bytes
func (bindRequest BindRequest) Marshal() []byte {
	return utils.BodyToBytes(bindRequest)
}

// Marshal turn UnbindRequest into Bytes
func (unbind UnbindRequest) Marshal() []byte {
	return utils.BodyToBytes(unbind)
}

//NewDnToMinIDRequest asks for the Minimal Entry IDs of dns
func NewDnToMinIDRequest(dns ...string) DnToMinIDRequest {
	req := DnToMinIDRequest{HasNames: 0xFF, NameCount: uint32(len(dns))}
	for _, dn := range dns {
		req.NameValues = append(req.NameValues, []byte(dn)...)
		req.NameValues = append(req.NameValues, 0x00)
	}
	return req
}

// Marshal turn DnToMinIDRequest into Bytes
func (dntominid DnToMinIDRequest) Marshal() []byte {
	return utils.BodyToBytes(dntominid)
}

// Marshal turn GetPropsRequest into Bytes
func (getProps GetPropsRequest) Marshal() []byte {
	return utils.BodyToBytes(getProps)
}

//readAuxiliary reads AuxiliaryBufferSize and the buffer that follows
func readAuxiliary(d *decoder) (uint32, []byte) {
	n := d.uint32("AuxiliaryBufferSize")
	return n, d.bytes("AuxiliaryBuffer", int(n))
}

//abkStatus turns the StatusCode and ErrorCode of an address book response into an error
func abkStatus(request string, status, code uint32) error {
	if status != 0 {
		return fmt.Errorf("%s failed with status %d: %w", request, status, ErrUnknown)
	}
	if code != 0 {
		return fmt.Errorf("%s failed: %s", request, ErrorCodeName(code))
	}
	return nil
}

// Unmarshal func
func (bindResponse *BindResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("BindResponse", resp)
	bindResponse.StatusCode = d.uint32("StatusCode")
	bindResponse.ErrorCode = d.uint32("ErrorCode")
	bindResponse.ServerGUID = d.bytes("ServerGuid", 16)
	bindResponse.AuxiliaryBufferSize, bindResponse.AuxiliaryBuffer = readAuxiliary(d)
	return d.pos, d.err
}

// Unmarshal func
func (dnResponse *DnToMinIDResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("DNToMIdResponse", resp)
	dnResponse.StatusCode = d.uint32("StatusCode")
	dnResponse.ErrorCode = d.uint32("ErrorCode")
	dnResponse.HasMinimalIds = d.uint8("HasMinimalIds")
	if dnResponse.HasMinimalIds != 0x00 {
		dnResponse.MinimalIDCount = d.uint32("MinimalIdCount")
		for k := 0; k < int(dnResponse.MinimalIDCount) && d.err == nil; k++ {
			dnResponse.MinimalIds = append(dnResponse.MinimalIds, d.uint32("MinimalIds"))
		}
	}
	dnResponse.AuxiliaryBufferSize, dnResponse.AuxiliaryBuffer = readAuxiliary(d)
	return d.pos, d.err
}

// Unmarshal func
func (gpResponse *GetPropsResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("GetPropsResponse", resp)
	gpResponse.StatusCode = d.uint32("StatusCode")
	gpResponse.ErrorCode = d.uint32("ErrorCode")
	gpResponse.CodePage = d.uint32("CodePage")
	gpResponse.HasPropertyValues = d.uint8("HasPropertyValues")
	if gpResponse.HasPropertyValues != 0x00 {
		gpResponse.PropertyValues = readAddressBookValueList(d)
	}
	gpResponse.AuxiliaryBufferSize, gpResponse.AuxiliaryBuffer = readAuxiliary(d)
	return d.pos, d.err
}

//Get returns the value of tag, false when missing or without a value
func (abt AddressBookPropertyValueList) Get(tag PropertyTag) ([]byte, bool) {
	for _, v := range abt.PropertyValues {
		if v.PropertyTag == tag && v.PropertyValue != nil {
			return v.PropertyValue, true
		}
	}
	return nil, false
}

func readAddressBookValueList(d *decoder) AddressBookPropertyValueList {
	abt := AddressBookPropertyValueList{PropertyValueCount: d.uint32("PropertyValueCount")}
	for k := 0; k < int(abt.PropertyValueCount) && d.err == nil; k++ {
		v := AddressBookTaggedPropertyValue{}
		v.PropertyTag.PropertyType = d.uint16("PropertyType")
		v.PropertyTag.PropertyID = d.uint16("PropertyId")
		v.PropertyValue = readAddressBookValue(d, v.PropertyTag.PropertyType)
		abt.PropertyValues = append(abt.PropertyValues, v)
	}
	return abt
}

// readAddressBookValue reads an AddressBookPropertyValue. Strings, binaries and
// multi-valued types carry a HasValue byte, binaries use a 4 byte COUNT.
func readAddressBookValue(d *decoder, ptype uint16) []byte {
	field := fmt.Sprintf("PropertyValue(0x%04X)", ptype)
	if n := fixedSize(ptype); n > 0 {
		return d.bytes(field, n)
	}
	if d.uint8("HasValue") == 0x00 {
		return nil
	}
	switch ptype {
	case PtypString:
		return d.unicodeString(field)
	case PtypString8:
		return d.asciiString(field)
	case PtypBinary:
		n := d.uint32(field)
		return d.bytes(field, int(n))
	}
	d.fail(field, ErrUnsupportedType)
	return nil
}
