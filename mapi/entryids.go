package mapi

import (
	"bytes"
	"fmt"

	"github.com/sensepost/exconform/utils"
)

//Provider UIDs of the EntryID family
const (
	StoreObjectProviderUID = "{10BBA138-E505-1A10-A1BB-08002B2A56C2}"
	MailboxStoreUID        = "{20FA551B-66AA-CD11-9BC8-00AA002FC45A}"
	PublicStoreUID         = "{1002831C-66AA-CD11-9BC8-00AA002FC45A}"
	AddressBookProviderUID = "{C840A7DC-42C0-1A10-B4B9-08002B2FE182}"
)

//FolderType and MessageType values
const (
	PrivateFolder  = 0x0001
	PublicFolder   = 0x0003
	PrivateMessage = 0x0007
	PublicMessage  = 0x0009
)

//WrappedType values of a Store Object EntryID
const (
	WrappedMailbox = 0x0000000C
	WrappedPublic  = 0x00000006
)

//StoreDLLName is the DLLFileName of every Store Object EntryID, padded to 14 bytes
const StoreDLLName = "emsmdb.dll"

//Fixed sizes
const (
	FolderEntryIDSize  = 46
	MessageEntryIDSize = 70
	ServerEIDSize      = 21
	LongTermIDSize     = 24
)

//LongTermID is the database GUID and counter form of a folder or message id
type LongTermID struct {
	DatabaseGUID  []byte
	GlobalCounter []byte
	Pad           uint16
}

//FolderEntryID addresses a folder
type FolderEntryID struct {
	Flags         uint32
	ProviderUID   []byte
	FolderType    uint16
	DatabaseGUID  []byte
	GlobalCounter []byte
	Pad           uint16
}

//MessageEntryID addresses a message
type MessageEntryID struct {
	Flags                uint32
	ProviderUID          []byte
	MessageType          uint16
	FolderDatabaseGUID   []byte
	FolderGlobalCounter  []byte
	Pad1                 uint16
	MessageDatabaseGUID  []byte
	MessageGlobalCounter []byte
	Pad2                 uint16
}

//StoreObjectEntryID addresses a mailbox or public folder store
type StoreObjectEntryID struct {
	Flags              uint32
	ProviderUID        []byte
	Version            uint8
	Flag               uint8
	DLLFileName        []byte
	WrappedFlags       uint32
	WrappedProviderUID []byte
	WrappedType        uint32
	ServerShortname    string
	MailboxDN          string //mailbox stores only
}

//ServerEID is the folder reference of a standard OP_MOVE/OP_COPY in the same store
type ServerEID struct {
	Ours      uint8
	FolderID  uint64
	MessageID uint64
	Instance  uint32
}

//AddressBookEntryID addresses an address book object
type AddressBookEntryID struct {
	Flags       uint32
	ProviderUID []byte
	Version     uint32
	Type        uint32
	X500DN      string
}

//Marshal turn LongTermID into bytes
func (l LongTermID) Marshal() []byte {
	return utils.BodyToBytes(l)
}

//Unmarshal func
func (l *LongTermID) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("LongTermID", buf)
	l.DatabaseGUID = d.bytes("DatabaseGuid", 16)
	l.GlobalCounter = d.bytes("GlobalCounter", 6)
	l.Pad = d.uint16("Pad")
	return d.pos, d.err
}

//NewFolderEntryID builds a private FolderEntryID from the mailbox GUID and the folder's LongTermID
func NewFolderEntryID(mailboxGUID []byte, ltid LongTermID) FolderEntryID {
	return FolderEntryID{
		ProviderUID:   mailboxGUID,
		FolderType:    PrivateFolder,
		DatabaseGUID:  ltid.DatabaseGUID,
		GlobalCounter: ltid.GlobalCounter,
	}
}

//Marshal turn FolderEntryID into bytes
func (f FolderEntryID) Marshal() []byte {
	return utils.BodyToBytes(f)
}

//Unmarshal func
func (f *FolderEntryID) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("FolderEntryID", buf)
	f.Flags = d.uint32("Flags")
	f.ProviderUID = d.bytes("ProviderUID", 16)
	f.FolderType = d.uint16("FolderType")
	f.DatabaseGUID = d.bytes("DatabaseGuid", 16)
	f.GlobalCounter = d.bytes("GlobalCounter", 6)
	f.Pad = d.uint16("Pad")
	return d.pos, d.err
}

//DecodeFolderEntryID decodes a Folder EntryID, the buffer must be exactly 46 bytes
func DecodeFolderEntryID(buf []byte) (*FolderEntryID, error) {
	f := &FolderEntryID{}
	n, err := f.Unmarshal(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, trailingBytes("FolderEntryID", n, len(buf))
	}
	return f, nil
}

//NewMessageEntryID builds a private MessageEntryID
func NewMessageEntryID(mailboxGUID []byte, folder, message LongTermID) MessageEntryID {
	return MessageEntryID{
		ProviderUID:          mailboxGUID,
		MessageType:          PrivateMessage,
		FolderDatabaseGUID:   folder.DatabaseGUID,
		FolderGlobalCounter:  folder.GlobalCounter,
		MessageDatabaseGUID:  message.DatabaseGUID,
		MessageGlobalCounter: message.GlobalCounter,
	}
}

//Marshal turn MessageEntryID into bytes
func (m MessageEntryID) Marshal() []byte {
	return utils.BodyToBytes(m)
}

//Unmarshal func
func (m *MessageEntryID) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("MessageEntryID", buf)
	m.Flags = d.uint32("Flags")
	m.ProviderUID = d.bytes("ProviderUID", 16)
	m.MessageType = d.uint16("MessageType")
	m.FolderDatabaseGUID = d.bytes("FolderDatabaseGuid", 16)
	m.FolderGlobalCounter = d.bytes("FolderGlobalCounter", 6)
	m.Pad1 = d.uint16("Pad1")
	m.MessageDatabaseGUID = d.bytes("MessageDatabaseGuid", 16)
	m.MessageGlobalCounter = d.bytes("MessageGlobalCounter", 6)
	m.Pad2 = d.uint16("Pad2")
	return d.pos, d.err
}

//DecodeMessageEntryID decodes a Message EntryID, the buffer must be exactly 70 bytes
func DecodeMessageEntryID(buf []byte) (*MessageEntryID, error) {
	m := &MessageEntryID{}
	n, err := m.Unmarshal(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, trailingBytes("MessageEntryID", n, len(buf))
	}
	return m, nil
}

//NewStoreObjectEntryID builds the EntryID of a private mailbox store
func NewStoreObjectEntryID(server, mailboxDN string) StoreObjectEntryID {
	return StoreObjectEntryID{
		ProviderUID:        guidBytes(StoreObjectProviderUID),
		DLLFileName:        dllName(),
		WrappedProviderUID: guidBytes(MailboxStoreUID),
		WrappedType:        WrappedMailbox,
		ServerShortname:    server,
		MailboxDN:          mailboxDN,
	}
}

func dllName() []byte {
	b := make([]byte, 14)
	copy(b, StoreDLLName)
	return b
}

//Marshal turn StoreObjectEntryID into bytes
func (s StoreObjectEntryID) Marshal() []byte {
	b := utils.EncodeNum(s.Flags)
	b = append(b, s.ProviderUID...)
	b = append(b, s.Version, s.Flag)
	b = append(b, s.DLLFileName...)
	b = append(b, utils.EncodeNum(s.WrappedFlags)...)
	b = append(b, s.WrappedProviderUID...)
	b = append(b, utils.EncodeNum(s.WrappedType)...)
	b = append(b, []byte(s.ServerShortname)...)
	b = append(b, 0x00)
	if s.WrappedType == WrappedMailbox || s.MailboxDN != "" {
		b = append(b, []byte(s.MailboxDN)...)
		b = append(b, 0x00)
	}
	return b
}

//Unmarshal func
func (s *StoreObjectEntryID) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("StoreObjectEntryID", buf)
	s.Flags = d.uint32("Flags")
	s.ProviderUID = d.bytes("ProviderUID", 16)
	s.Version = d.uint8("Version")
	s.Flag = d.uint8("Flag")
	s.DLLFileName = d.bytes("DLLFileName", 14)
	s.WrappedFlags = d.uint32("WrappedFlags")
	s.WrappedProviderUID = d.bytes("WrappedProviderUID", 16)
	s.WrappedType = d.uint32("WrappedType")
	s.ServerShortname = utils.FromASCII(d.asciiString("ServerShortname"))
	if d.err == nil && d.remaining() > 0 {
		s.MailboxDN = utils.FromASCII(d.asciiString("MailboxDN"))
	}
	return d.pos, d.err
}

//DecodeStoreObjectEntryID decodes a Store Object EntryID, nothing may follow MailboxDN
func DecodeStoreObjectEntryID(buf []byte) (*StoreObjectEntryID, error) {
	s := &StoreObjectEntryID{}
	n, err := s.Unmarshal(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, trailingBytes("StoreObjectEntryID", n, len(buf))
	}
	return s, nil
}

//DLLName returns DLLFileName without its padding
func (s StoreObjectEntryID) DLLName() string {
	return string(bytes.TrimRight(s.DLLFileName, "\x00"))
}

//NewServerEID references a folder of the store the rule lives in
func NewServerEID(fid uint64) ServerEID {
	return ServerEID{Ours: 0x01, FolderID: fid}
}

//Marshal turn ServerEID into bytes
func (s ServerEID) Marshal() []byte {
	return utils.BodyToBytes(s)
}

//Unmarshal func
func (s *ServerEID) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("ServerEid", buf)
	s.Ours = d.uint8("Ours")
	s.FolderID = d.uint64("FolderId")
	s.MessageID = d.uint64("MessageId")
	s.Instance = d.uint32("Instance")
	return d.pos, d.err
}

//DecodeServerEID decodes a ServerEid, the buffer must be exactly 21 bytes
func DecodeServerEID(buf []byte) (*ServerEID, error) {
	s := &ServerEID{}
	n, err := s.Unmarshal(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, trailingBytes("ServerEid", n, len(buf))
	}
	return s, nil
}

//NewAddressBookEntryID builds the EntryID of a local mail user
func NewAddressBookEntryID(x500dn string) AddressBookEntryID {
	return AddressBookEntryID{ProviderUID: guidBytes(AddressBookProviderUID), Version: 1, X500DN: x500dn}
}

//Marshal turn AddressBookEntryID into bytes
func (a AddressBookEntryID) Marshal() []byte {
	b := utils.EncodeNum(a.Flags)
	b = append(b, a.ProviderUID...)
	b = append(b, utils.EncodeNum(a.Version)...)
	b = append(b, utils.EncodeNum(a.Type)...)
	b = append(b, []byte(a.X500DN)...)
	return append(b, 0x00)
}

//Unmarshal func
func (a *AddressBookEntryID) Unmarshal(buf []byte) (int, error) {
	d := newDecoder("AddressBookEntryID", buf)
	a.Flags = d.uint32("Flags")
	a.ProviderUID = d.bytes("ProviderUID", 16)
	a.Version = d.uint32("Version")
	a.Type = d.uint32("Type")
	a.X500DN = utils.FromASCII(d.asciiString("X500DN"))
	return d.pos, d.err
}

//DecodeAddressBookEntryID decodes the EntryID of an address book object
func DecodeAddressBookEntryID(buf []byte) (*AddressBookEntryID, error) {
	a := &AddressBookEntryID{}
	n, err := a.Unmarshal(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, trailingBytes("AddressBookEntryID", n, len(buf))
	}
	return a, nil
}

func trailingBytes(structure string, used, size int) error {
	return &DecodeError{Structure: structure, Field: "(end)", Offset: used,
		Err: fmt.Errorf("%d trailing bytes", size-used)}
}
