package mapi

import (
	"github.com/sensepost/exconform/utils"
)

//ConnectRequest struct
type ConnectRequest struct {
	UserDN            []byte
	Flags             uint32
	DefaultCodePage   uint32
	LcidSort          uint32
	LcidString        uint32
	AuxilliaryBufSize uint32
	AuxilliaryBuf     []byte
}

//ConnectResponse struct
type ConnectResponse struct {
	StatusCode        uint32 //non-zero means only the auxilliary buffer follows
	ErrorCode         uint32
	PollsMax          uint32
	RetryCount        uint32
	RetryDelay        uint32
	DNPrefix          []byte //ASCII
	DisplayName       []byte //Unicode
	AuxilliaryBufSize uint32
	AuxilliaryBuf     []byte
}

//DisconnectRequest structure
type DisconnectRequest struct {
	AuxilliaryBufSize uint32
	AuxilliaryBuf     []byte
}

//ExecuteRequest struct
type ExecuteRequest struct {
	Flags             uint32
	RopBufferSize     uint32
	RopBuffer         ROPBuffer
	MaxRopOut         uint32
	AuxilliaryBufSize uint32
	AuxilliaryBuf     []byte
}

//ExecuteResponse struct
type ExecuteResponse struct {
	StatusCode        uint32 //non-zero means only the auxilliary buffer follows
	ErrorCode         uint32
	Flags             uint32
	RopBufferSize     uint32
	RopBuffer         []byte
	AuxilliaryBufSize uint32
	AuxilliaryBuf     []byte
}

//RPCHeader is the RPC_HEADER_EXT in front of every rop buffer
type RPCHeader struct {
	Version    uint16 //always 0x0000
	Flags      uint16 //0x0001 Compressed, 0x0002 XorMagic, 0x0004 Last
	Size       uint16
	SizeActual uint16
}

//ROPBuffer struct
type ROPBuffer struct {
	Header RPCHeader
	ROP    ROP
}

//ROP request
type ROP struct {
	RopSize                 uint16
	RopsList                []byte
	ServerObjectHandleTable []byte
}

//RopRequest is anything that can go into a RopsList
type RopRequest interface {
	Marshal() []byte
}

//RopResponse decodes itself from the start of resp and returns the bytes consumed
type RopResponse interface {
	Unmarshal(resp []byte) (int, error)
}

//RopLogonRequest struct
type RopLogonRequest struct {
	RopID             uint8 //0xfe
	LogonID           uint8
	OutputHandleIndex uint8
	LogonFlags        uint8
	OpenFlags         uint32
	StoreState        uint32
	EssdnSize         uint16
	Essdn             []byte
}

//RopLogonResponse struct for a private mailbox logon
type RopLogonResponse struct {
	RopID             uint8
	OutputHandleIndex uint8
	ReturnValue       uint32
	LogonFlags        uint8
	FolderIds         []byte
	ResponseFlags     uint8
	MailboxGUID       []byte
	RepID             []byte
	ReplGUID          []byte
	LogonTime         []byte
	GwartTime         []byte
	StoreState        []byte
}

//RopReleaseRequest struct
type RopReleaseRequest struct {
	RopID            uint8 //0x01
	LogonID          uint8
	InputHandleIndex uint8
}

//RopOpenFolderRequest struct
type RopOpenFolderRequest struct {
	RopID             uint8 //0x02
	LogonID           uint8
	InputHandleIndex  uint8
	OutputHandleIndex uint8
	FolderID          []byte
	OpenModeFlags     uint8
}

//RopOpenFolderResponse struct
type RopOpenFolderResponse struct {
	RopID             uint8
	OutputHandleIndex uint8
	ReturnValue       uint32
	HasRules          uint8
	IsGhosted         uint8
	ServerCount       uint16
	CheapServerCount  uint16
	Servers           [][]byte
}

//RopOpenMessageRequest struct
type RopOpenMessageRequest struct {
	RopID             uint8 //0x03
	LogonID           uint8
	InputHandleIndex  uint8
	OutputHandleIndex uint8
	CodePageID        uint16
	FolderID          []byte
	OpenModeFlags     uint8
	MessageID         []byte
}

//RopOpenMessageResponse struct, recipient rows are kept raw
type RopOpenMessageResponse struct {
	RopID              uint8
	OutputHandleIndex  uint8
	ReturnValue        uint32
	HasNamedProperties uint8
	SubjectPrefix      TypedString
	NormalizedSubject  TypedString
	RecipientCount     uint16
	ColumnCount        uint16
	RecipientColumns   []PropertyTag
	RowCount           uint8
	RecipientRows      [][]byte
}

//TypedString is a string prefixed with its encoding
type TypedString struct {
	StringType uint8
	String     []byte
}

//RopGetContentsTableRequest struct
type RopGetContentsTableRequest struct {
	RopID             uint8 //0x05
	LogonID           uint8
	InputHandleIndex  uint8
	OutputHandleIndex uint8
	TableFlags        uint8
}

//RopGetContentsTableResponse struct
type RopGetContentsTableResponse struct {
	RopID             uint8
	OutputHandleIndex uint8
	ReturnValue       uint32
	RowCount          uint32
}

//RopCreateMessageRequest struct
type RopCreateMessageRequest struct {
	RopID             uint8 //0x06
	LogonID           uint8
	InputHandleIndex  uint8
	OutputHandleIndex uint8
	CodePageID        uint16
	FolderID          []byte
	AssociatedFlag    uint8
}

//RopCreateMessageResponse struct
type RopCreateMessageResponse struct {
	RopID             uint8
	OutputHandleIndex uint8
	ReturnValue       uint32
	HasMessageID      uint8
	MessageID         []byte
}

//RopGetPropertiesAllRequest struct
type RopGetPropertiesAllRequest struct {
	RopID             uint8 //0x08
	LogonID           uint8
	InputHandleIndex  uint8
	PropertySizeLimit uint16
	WantUnicode       uint16
}

//RopGetPropertiesAllResponse struct
type RopGetPropertiesAllResponse struct {
	RopID              uint8
	InputHandleIndex   uint8
	ReturnValue        uint32
	PropertyValueCount uint16
	PropertyValues     []TaggedPropertyValue
}

//RopSetPropertiesRequest struct
type RopSetPropertiesRequest struct {
	RopID              uint8 //0x0A
	LogonID            uint8
	InputHandleIndex   uint8
	PropertyValueSize  uint16
	PropertyValueCount uint16
	PropertyValues     []TaggedPropertyValue
}

//RopSetPropertiesResponse struct
type RopSetPropertiesResponse struct {
	RopID                uint8
	InputHandleIndex     uint8
	ReturnValue          uint32
	PropertyProblemCount uint16
	PropertyProblems     []PropertyProblem
}

//PropertyProblem reports a property the server would not set
type PropertyProblem struct {
	Index       uint16
	PropertyTag PropertyTag
	ErrorCode   uint32
}

//RopSaveChangesMessageRequest struct
type RopSaveChangesMessageRequest struct {
	RopID               uint8 //0x0C
	LogonID             uint8
	ResponseHandleIndex uint8
	InputHandleIndex    uint8
	SaveFlags           uint8
}

//RopSaveChangesMessageResponse struct
type RopSaveChangesMessageResponse struct {
	RopID               uint8
	ResponseHandleIndex uint8
	ReturnValue         uint32
	InputHandleIndex    uint8
	MessageID           []byte
}

//RopSetColumnsRequest struct
type RopSetColumnsRequest struct {
	RopID            uint8 //0x12
	LogonID          uint8
	InputHandleIndex uint8
	SetColumnsFlags  uint8
	PropertyTagCount uint16
	PropertyTags     []PropertyTag
}

//RopSetColumnsResponse struct
type RopSetColumnsResponse struct {
	RopID            uint8
	InputHandleIndex uint8
	ReturnValue      uint32
	TableStatus      uint8
}

//RopQueryRowsRequest struct
type RopQueryRowsRequest struct {
	RopID            uint8 //0x15
	LogonID          uint8
	InputHandleIndex uint8
	QueryRowsFlags   uint8
	ForwardRead      uint8
	RowCount         uint16
}

//RopQueryRowsResponse struct, Columns has to be set before Unmarshal
type RopQueryRowsResponse struct {
	RopID            uint8
	InputHandleIndex uint8
	ReturnValue      uint32
	Origin           uint8
	RowCount         uint16
	RowData          []PropertyRow
	Columns          []PropertyTag
}

//RopDeleteMessagesRequest struct
type RopDeleteMessagesRequest struct {
	RopID            uint8 //0x1E
	LogonID          uint8
	InputHandleIndex uint8
	WantAsynchronous uint8
	NotifyNonRead    uint8
	MessageIDCount   uint16
	MessageIDs       []byte
}

//RopDeleteMessagesResponse struct
type RopDeleteMessagesResponse struct {
	RopID             uint8
	InputHandleIndex  uint8
	ReturnValue       uint32
	PartialCompletion uint8
}

//RopGetRulesTableRequest struct
type RopGetRulesTableRequest struct {
	RopID             uint8 //0x3F
	LogonID           uint8
	InputHandleIndex  uint8
	OutputHandleIndex uint8
	TableFlags        uint8
}

//RopGetRulesTableResponse struct
type RopGetRulesTableResponse struct {
	RopID             uint8
	OutputHandleIndex uint8
	ReturnValue       uint32
}

//RopModifyRulesRequest struct
type RopModifyRulesRequest struct {
	RopID            uint8 //0x41
	LogonID          uint8
	InputHandleIndex uint8
	ModifyRulesFlag  uint8
	RulesCount       uint16
	RulesData        []RuleData
}

//RopModifyRulesResponse struct
type RopModifyRulesResponse struct {
	RopID            uint8
	InputHandleIndex uint8
	ReturnValue      uint32
}

//RuleData is one add, modify or remove inside RopModifyRules
type RuleData struct {
	RuleDataFlags      uint8
	PropertyValueCount uint16
	PropertyValues     []TaggedPropertyValue
}

//RopLongTermIDFromIDRequest struct
type RopLongTermIDFromIDRequest struct {
	RopID            uint8 //0x43
	LogonID          uint8
	InputHandleIndex uint8
	ObjectID         []byte
}

//RopLongTermIDFromIDResponse struct
type RopLongTermIDFromIDResponse struct {
	RopID            uint8
	InputHandleIndex uint8
	ReturnValue      uint32
	LongTermID       LongTermID
}

//Marshal turn ExecuteRequest into Bytes
func (execRequest ExecuteRequest) Marshal() []byte {
	execRequest.CalcSizes()
	return utils.BodyToBytes(execRequest)
}

//Marshal turn ConnectRequest into Bytes
func (connRequest ConnectRequest) Marshal() []byte {
	return utils.BodyToBytes(connRequest)
}

//Marshal turn DisconnectRequest into Bytes
func (disconnectRequest DisconnectRequest) Marshal() []byte {
	return utils.BodyToBytes(disconnectRequest)
}

//Marshal turn RopLogonRequest into Bytes
func (logonRequest RopLogonRequest) Marshal() []byte {
	return utils.BodyToBytes(logonRequest)
}

//Marshal turn RopReleaseRequest into Bytes
func (releaseRequest RopReleaseRequest) Marshal() []byte {
	return utils.BodyToBytes(releaseRequest)
}

//Marshal turn RopOpenFolderRequest into Bytes
func (openFolder RopOpenFolderRequest) Marshal() []byte {
	return utils.BodyToBytes(openFolder)
}

//Marshal turn RopOpenMessageRequest into Bytes
func (openMessage RopOpenMessageRequest) Marshal() []byte {
	return utils.BodyToBytes(openMessage)
}

//Marshal turn RopGetContentsTableRequest into Bytes
func (getContents RopGetContentsTableRequest) Marshal() []byte {
	return utils.BodyToBytes(getContents)
}

//Marshal turn RopCreateMessageRequest into Bytes
func (createMessage RopCreateMessageRequest) Marshal() []byte {
	return utils.BodyToBytes(createMessage)
}

//Marshal turn RopGetPropertiesAllRequest into Bytes
func (getProps RopGetPropertiesAllRequest) Marshal() []byte {
	return utils.BodyToBytes(getProps)
}

//Marshal turn RopSetPropertiesRequest into Bytes, the size and count are derived from the values
func (setProperties RopSetPropertiesRequest) Marshal() []byte {
	values := []byte{}
	for _, p := range setProperties.PropertyValues {
		values = append(values, p.Marshal()...)
	}
	setProperties.PropertyValueCount = uint16(len(setProperties.PropertyValues))
	setProperties.PropertyValueSize = uint16(len(values) + 2)
	b := []byte{setProperties.RopID, setProperties.LogonID, setProperties.InputHandleIndex}
	b = append(b, utils.EncodeNum(setProperties.PropertyValueSize)...)
	b = append(b, utils.EncodeNum(setProperties.PropertyValueCount)...)
	return append(b, values...)
}

//Marshal turn RopSaveChangesMessageRequest into Bytes
func (saveMessage RopSaveChangesMessageRequest) Marshal() []byte {
	return utils.BodyToBytes(saveMessage)
}

//Marshal to turn the RopSetColumnsRequest into bytes
func (setColumns RopSetColumnsRequest) Marshal() []byte {
	setColumns.PropertyTagCount = uint16(len(setColumns.PropertyTags))
	return utils.BodyToBytes(setColumns)
}

//Marshal turn the RopQueryRowsRequest into bytes
func (queryRows RopQueryRowsRequest) Marshal() []byte {
	return utils.BodyToBytes(queryRows)
}

//Marshal turn RopDeleteMessagesRequest into Bytes
func (deleteMessages RopDeleteMessagesRequest) Marshal() []byte {
	return utils.BodyToBytes(deleteMessages)
}

//Marshal turn RopGetRulesTableRequest into Bytes
func (getRules RopGetRulesTableRequest) Marshal() []byte {
	return utils.BodyToBytes(getRules)
}

//Marshal turn RopModifyRulesRequest into Bytes
func (modRules RopModifyRulesRequest) Marshal() []byte {
	modRules.RulesCount = uint16(len(modRules.RulesData))
	b := []byte{modRules.RopID, modRules.LogonID, modRules.InputHandleIndex, modRules.ModifyRulesFlag}
	b = append(b, utils.EncodeNum(modRules.RulesCount)...)
	for _, rd := range modRules.RulesData {
		b = append(b, rd.Marshal()...)
	}
	return b
}

//Marshal turn RuleData into Bytes
func (ruleData RuleData) Marshal() []byte {
	b := []byte{ruleData.RuleDataFlags}
	b = append(b, utils.COUNT(len(ruleData.PropertyValues))...)
	for _, p := range ruleData.PropertyValues {
		b = append(b, p.Marshal()...)
	}
	return b
}

//Marshal turn RopLongTermIDFromIDRequest into Bytes
func (ltid RopLongTermIDFromIDRequest) Marshal() []byte {
	return utils.BodyToBytes(ltid)
}

//CalcSizes func to calculate the different size fields in the ROP buffer
func (execRequest *ExecuteRequest) CalcSizes() {
	execRequest.RopBuffer.ROP.RopSize = uint16(len(execRequest.RopBuffer.ROP.RopsList) + 2)
	execRequest.RopBuffer.Header.Size = uint16(len(utils.BodyToBytes(execRequest.RopBuffer.ROP)))
	execRequest.RopBuffer.Header.SizeActual = execRequest.RopBuffer.Header.Size
	execRequest.RopBufferSize = uint32(len(utils.BodyToBytes(execRequest.RopBuffer)))
	execRequest.AuxilliaryBufSize = uint32(len(execRequest.AuxilliaryBuf))
}

//Init function to create a base ExecuteRequest object
func (execRequest *ExecuteRequest) Init() {
	execRequest.Flags = execFlagsNoCompression | execFlagsNoXorMagic
	execRequest.RopBuffer.Header.Version = 0x0000
	execRequest.RopBuffer.Header.Flags = ropFlagsChain
	execRequest.MaxRopOut = 0x40000
}

//Unmarshal function to convert response into ConnectResponse struct
func (connResponse *ConnectResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("ConnectResponse", resp)
	connResponse.StatusCode = d.uint32("StatusCode")
	if connResponse.StatusCode == 0 {
		connResponse.ErrorCode = d.uint32("ErrorCode")
		connResponse.PollsMax = d.uint32("MaxPollingInterval")
		connResponse.RetryCount = d.uint32("RetryCount")
		connResponse.RetryDelay = d.uint32("RetryDelay")
		connResponse.DNPrefix = d.asciiString("DnPrefix")
		connResponse.DisplayName = d.unicodeString("DisplayName")
	}
	connResponse.AuxilliaryBufSize = d.uint32("AuxiliaryBufferSize")
	connResponse.AuxilliaryBuf = d.bytes("AuxiliaryBuffer", int(connResponse.AuxilliaryBufSize))
	return d.pos, d.err
}

//Unmarshal func
func (execResponse *ExecuteResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("ExecuteResponse", resp)
	execResponse.StatusCode = d.uint32("StatusCode")
	if execResponse.StatusCode == 0 {
		execResponse.ErrorCode = d.uint32("ErrorCode")
		execResponse.Flags = d.uint32("Flags")
		execResponse.RopBufferSize = d.uint32("RopBufferSize")
		execResponse.RopBuffer = d.bytes("RopBuffer", int(execResponse.RopBufferSize))
	}
	execResponse.AuxilliaryBufSize = d.uint32("AuxiliaryBufferSize")
	execResponse.AuxilliaryBuf = d.bytes("AuxiliaryBuffer", int(execResponse.AuxilliaryBufSize))
	return d.pos, d.err
}

//payload strips the RPC_HEADER_EXT, undoing the XOR obfuscation when flagged
func (execResponse *ExecuteResponse) payload() ([]byte, error) {
	d := newDecoder("RopBuffer", execResponse.RopBuffer)
	hdr := RPCHeader{}
	hdr.Version = d.uint16("Version")
	hdr.Flags = d.uint16("Flags")
	hdr.Size = d.uint16("Size")
	hdr.SizeActual = d.uint16("SizeActual")
	body := d.take("Payload", int(hdr.Size))
	if d.err != nil {
		return nil, d.err
	}
	if hdr.Flags&ropFlagsCompression != 0 {
		return nil, ErrCompressed
	}
	if hdr.Flags&ropFlagsXorMagic != 0 {
		return utils.Obfuscate(body), nil
	}
	return body, nil
}

//Rops returns the rop responses of the first buffer
func (execResponse *ExecuteResponse) Rops() ([]byte, error) {
	body, err := execResponse.payload()
	if err != nil {
		return nil, err
	}
	d := newDecoder("ROP", body)
	size := d.uint16("RopSize")
	rops := d.take("RopsList", int(size)-2)
	return rops, d.err
}

//HandleTable returns the ServerObjectHandleTable following the rop responses
func (execResponse *ExecuteResponse) HandleTable() ([]uint32, error) {
	body, err := execResponse.payload()
	if err != nil {
		return nil, err
	}
	d := newDecoder("ROP", body)
	size := d.uint16("RopSize")
	d.take("RopsList", int(size)-2)
	handles := []uint32{}
	for d.err == nil && d.remaining() >= 4 {
		handles = append(handles, d.uint32("ServerObjectHandle"))
	}
	return handles, d.err
}

//ropHeader reads RopId, the handle index and ReturnValue, common to every response.
//A non-zero ReturnValue ends the response there and is returned as a ReturnValueError.
func ropHeader(d *decoder, expect uint8) (uint8, uint8, uint32, error) {
	id := d.uint8("RopId")
	idx := d.uint8("HandleIndex")
	rv := d.uint32("ReturnValue")
	if d.err != nil {
		return id, idx, rv, d.err
	}
	if id != expect {
		d.failf("RopId", "expected %s got %s", ropName(expect), ropName(id))
		return id, idx, rv, d.err
	}
	if rv != 0 {
		return id, idx, rv, &ReturnValueError{RopID: id, Code: rv}
	}
	return id, idx, rv, nil
}

//Unmarshal function to produce RopLogonResponse struct
func (logonResponse *RopLogonResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopLogonResponse", resp)
	var err error
	if logonResponse.RopID, logonResponse.OutputHandleIndex, logonResponse.ReturnValue, err = ropHeader(d, RopLogon); err != nil {
		return d.pos, err
	}
	logonResponse.LogonFlags = d.uint8("LogonFlags")
	logonResponse.FolderIds = d.bytes("FolderIds", 13*8)
	logonResponse.ResponseFlags = d.uint8("ResponseFlags")
	logonResponse.MailboxGUID = d.bytes("MailboxGuid", 16)
	logonResponse.RepID = d.bytes("ReplId", 2)
	logonResponse.ReplGUID = d.bytes("ReplGuid", 16)
	logonResponse.LogonTime = d.bytes("LogonTime", 8)
	logonResponse.GwartTime = d.bytes("GwartTime", 8)
	logonResponse.StoreState = d.bytes("StoreState", 4)
	return d.pos, d.err
}

//FolderID returns the id of one of the special folders
func (logonResponse *RopLogonResponse) FolderID(idx int) []byte {
	if idx < 0 || (idx+1)*8 > len(logonResponse.FolderIds) {
		return nil
	}
	return logonResponse.FolderIds[idx*8 : (idx+1)*8]
}

//Unmarshal func
func (openFolder *RopOpenFolderResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopOpenFolderResponse", resp)
	var err error
	if openFolder.RopID, openFolder.OutputHandleIndex, openFolder.ReturnValue, err = ropHeader(d, RopOpenFolder); err != nil {
		return d.pos, err
	}
	openFolder.HasRules = d.uint8("HasRules")
	openFolder.IsGhosted = d.uint8("IsGhosted")
	if openFolder.IsGhosted != 0 {
		openFolder.ServerCount = d.uint16("ServerCount")
		openFolder.CheapServerCount = d.uint16("CheapServerCount")
		for i := 0; i < int(openFolder.ServerCount) && d.err == nil; i++ {
			openFolder.Servers = append(openFolder.Servers, d.asciiString("Servers"))
		}
	}
	return d.pos, d.err
}

func readTypedString(d *decoder) TypedString {
	ts := TypedString{StringType: d.uint8("StringType")}
	switch ts.StringType {
	case 0x00, 0x01:
	case 0x02, 0x03:
		ts.String = d.asciiString("String")
	case 0x04:
		ts.String = d.unicodeString("String")
	default:
		d.failf("StringType", "unknown string type 0x%02X", ts.StringType)
	}
	return ts
}

//Text decodes the string whatever its StringType
func (ts TypedString) Text() string {
	if ts.StringType == 0x04 {
		return utils.FromUnicode(ts.String)
	}
	return utils.FromASCII(ts.String)
}

//Unmarshal func
func (openMessage *RopOpenMessageResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopOpenMessageResponse", resp)
	var err error
	if openMessage.RopID, openMessage.OutputHandleIndex, openMessage.ReturnValue, err = ropHeader(d, RopOpenMessage); err != nil {
		return d.pos, err
	}
	openMessage.HasNamedProperties = d.uint8("HasNamedProperties")
	openMessage.SubjectPrefix = readTypedString(d)
	openMessage.NormalizedSubject = readTypedString(d)
	openMessage.RecipientCount = d.uint16("RecipientCount")
	openMessage.ColumnCount = d.uint16("ColumnCount")
	for i := 0; i < int(openMessage.ColumnCount) && d.err == nil; i++ {
		openMessage.RecipientColumns = append(openMessage.RecipientColumns, readTag(d))
	}
	openMessage.RowCount = d.uint8("RowCount")
	for i := 0; i < int(openMessage.RowCount) && d.err == nil; i++ {
		//RecipientType(1) CodePageId(2) Reserved(2) RecipientRowSize(2) RecipientRow
		row := d.take("RecipientRowHeader", 5)
		size := d.uint16("RecipientRowSize")
		recipient := d.bytes("RecipientRow", int(size))
		if d.err == nil {
			openMessage.RecipientRows = append(openMessage.RecipientRows, append(append([]byte(nil), row...), recipient...))
		}
	}
	return d.pos, d.err
}

//Unmarshal func
func (ropContents *RopGetContentsTableResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopGetContentsTableResponse", resp)
	var err error
	if ropContents.RopID, ropContents.OutputHandleIndex, ropContents.ReturnValue, err = ropHeader(d, RopGetContentsTable); err != nil {
		return d.pos, err
	}
	ropContents.RowCount = d.uint32("RowCount")
	return d.pos, d.err
}

//Unmarshal func
func (createMessageResponse *RopCreateMessageResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopCreateMessageResponse", resp)
	var err error
	if createMessageResponse.RopID, createMessageResponse.OutputHandleIndex, createMessageResponse.ReturnValue, err = ropHeader(d, RopCreateMessage); err != nil {
		return d.pos, err
	}
	createMessageResponse.HasMessageID = d.uint8("HasMessageId")
	if createMessageResponse.HasMessageID != 0 {
		createMessageResponse.MessageID = d.bytes("MessageId", 8)
	}
	return d.pos, d.err
}

//Unmarshal func
func (getProps *RopGetPropertiesAllResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopGetPropertiesAllResponse", resp)
	var err error
	if getProps.RopID, getProps.InputHandleIndex, getProps.ReturnValue, err = ropHeader(d, RopGetPropertiesAll); err != nil {
		return d.pos, err
	}
	getProps.PropertyValueCount = d.uint16("PropertyValueCount")
	for i := 0; i < int(getProps.PropertyValueCount) && d.err == nil; i++ {
		getProps.PropertyValues = append(getProps.PropertyValues, readTaggedValue(d, 2))
	}
	return d.pos, d.err
}

//Get returns the property with the tag
func (getProps *RopGetPropertiesAllResponse) Get(tag PropertyTag) (TaggedPropertyValue, bool) {
	for _, p := range getProps.PropertyValues {
		if p.PropertyTag == tag {
			return p, true
		}
	}
	return TaggedPropertyValue{}, false
}

//Unmarshal func
func (setProps *RopSetPropertiesResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopSetPropertiesResponse", resp)
	var err error
	if setProps.RopID, setProps.InputHandleIndex, setProps.ReturnValue, err = ropHeader(d, RopSetProperties); err != nil {
		return d.pos, err
	}
	setProps.PropertyProblemCount = d.uint16("PropertyProblemCount")
	for i := 0; i < int(setProps.PropertyProblemCount) && d.err == nil; i++ {
		pp := PropertyProblem{Index: d.uint16("Index")}
		pp.PropertyTag = readTag(d)
		pp.ErrorCode = d.uint32("ErrorCode")
		setProps.PropertyProblems = append(setProps.PropertyProblems, pp)
	}
	return d.pos, d.err
}

//Unmarshal func
func (saveMessage *RopSaveChangesMessageResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopSaveChangesMessageResponse", resp)
	var err error
	if saveMessage.RopID, saveMessage.ResponseHandleIndex, saveMessage.ReturnValue, err = ropHeader(d, RopSaveChangesMessage); err != nil {
		return d.pos, err
	}
	saveMessage.InputHandleIndex = d.uint8("InputHandleIndex")
	saveMessage.MessageID = d.bytes("MessageId", 8)
	return d.pos, d.err
}

//Unmarshal func
func (setColumns *RopSetColumnsResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopSetColumnsResponse", resp)
	var err error
	if setColumns.RopID, setColumns.InputHandleIndex, setColumns.ReturnValue, err = ropHeader(d, RopSetColumns); err != nil {
		return d.pos, err
	}
	setColumns.TableStatus = d.uint8("TableStatus")
	return d.pos, d.err
}

//Unmarshal func, the rows are decoded with the Columns of the response
func (queryRows *RopQueryRowsResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopQueryRowsResponse", resp)
	var err error
	if queryRows.RopID, queryRows.InputHandleIndex, queryRows.ReturnValue, err = ropHeader(d, RopQueryRows); err != nil {
		return d.pos, err
	}
	queryRows.Origin = d.uint8("Origin")
	queryRows.RowCount = d.uint16("RowCount")
	for i := 0; i < int(queryRows.RowCount) && d.err == nil; i++ {
		queryRows.RowData = append(queryRows.RowData, readPropertyRow(d, queryRows.Columns))
	}
	return d.pos, d.err
}

//Unmarshal func
func (deleteMessages *RopDeleteMessagesResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopDeleteMessagesResponse", resp)
	var err error
	if deleteMessages.RopID, deleteMessages.InputHandleIndex, deleteMessages.ReturnValue, err = ropHeader(d, RopDeleteMessages); err != nil {
		return d.pos, err
	}
	deleteMessages.PartialCompletion = d.uint8("PartialCompletion")
	return d.pos, d.err
}

//Unmarshal func
func (getRules *RopGetRulesTableResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopGetRulesTableResponse", resp)
	var err error
	getRules.RopID, getRules.OutputHandleIndex, getRules.ReturnValue, err = ropHeader(d, RopGetRulesTable)
	return d.pos, err
}

//Unmarshal func
func (modRules *RopModifyRulesResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopModifyRulesResponse", resp)
	var err error
	modRules.RopID, modRules.InputHandleIndex, modRules.ReturnValue, err = ropHeader(d, RopModifyRules)
	return d.pos, err
}

//Unmarshal func
func (ltid *RopLongTermIDFromIDResponse) Unmarshal(resp []byte) (int, error) {
	d := newDecoder("RopLongTermIdFromIdResponse", resp)
	var err error
	if ltid.RopID, ltid.InputHandleIndex, ltid.ReturnValue, err = ropHeader(d, RopLongTermIDFromID); err != nil {
		return d.pos, err
	}
	ltid.LongTermID.DatabaseGUID = d.bytes("DatabaseGuid", 16)
	ltid.LongTermID.GlobalCounter = d.bytes("GlobalCounter", 6)
	ltid.LongTermID.Pad = d.uint16("Pad")
	return d.pos, d.err
}
