package mapi

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sensepost/exconform/http-ntlm"
	"github.com/sensepost/exconform/utils"
)

const (
	clientInfo        = "{2F94A2BF-A2E6-4CCC-BF98-B5F22C542226}"
	requestIDPrefix   = "{C715155F-2BE8-44E0-BD34-2960065754C8}"
	clientApplication = "Outlook/15.0.4815.1002"
	unusedHandle      = 0xFFFFFFFF
)

//Client is a MAPI/HTTP session against a single mailbox
type Client struct {
	URL      *url.URL
	LegacyDN string
	//ABKURL is the NSPI endpoint of the address book, EntryIDs are built from LegacyDN when nil
	ABKURL *url.URL
	//Server is the short name used in Store Object EntryIDs, the first label of the URL host when empty
	Server  string
	Session *utils.Session

	http          *http.Client
	reqCounter    int
	logonID       uint8
	logonHandle   uint32
	authenticated bool
	abkBound      bool
	logon         *RopLogonResponse
	connect       *ConnectResponse
}

//ExtractMapiURL extract the External mapi url from the autodiscover response
func ExtractMapiURL(resp *utils.AutodiscoverResp) string {
	for _, v := range resp.Response.Account.Protocol {
		if v.TypeAttr == "mapiHttp" {
			if v.MailStore.ExternalUrl != "" {
				return v.MailStore.ExternalUrl
			}
			return v.MailStore.InternalUrl
		}
	}
	return ""
}

//NewClient sets up the http client for a MAPI/HTTP session, nothing is sent until Authenticate
func NewClient(sess *utils.Session, mapiURL, legacyDN string) (*Client, error) {
	u, err := url.Parse(mapiURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid mapi url %q", mapiURL)
	}
	if legacyDN == "" {
		return nil, fmt.Errorf("a LegacyDN is required for the MAPI logon")
	}
	hc, err := httpntlm.NewClient(sess, nil)
	if err != nil {
		return nil, err
	}
	return &Client{URL: u, LegacyDN: legacyDN, Session: sess, http: hc, logonID: 0x8F}, nil
}

func (c *Client) addMapiHeaders(req *http.Request, mapiType string) {
	c.reqCounter++
	req.Header.Set("Content-Type", "application/mapi-http")
	req.Header.Set("X-RequestType", mapiType)
	req.Header.Set("X-User-Identity", c.Session.Email)
	req.Header.Set("X-RequestId", fmt.Sprintf("%s:%d", requestIDPrefix, c.reqCounter))
	req.Header.Set("X-ClientInfo", clientInfo)
	req.Header.Set("X-ClientApplication", clientApplication)
	if c.Session.UserAgent != "" {
		req.Header.Set("User-Agent", c.Session.UserAgent)
	}
	if c.Session.Basic {
		req.SetBasicAuth(c.Session.BasicUser(), c.Session.Pass)
	}
}

//mapiRequestHTTP posts one MAPI/HTTP request to the mailbox endpoint
func (c *Client) mapiRequestHTTP(mapiType string, body []byte) ([]byte, error) {
	return c.post(c.URL, mapiType, body)
}

//post sends one MAPI/HTTP request and returns the body after the meta-tags
func (c *Client) post(endpoint *url.URL, mapiType string, body []byte) ([]byte, error) {
	req, err := http.NewRequest("POST", endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{err}
	}
	c.addMapiHeaders(req, mapiType)
	utils.Debug.Printf("%s request\n%s", mapiType, hex.Dump(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{err}
	}
	defer resp.Body.Close()
	rbody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{fmt.Errorf("%s returned HTTP %d", mapiType, resp.StatusCode)}
	}
	responseBody, err := readResponse(resp.Header, rbody)
	if err != nil {
		return nil, err
	}
	utils.Debug.Printf("%s response\n%s", mapiType, hex.Dump(responseBody))
	return responseBody, nil
}

func readResponse(headers http.Header, body []byte) ([]byte, error) {
	//check to see that the response code was 0, which indicates protocol success
	if code := headers.Get("X-ResponseCode"); code != "0" {
		return nil, &TransportError{fmt.Errorf("Got a protocol error response: %s", code)}
	}
	//The body is made of
	// <META-TAGS>       PROCESSING / PENDING lines, ending with DONE
	// <ADDITIONAL HEADERS>
	// <RESPONSE BODY>
	done := bytes.Index(body, []byte("DONE\r\n"))
	if done == -1 {
		return nil, &TransportError{fmt.Errorf("response is missing the DONE meta-tag")}
	}
	start := bytes.Index(body[done:], []byte{0x0D, 0x0A, 0x0D, 0x0A})
	if start == -1 {
		return nil, &TransportError{fmt.Errorf("response is missing the end of the additional headers")}
	}
	return body[done+start+4:], nil
}

//Authenticate is used to create the MAPI session, get's session cookie and logs on to the mailbox
func (c *Client) Authenticate() (*RopLogonResponse, error) {
	connRequest := ConnectRequest{}
	connRequest.UserDN = append([]byte(c.LegacyDN), 0x00)
	connRequest.Flags = uFlagsUser
	connRequest.DefaultCodePage = 1252
	connRequest.LcidSort = 1033
	connRequest.LcidString = 1033

	responseBody, err := c.mapiRequestHTTP("Connect", connRequest.Marshal())
	if err != nil {
		return nil, err
	}
	connResponse := ConnectResponse{}
	if _, err := connResponse.Unmarshal(responseBody); err != nil {
		return nil, err
	}
	if connResponse.StatusCode != 0 {
		return nil, fmt.Errorf("connect failed with status %d: %w", connResponse.StatusCode, ErrUnknown)
	}
	if connResponse.ErrorCode != 0 {
		return nil, fmt.Errorf("connect failed: %s", ErrorCodeName(connResponse.ErrorCode))
	}
	c.connect = &connResponse
	utils.Trace.Println("User DN: ", c.LegacyDN)
	utils.Trace.Println("Got Context, Doing ROPLogin")
	return c.logonMailbox()
}

//logonMailbox is step two of the authentication, RopLogon to the private mailbox
func (c *Client) logonMailbox() (*RopLogonResponse, error) {
	logonBody := RopLogonRequest{RopID: RopLogon, LogonID: c.logonID}
	logonBody.OutputHandleIndex = 0x00
	logonBody.LogonFlags = 0x01
	logonBody.OpenFlags = UserPerMdbReplidMapping | HomeLogon | TakeOwnership
	logonBody.StoreState = 0
	logonBody.Essdn = append([]byte(c.LegacyDN), 0x00)
	logonBody.EssdnSize = uint16(len(logonBody.Essdn))

	execResponse, rops, err := c.execute([]uint32{unusedHandle}, logonBody)
	if err != nil {
		return nil, err
	}
	logonResponse := RopLogonResponse{}
	if _, err := logonResponse.Unmarshal(rops); err != nil {
		return nil, err
	}
	handles, err := execResponse.HandleTable()
	if err != nil {
		return nil, err
	}
	if int(logonResponse.OutputHandleIndex) >= len(handles) {
		return nil, fmt.Errorf("RopLogon returned no server object handle")
	}
	c.logonHandle = handles[logonResponse.OutputHandleIndex]
	c.logon = &logonResponse
	c.authenticated = true
	return &logonResponse, nil
}

//Disconnect function to be nice and disconnect us from the server
func (c *Client) Disconnect() error {
	if err := c.UnbindAddressBook(); err != nil {
		utils.Warning.Printf("Address book Unbind failed: %s", err)
	}
	if !c.authenticated {
		return nil
	}
	utils.Trace.Println("And disconnecting from server")
	c.authenticated = false
	if _, err := c.mapiRequestHTTP("Disconnect", DisconnectRequest{}.Marshal()); err != nil {
		return err
	}
	return nil
}

//DisplayName is the mailbox owner's name returned by Connect
func (c *Client) DisplayName() string {
	if c.connect == nil {
		return ""
	}
	return utils.FromUnicode(c.connect.DisplayName)
}

//execute sends the rops in a single Execute request and returns the response with its rop buffer
func (c *Client) execute(handles []uint32, rops ...RopRequest) (*ExecuteResponse, []byte, error) {
	execRequest := ExecuteRequest{}
	execRequest.Init()
	execRequest.RopBuffer.ROP.RopsList = buildRops(rops...)
	for _, h := range handles {
		execRequest.RopBuffer.ROP.ServerObjectHandleTable = append(execRequest.RopBuffer.ROP.ServerObjectHandleTable, utils.EncodeNum(h)...)
	}

	rawResp, err := c.mapiRequestHTTP("Execute", execRequest.Marshal())
	if err != nil {
		return nil, nil, err
	}
	executeResponse := ExecuteResponse{}
	if _, err := executeResponse.Unmarshal(rawResp); err != nil {
		return nil, nil, err
	}
	if executeResponse.StatusCode != 0 {
		return nil, nil, fmt.Errorf("execute failed with status %d: %w", executeResponse.StatusCode, ErrUnknown)
	}
	if executeResponse.ErrorCode != 0 {
		return nil, nil, fmt.Errorf("execute failed: %s", ErrorCodeName(executeResponse.ErrorCode))
	}
	ropsResp, err := executeResponse.Rops()
	if err != nil {
		return nil, nil, err
	}
	return &executeResponse, ropsResp, nil
}

func (c *Client) isAuthenticated() error {
	if !c.authenticated {
		return ErrNotAuthenticated
	}
	return nil
}

func (c *Client) release(idx uint8) RopReleaseRequest {
	return RopReleaseRequest{RopID: RopRelease, LogonID: c.logonID, InputHandleIndex: idx}
}

//FolderID returns the id of a special folder (INBOX, DEFERREDACTION, ...) from the logon
func (c *Client) FolderID(idx int) []byte {
	if c.logon == nil {
		return nil
	}
	return c.logon.FolderID(idx)
}

//MailboxGUID returns the mailbox GUID from the logon
func (c *Client) MailboxGUID() []byte {
	if c.logon == nil {
		return nil
	}
	return c.logon.MailboxGUID
}

//OpenFolder opens a folder and releases it again, HasRules reports whether the folder has rules
func (c *Client) OpenFolder(folderID []byte) (*RopOpenFolderResponse, error) {
	if err := c.isAuthenticated(); err != nil {
		return nil, err
	}
	openFolder := RopOpenFolderRequest{RopID: RopOpenFolder, LogonID: c.logonID, InputHandleIndex: 0x00, OutputHandleIndex: 0x01, FolderID: folderID}
	_, rops, err := c.execute([]uint32{c.logonHandle, unusedHandle}, openFolder, c.release(0x01))
	if err != nil {
		return nil, err
	}
	openFolderResp := RopOpenFolderResponse{}
	if _, err := openFolderResp.Unmarshal(rops); err != nil {
		return nil, err
	}
	return &openFolderResp, nil
}

//FetchRules function returns rules of the Inbox along with the associated columns
func (c *Client) FetchRules(columns []PropertyTag) (*RopQueryRowsResponse, error) {
	if err := c.isAuthenticated(); err != nil {
		return nil, err
	}
	getRulesTable := RopGetRulesTableRequest{RopID: RopGetRulesTable, LogonID: c.logonID, InputHandleIndex: 0x00, OutputHandleIndex: 0x01, TableFlags: TableUseUnicode}
	setColumns := RopSetColumnsRequest{RopID: RopSetColumns, LogonID: c.logonID, InputHandleIndex: 0x01, PropertyTags: columns}
	queryRows := RopQueryRowsRequest{RopID: RopQueryRows, LogonID: c.logonID, InputHandleIndex: 0x01, ForwardRead: 0x01, RowCount: 0x100}

	_, rops, err := c.execute([]uint32{c.logonHandle, unusedHandle}, getRulesTable, setColumns, queryRows, c.release(0x01))
	if err != nil {
		return nil, err
	}
	rows := RopQueryRowsResponse{Columns: columns}
	if _, err := UnmarshalRops(rops, &RopGetRulesTableResponse{}, &RopSetColumnsResponse{}, &rows); err != nil {
		return nil, err
	}
	return &rows, nil
}

//ModifyRules sends one RopModifyRules against the Inbox rules table
func (c *Client) ModifyRules(flags uint8, rules ...RuleData) error {
	if err := c.isAuthenticated(); err != nil {
		return err
	}
	modRules := RopModifyRulesRequest{RopID: RopModifyRules, LogonID: c.logonID, InputHandleIndex: 0x00, ModifyRulesFlag: flags, RulesData: rules}
	_, rops, err := c.execute([]uint32{c.logonHandle}, modRules)
	if err != nil {
		return err
	}
	_, err = UnmarshalRops(rops, &RopModifyRulesResponse{})
	return err
}

//CreateMessage creates a normal message in a folder
func (c *Client) CreateMessage(folderID []byte, properties []TaggedPropertyValue) (*RopSaveChangesMessageResponse, error) {
	return c.createMessageRequest(folderID, properties, 0)
}

//CreateAssocMessage creates a message that is associated with a folder (FAI)
func (c *Client) CreateAssocMessage(folderID []byte, properties []TaggedPropertyValue) (*RopSaveChangesMessageResponse, error) {
	return c.createMessageRequest(folderID, properties, 1)
}

func (c *Client) createMessageRequest(folderID []byte, properties []TaggedPropertyValue, associated uint8) (*RopSaveChangesMessageResponse, error) {
	if err := c.isAuthenticated(); err != nil {
		return nil, err
	}
	createMessage := RopCreateMessageRequest{RopID: RopCreateMessage, LogonID: c.logonID, InputHandleIndex: 0x00, OutputHandleIndex: 0x01}
	createMessage.CodePageID = 0x0FFF
	createMessage.FolderID = folderID
	createMessage.AssociatedFlag = associated

	setProperties := RopSetPropertiesRequest{RopID: RopSetProperties, LogonID: c.logonID, InputHandleIndex: 0x01, PropertyValues: properties}
	saveMessage := RopSaveChangesMessageRequest{RopID: RopSaveChangesMessage, LogonID: c.logonID, ResponseHandleIndex: 0x02, InputHandleIndex: 0x01, SaveFlags: 0x02}

	_, rops, err := c.execute([]uint32{c.logonHandle, unusedHandle, unusedHandle}, createMessage, setProperties, saveMessage, c.release(0x01))
	if err != nil {
		return nil, err
	}
	setPropertiesResp := RopSetPropertiesResponse{}
	saveMessageResp := RopSaveChangesMessageResponse{}
	if _, err := UnmarshalRops(rops, &RopCreateMessageResponse{}, &setPropertiesResp, &saveMessageResp); err != nil {
		return nil, err
	}
	if setPropertiesResp.PropertyProblemCount != 0 {
		p := setPropertiesResp.PropertyProblems[0]
		return &saveMessageResp, fmt.Errorf("RopSetProperties rejected %d properties, first %s: %s",
			setPropertiesResp.PropertyProblemCount, p.PropertyTag, ErrorCodeName(p.ErrorCode))
	}
	return &saveMessageResp, nil
}

//GetMessageProperties opens a message and returns all of its properties
func (c *Client) GetMessageProperties(folderID, messageID []byte) (*RopGetPropertiesAllResponse, error) {
	if err := c.isAuthenticated(); err != nil {
		return nil, err
	}
	openMessage := RopOpenMessageRequest{RopID: RopOpenMessage, LogonID: c.logonID, InputHandleIndex: 0x00, OutputHandleIndex: 0x01}
	openMessage.CodePageID = 0x0FFF
	openMessage.FolderID = folderID
	openMessage.MessageID = messageID
	getProps := RopGetPropertiesAllRequest{RopID: RopGetPropertiesAll, LogonID: c.logonID, InputHandleIndex: 0x01, WantUnicode: 0x01}

	_, rops, err := c.execute([]uint32{c.logonHandle, unusedHandle}, openMessage, getProps, c.release(0x01))
	if err != nil {
		return nil, err
	}
	props := RopGetPropertiesAllResponse{}
	if _, err := UnmarshalRops(rops, &RopOpenMessageResponse{}, &props); err != nil {
		return nil, err
	}
	return &props, nil
}

//GetTableContents returns the rows of a folder's contents table, or its associated contents table
func (c *Client) GetTableContents(folderID []byte, assoc bool, columns []PropertyTag) (*RopQueryRowsResponse, error) {
	if err := c.isAuthenticated(); err != nil {
		return nil, err
	}
	var tableFlags uint8 = TableUseUnicode
	if assoc {
		tableFlags |= TableAssociated
	}
	openFolder := RopOpenFolderRequest{RopID: RopOpenFolder, LogonID: c.logonID, InputHandleIndex: 0x00, OutputHandleIndex: 0x01, FolderID: folderID}
	contentsTable := RopGetContentsTableRequest{RopID: RopGetContentsTable, LogonID: c.logonID, InputHandleIndex: 0x01, OutputHandleIndex: 0x02, TableFlags: tableFlags}
	setColumns := RopSetColumnsRequest{RopID: RopSetColumns, LogonID: c.logonID, InputHandleIndex: 0x02, PropertyTags: columns}
	queryRows := RopQueryRowsRequest{RopID: RopQueryRows, LogonID: c.logonID, InputHandleIndex: 0x02, ForwardRead: 0x01, RowCount: 0x100}

	_, rops, err := c.execute([]uint32{c.logonHandle, unusedHandle, unusedHandle},
		openFolder, contentsTable, setColumns, queryRows, c.release(0x02), c.release(0x01))
	if err != nil {
		return nil, err
	}
	rows := RopQueryRowsResponse{Columns: columns}
	if _, err := UnmarshalRops(rops, &RopOpenFolderResponse{}, &RopGetContentsTableResponse{}, &RopSetColumnsResponse{}, &rows); err != nil {
		return nil, err
	}
	return &rows, nil
}

//DeleteMessages soft deletes messages from a folder
func (c *Client) DeleteMessages(folderID []byte, messageIDs ...[]byte) error {
	if err := c.isAuthenticated(); err != nil {
		return err
	}
	if len(messageIDs) == 0 {
		return nil
	}
	openFolder := RopOpenFolderRequest{RopID: RopOpenFolder, LogonID: c.logonID, InputHandleIndex: 0x00, OutputHandleIndex: 0x01, FolderID: folderID}
	deleteMessages := RopDeleteMessagesRequest{RopID: RopDeleteMessages, LogonID: c.logonID, InputHandleIndex: 0x01}
	deleteMessages.MessageIDCount = uint16(len(messageIDs))
	for _, mid := range messageIDs {
		deleteMessages.MessageIDs = append(deleteMessages.MessageIDs, mid...)
	}

	_, rops, err := c.execute([]uint32{c.logonHandle, unusedHandle}, openFolder, deleteMessages, c.release(0x01))
	if err != nil {
		return err
	}
	deleteResp := RopDeleteMessagesResponse{}
	if _, err := UnmarshalRops(rops, &RopOpenFolderResponse{}, &deleteResp); err != nil {
		return err
	}
	if deleteResp.PartialCompletion != 0 {
		return fmt.Errorf("RopDeleteMessages only partially completed")
	}
	return nil
}

//LongTermIDFromID converts a folder or message id into its LongTermID
func (c *Client) LongTermIDFromID(objectID []byte) (LongTermID, error) {
	if err := c.isAuthenticated(); err != nil {
		return LongTermID{}, err
	}
	req := RopLongTermIDFromIDRequest{RopID: RopLongTermIDFromID, LogonID: c.logonID, InputHandleIndex: 0x00, ObjectID: objectID}
	_, rops, err := c.execute([]uint32{c.logonHandle}, req)
	if err != nil {
		return LongTermID{}, err
	}
	resp := RopLongTermIDFromIDResponse{}
	if _, err := resp.Unmarshal(rops); err != nil {
		return LongTermID{}, err
	}
	return resp.LongTermID, nil
}

//FolderEntryID builds the Folder EntryID of a special folder
func (c *Client) FolderEntryID(idx int) (FolderEntryID, error) {
	fid := c.FolderID(idx)
	if fid == nil {
		return FolderEntryID{}, ErrNotAuthenticated
	}
	ltid, err := c.LongTermIDFromID(fid)
	if err != nil {
		return FolderEntryID{}, err
	}
	return NewFolderEntryID(c.MailboxGUID(), ltid), nil
}

//MessageEntryID builds the Message EntryID of a message in a folder
func (c *Client) MessageEntryID(folderID, messageID []byte) (MessageEntryID, error) {
	folder, err := c.LongTermIDFromID(folderID)
	if err != nil {
		return MessageEntryID{}, err
	}
	message, err := c.LongTermIDFromID(messageID)
	if err != nil {
		return MessageEntryID{}, err
	}
	return NewMessageEntryID(c.MailboxGUID(), folder, message), nil
}

//StoreEntryID builds the Store Object EntryID of the mailbox
func (c *Client) StoreEntryID() StoreObjectEntryID {
	server := c.Server
	if server == "" {
		server = strings.SplitN(c.URL.Hostname(), ".", 2)[0]
	}
	return NewStoreObjectEntryID(server, c.LegacyDN)
}
