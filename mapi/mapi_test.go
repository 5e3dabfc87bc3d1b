package mapi

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLegacyDN = "/o=First Organization/ou=Exchange Administrative Group/cn=Recipients/cn=bob"

//mapiHTTPBody wraps a response body in the meta-tags and additional headers
func mapiHTTPBody(body []byte) []byte {
	b := []byte("PROCESSING\r\nDONE\r\nX-ElapsedTime: 1\r\nX-StartTime: now\r\n\r\n")
	return append(b, body...)
}

//executeBody builds an ExecuteResponse carrying rops and a handle table
func executeBody(xor bool, rops []byte, handles ...uint32) []byte {
	payload := utils.EncodeNum(uint16(len(rops) + 2))
	payload = append(payload, rops...)
	for _, h := range handles {
		payload = append(payload, utils.EncodeNum(h)...)
	}
	flags := uint16(ropFlagsChain)
	if xor {
		flags |= ropFlagsXorMagic
		payload = utils.Obfuscate(payload)
	}
	ropBuffer := utils.BodyToBytes(RPCHeader{Flags: flags, Size: uint16(len(payload)), SizeActual: uint16(len(payload))})
	ropBuffer = append(ropBuffer, payload...)

	b := utils.EncodeNum(uint32(0)) //StatusCode
	b = append(b, utils.EncodeNum(uint32(0))...)
	b = append(b, utils.EncodeNum(uint32(0))...)
	b = append(b, utils.EncodeNum(uint32(len(ropBuffer)))...)
	b = append(b, ropBuffer...)
	return append(b, utils.EncodeNum(uint32(0))...)
}

func connectBody() []byte {
	b := make([]byte, 20)
	b = append(b, []byte("/o=First Organization\x00")...)
	b = append(b, utils.UniString("Bob")...)
	return append(b, 0, 0, 0, 0)
}

func logonRops() []byte {
	b := []byte{RopLogon, 0x00, 0, 0, 0, 0, 0x01}
	for i := 0; i < 13; i++ {
		b = append(b, utils.EncodeNum(uint64(0x0100000000000001+i))...)
	}
	b = append(b, 0x00)
	b = append(b, bytes.Repeat([]byte{0xAB}, 16)...) //MailboxGuid
	b = append(b, 0x01, 0x00)
	b = append(b, bytes.Repeat([]byte{0xCD}, 16)...)
	b = append(b, make([]byte, 8+8+4)...)
	return b
}

type fakeMapiServer struct {
	t        *testing.T
	handlers map[uint8]func(req []byte) []byte
	requests map[string]int
	lastRops []byte
}

func newFakeMapiServer(t *testing.T) (*fakeMapiServer, *httptest.Server) {
	f := &fakeMapiServer{t: t, handlers: map[uint8]func([]byte) []byte{}, requests: map[string]int{}}
	f.handlers[RopLogon] = func([]byte) []byte {
		return executeBody(false, logonRops(), 0x00001234)
	}
	return f, httptest.NewServer(f)
}

func (f *fakeMapiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	reqType := r.Header.Get("X-RequestType")
	f.requests[reqType]++
	assert.Equal(f.t, "application/mapi-http", r.Header.Get("Content-Type"))
	assert.NotEmpty(f.t, r.Header.Get("X-RequestId"))
	w.Header().Set("X-ResponseCode", "0")

	switch reqType {
	case "Connect":
		assert.True(f.t, bytes.HasPrefix(body, []byte(testLegacyDN+"\x00")))
		w.Write(mapiHTTPBody(connectBody()))
	case "Disconnect":
		w.Write(mapiHTTPBody(make([]byte, 8)))
	case "Bind", "DNToMId", "GetProps", "Unbind":
		assert.Equal(f.t, "/mapi/nspi/", r.URL.Path)
		w.Write(mapiHTTPBody(f.addressBook(reqType, body)))
	case "Execute":
		//Flags(4) RopBufferSize(4) RPC_HEADER_EXT(8) RopSize(2) then the first rop
		f.lastRops = body[18:]
		h, ok := f.handlers[body[18]]
		if !ok {
			f.t.Errorf("unexpected rop 0x%02X", body[18])
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(mapiHTTPBody(h(body)))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

//addressBook answers the NSPI requests for testLegacyDN, every other DN is unresolved
func (f *fakeMapiServer) addressBook(reqType string, body []byte) []byte {
	ok := make([]byte, 8) //StatusCode, ErrorCode
	switch reqType {
	case "Bind":
		assert.EqualValues(f.t, 0xFF, body[4], "HasState")
		b := append(ok, bytes.Repeat([]byte{0x11}, 16)...)
		return append(b, 0, 0, 0, 0)
	case "DNToMId":
		//Reserved(4) HasNames(1) NameCount(4)
		assert.Equal(f.t, []byte{0xFF, 1, 0, 0, 0}, body[4:9])
		mid := uint32(0)
		if bytes.HasPrefix(body[9:], []byte(testLegacyDN+"\x00")) {
			mid = 0x1234
		}
		b := append(ok, 0xFF)
		b = append(b, utils.EncodeNum(uint32(1))...)
		b = append(b, utils.EncodeNum(mid)...)
		return append(b, 0, 0, 0, 0)
	case "GetProps":
		//Flags(4) HasState(1) then STAT, CurrentRec is its third field
		assert.Equal(f.t, utils.EncodeNum(uint32(0x1234)), body[13:17])
		//HasPropertyTags(1) Count(4) PropertyTag
		assert.Equal(f.t, append([]byte{0xFF, 1, 0, 0, 0}, PidTagEntryID.Marshal()...), body[41:50])
		eid := NewAddressBookEntryID(testLegacyDN).Marshal()
		b := append(ok, utils.EncodeNum(uint32(1252))...)
		b = append(b, 0xFF)
		b = append(b, utils.EncodeNum(uint32(1))...)
		b = append(b, PidTagEntryID.Marshal()...)
		b = append(b, 0xFF)
		b = append(b, utils.EncodeNum(uint32(len(eid)))...)
		b = append(b, eid...)
		return append(b, 0, 0, 0, 0)
	}
	return append(ok, 0, 0, 0, 0)
}

func newTestClient(t *testing.T, url string) *Client {
	sess := &utils.Session{User: "bob", Pass: "secret", Email: "bob@example.com", Basic: true, Timeout: 5 * time.Second}
	c, err := NewClient(sess, url, testLegacyDN)
	require.NoError(t, err)
	return c
}

func TestAuthenticate(t *testing.T) {
	f, srv := newFakeMapiServer(t)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchRules([]PropertyTag{PidTagRuleID})
	require.ErrorIs(t, err, ErrNotAuthenticated)

	logon, err := c.Authenticate()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00001234), c.logonHandle)
	assert.Equal(t, "Bob", c.DisplayName())
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 16), c.MailboxGUID())
	assert.Equal(t, utils.EncodeNum(uint64(0x0100000000000001+INBOX)), c.FolderID(INBOX))
	assert.Len(t, logon.FolderIds, 104)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, 1, f.requests["Connect"])
	assert.Equal(t, 1, f.requests["Execute"])
	assert.Equal(t, 1, f.requests["Disconnect"])
}

func TestFetchRules(t *testing.T) {
	f, srv := newFakeMapiServer(t)
	defer srv.Close()

	cols := []PropertyTag{PidTagRuleID, PidTagRuleName}
	f.handlers[RopGetRulesTable] = func([]byte) []byte {
		rops := []byte{RopGetRulesTable, 0x01, 0, 0, 0, 0}
		rops = append(rops, RopSetColumns, 0x01, 0, 0, 0, 0, 0x00)
		rops = append(rops, RopQueryRows, 0x01, 0, 0, 0, 0, 0x02, 0x01, 0x00)
		rops = append(rops, 0x00)
		rops = append(rops, utils.EncodeNum(uint64(0x77))...)
		rops = append(rops, utils.UniString("exconform rule")...)
		return executeBody(true, rops, 0x1234, 0x5678)
	}

	c := newTestClient(t, srv.URL)
	_, err := c.Authenticate()
	require.NoError(t, err)

	rows, err := c.FetchRules(cols)
	require.NoError(t, err)
	require.EqualValues(t, 1, rows.RowCount)
	id, ok := rows.RowData[0].Get(PidTagRuleID)
	require.True(t, ok)
	assert.EqualValues(t, 0x77, id.Uint64())
	name, ok := rows.RowData[0].Get(PidTagRuleName)
	require.True(t, ok)
	assert.Equal(t, "exconform rule", name.Text())

	//GetRulesTable, SetColumns, QueryRows and Release went out in one buffer
	assert.Equal(t, RopSetColumns, f.lastRops[5])
}

func TestModifyRulesReturnValue(t *testing.T) {
	f, srv := newFakeMapiServer(t)
	defer srv.Close()

	f.handlers[RopModifyRules] = func([]byte) []byte {
		return executeBody(false, []byte{RopModifyRules, 0x00, 0x57, 0x00, 0x07, 0x80}, 0x1234)
	}

	c := newTestClient(t, srv.URL)
	_, err := c.Authenticate()
	require.NoError(t, err)

	rule := RuleData{RuleDataFlags: ROWADD, PropertyValues: []TaggedPropertyValue{NewStringProp(PidTagRuleName, "r")}}
	err = c.ModifyRules(0, rule)
	require.Error(t, err)
	rv, ok := err.(*ReturnValueError)
	require.True(t, ok)
	assert.EqualValues(t, 0x80070057, rv.Code)
	assert.Contains(t, err.Error(), "ecInvalidParam")
}

func TestCreateAssocMessageAndProperties(t *testing.T) {
	f, srv := newFakeMapiServer(t)
	defer srv.Close()

	mid := utils.EncodeNum(uint64(0x0100000000000999))
	f.handlers[RopCreateMessage] = func(req []byte) []byte {
		rops := []byte{RopCreateMessage, 0x01, 0, 0, 0, 0, 0x00}
		rops = append(rops, RopSetProperties, 0x01, 0, 0, 0, 0, 0x00, 0x00)
		rops = append(rops, RopSaveChangesMessage, 0x02, 0, 0, 0, 0, 0x01)
		rops = append(rops, mid...)
		return executeBody(false, rops, 0x1234, 0x2222, 0x3333)
	}
	f.handlers[RopOpenMessage] = func(req []byte) []byte {
		rops := []byte{RopOpenMessage, 0x01, 0, 0, 0, 0, 0x00, 0x00, 0x04}
		rops = append(rops, utils.UniString("template")...)
		rops = append(rops, 0x00, 0x00, 0x00, 0x00, 0x00)
		rops = append(rops, RopGetPropertiesAll, 0x01, 0, 0, 0, 0, 0x02, 0x00)
		rops = append(rops, NewStringProp(PidTagMessageClass, ReplyTemplateClass).Marshal()...)
		rops = append(rops, NewBinaryProp(PidTagReplyTemplateID, make([]byte, 16)).Marshal()...)
		return executeBody(false, rops, 0x1234, 0x2222)
	}

	c := newTestClient(t, srv.URL)
	_, err := c.Authenticate()
	require.NoError(t, err)

	props := []TaggedPropertyValue{
		NewStringProp(PidTagMessageClass, ReplyTemplateClass),
		NewBinaryProp(PidTagReplyTemplateID, make([]byte, 16)),
	}
	saved, err := c.CreateAssocMessage(c.FolderID(INBOX), props)
	require.NoError(t, err)
	assert.Equal(t, mid, saved.MessageID)
	//AssociatedFlag is the last byte of RopCreateMessage
	assert.EqualValues(t, 0x01, f.lastRops[14])

	all, err := c.GetMessageProperties(c.FolderID(INBOX), saved.MessageID)
	require.NoError(t, err)
	class, ok := all.Get(PidTagMessageClass)
	require.True(t, ok)
	assert.Equal(t, ReplyTemplateClass, class.Text())
	guid, ok := all.Get(PidTagReplyTemplateID)
	require.True(t, ok)
	assert.Len(t, guid.Binary(), 16)
}

func TestProtocolErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ResponseCode", "9")
		w.Write(mapiHTTPBody(nil))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Authenticate()
	require.Error(t, err)
	_, ok := err.(*TransportError)
	assert.True(t, ok)
}

func TestExecuteRequestSizes(t *testing.T) {
	execRequest := ExecuteRequest{}
	execRequest.Init()
	execRequest.RopBuffer.ROP.RopsList = RopReleaseRequest{RopID: RopRelease, LogonID: 0x8F, InputHandleIndex: 0x01}.Marshal()
	execRequest.RopBuffer.ROP.ServerObjectHandleTable = utils.EncodeNum(uint32(0x1234))
	buf := execRequest.Marshal()

	//RopSize covers itself and the rops
	assert.Equal(t, []byte{0x05, 0x00}, buf[16:18])
	//RPC_HEADER_EXT Size covers RopSize, rops and the handle table
	assert.Equal(t, []byte{0x09, 0x00}, buf[12:14])
	assert.Equal(t, utils.EncodeNum(uint32(8+9)), buf[4:8])
}

func TestResolveEntryID(t *testing.T) {
	f, srv := newFakeMapiServer(t)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	eid, err := c.OwnerEntryID()
	require.NoError(t, err)
	assert.Equal(t, testLegacyDN, eid.X500DN)
	assert.Empty(t, f.requests, "no address book url, nothing to ask")

	require.Error(t, c.SetAddressBookURL("nspi"))
	require.NoError(t, c.SetAddressBookURL(srv.URL+"/mapi/nspi/"))
	eid, err = c.OwnerEntryID()
	require.NoError(t, err)
	assert.Equal(t, testLegacyDN, eid.X500DN)
	assert.True(t, GUIDEqual(eid.ProviderUID, AddressBookProviderUID))
	assert.EqualValues(t, 1, eid.Version)

	_, err = c.ResolveEntryID("/o=First Organization/cn=Recipients/cn=nobody")
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, 1, f.requests["Bind"], "bound once")
	assert.Equal(t, 2, f.requests["DNToMId"])
	assert.Equal(t, 1, f.requests["GetProps"])

	require.NoError(t, c.Disconnect())
	assert.Equal(t, 1, f.requests["Unbind"])
	assert.Zero(t, f.requests["Disconnect"], "never logged on")
}

func TestGetPropsResponseUnmarshal(t *testing.T) {
	buf := make([]byte, 8)
	buf = append(buf, utils.EncodeNum(uint32(1252))...)
	buf = append(buf, 0xFF)
	buf = append(buf, utils.EncodeNum(uint32(3))...)
	buf = append(buf, PidTagDisplayName.Marshal()...)
	buf = append(buf, 0xFF)
	buf = append(buf, utils.UniString("Bob")...)
	buf = append(buf, PidTagEntryID.Marshal()...)
	buf = append(buf, 0x00) //no value
	buf = append(buf, PidTagRecipientType.Marshal()...)
	buf = append(buf, 1, 0, 0, 0)
	buf = append(buf, 0, 0, 0, 0)

	resp := GetPropsResponse{}
	n, err := resp.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	name, ok := resp.PropertyValues.Get(PidTagDisplayName)
	require.True(t, ok)
	assert.Equal(t, "Bob", utils.FromUnicode(name))
	_, ok = resp.PropertyValues.Get(PidTagEntryID)
	assert.False(t, ok)

	_, err = resp.Unmarshal(buf[:len(buf)-6])
	assert.ErrorIs(t, err, ErrShortBuffer)
}
