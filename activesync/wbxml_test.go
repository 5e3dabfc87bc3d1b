package activesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalFolderSync(t *testing.T) {
	b, err := Marshal(E("FolderHierarchy:FolderSync", T("FolderHierarchy:SyncKey", "0")))
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x00, 0x07, 0x56, 0x52, 0x03, 0x30, 0x00, 0x01, 0x01,
	}, b)
}

func TestRoundTripAcrossPages(t *testing.T) {
	doc := E("ComposeMail:SendMail",
		T("ComposeMail:ClientId", "ABC"),
		E("ComposeMail:SaveInSentItems"),
		O("ComposeMail:Mime", []byte("Subject: hi\r\n\r\nbody")),
		T("RightsManagement:TemplateID", "00000000-0000-0000-0000-000000000000"),
	)
	b, err := Marshal(doc)
	require.NoError(t, err)

	back, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, doc, back)
	assert.Equal(t, "ABC", back.Value("ComposeMail:ClientId"))
	assert.Equal(t, "Subject: hi\r\n\r\nbody", back.Value("ComposeMail:Mime"))
	assert.NotNil(t, back.Child("ComposeMail:SaveInSentItems"))
}

func TestUnknownTokens(t *testing.T) {
	b := []byte{
		0x03, 0x01, 0x6A, 0x00,
		0x00, 0x0E, 0x45, //Provision:Provision with content
		0x3A,       //an unknown empty Provision tag
		0x00, 0x1D, //an unknown page
		0x45, 0x03, 'x', 0x00, 0x01,
		0x01,
	}
	n, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, "Provision:Provision", n.Name)
	require.Len(t, n.Children, 2)
	assert.Equal(t, "Provision:0x3A", n.Children[0].Name)
	assert.Equal(t, "0x1D:0x05", n.Children[1].Name)
	assert.Equal(t, "x", n.Children[1].Text)

	again, err := Marshal(n)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestUnmarshalStringTableAndEntity(t *testing.T) {
	b := []byte{
		0x03, 0x01, 0x6A, 0x03, 'a', 'b', 0x00,
		0x00, 0x00, 0x4B, //AirSync:SyncKey
		0x83, 0x00, //string table offset 0
		0x02, 0x41, //entity 'A'
		0x01,
	}
	n, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, "AirSync:SyncKey", n.Name)
	assert.Equal(t, "abA", n.Text)
}

func TestUnmarshalErrors(t *testing.T) {
	cases := map[string][]byte{
		"empty":        {},
		"no root":      {0x03, 0x01, 0x6A, 0x00},
		"unclosed":     {0x03, 0x01, 0x6A, 0x00, 0x45, 0x4B},
		"bad string":   {0x03, 0x01, 0x6A, 0x00, 0x4B, 0x03, 'a'},
		"opaque short": {0x03, 0x01, 0x6A, 0x00, 0x4B, 0xC3, 0x05, 'a', 0x01},
		"attributes":   {0x03, 0x01, 0x6A, 0x00, 0xC5, 0x01},
		"string table": {0x03, 0x01, 0x6A, 0x10, 0x00},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(b)
			assert.ErrorIs(t, err, ErrInvalidWBXML)
		})
	}
}

func TestMarshalUnknownName(t *testing.T) {
	_, err := Marshal(E("AirSync:NoSuchTag"))
	assert.ErrorIs(t, err, ErrInvalidWBXML)
	_, err = Marshal(E("NoPage"))
	assert.ErrorIs(t, err, ErrInvalidWBXML)
	_, err = Marshal(nil)
	assert.ErrorIs(t, err, ErrInvalidWBXML)
}

func TestMbUint32(t *testing.T) {
	assert.Equal(t, []byte{0x00}, mbUint32(0))
	assert.Equal(t, []byte{0x7F}, mbUint32(0x7F))
	assert.Equal(t, []byte{0x81, 0x00}, mbUint32(0x80))
	assert.Equal(t, []byte{0x81, 0x20}, mbUint32(0xA0))

	d := &wbxmlDecoder{buf: []byte{0x81, 0x20}}
	v, err := d.mbUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 0xA0, v)
}

func TestNodeNavigation(t *testing.T) {
	doc := E("Search:Search", E("Search:Response", E("Search:Store",
		T("Search:Status", "1"),
		E("Search:Result", T("Search:LongId", "a")),
		E("Search:Result", T("Search:LongId", "b")),
	)))
	store := doc.Find("Search:Response", "Search:Store")
	require.NotNil(t, store)
	assert.Len(t, store.All("Search:Result"), 2)
	assert.Equal(t, "1", doc.Value("Search:Response", "Search:Store", "Search:Status"))
	assert.Equal(t, "a", doc.Search("Search:LongId").Text)
	assert.Equal(t, "", doc.Value("Search:Nope", "Search:Status"))
	assert.Contains(t, doc.String(), "<Search:LongId>b</Search:LongId>")
}
