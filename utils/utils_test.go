package utils

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGUIDToByteArray(t *testing.T) {
	b, err := GUIDToByteArray("{35918bc9-196d-40ea-9779-889d79b753f0}")
	require.NoError(t, err)
	require.Equal(t, []byte{0xC9, 0x8B, 0x91, 0x35, 0x6D, 0x19, 0xEA, 0x40, 0x97, 0x79, 0x88, 0x9D, 0x79, 0xB7, 0x53, 0xF0}, b)

	s, err := ByteArrayToGUID(b)
	require.NoError(t, err)
	require.Equal(t, "35918bc9-196d-40ea-9779-889d79b753f0", s)

	_, err = GUIDToByteArray("not-a-guid")
	require.Error(t, err)
	_, err = ByteArrayToGUID([]byte{0x01})
	require.Error(t, err)
}

func TestUniString(t *testing.T) {
	b := UniString("Rü")
	require.Equal(t, []byte{'R', 0x00, 0xFC, 0x00, 0x00, 0x00}, b)
	require.Equal(t, "Rü", FromUnicode(b))
	require.Equal(t, "Rü", FromUnicode(UTF16("Rü")))
	require.Equal(t, "", FromUnicode([]byte{0x00, 0x00}))
	require.Equal(t, "abc", FromASCII([]byte("abc\x00")))
}

func TestBodyToBytes(t *testing.T) {
	type inner struct {
		A uint16
		B []byte
	}
	type outer struct {
		ID    uint8
		Size  uint32
		Inner inner
		List  []inner
	}
	got := BodyToBytes(outer{ID: 1, Size: 2, Inner: inner{A: 3, B: []byte{0xAA}}, List: []inner{{A: 4}}})
	require.Equal(t, []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x03, 0x00, 0xAA, 0x04, 0x00}, got)
}

func TestCount(t *testing.T) {
	assert.Equal(t, []byte{0x10, 0x00}, COUNT(16))
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0x00}, COUNT32(16))
	assert.Equal(t, uint32(16), DecodeUint32(COUNT32(16)))
}

func TestObfuscate(t *testing.T) {
	data := []byte{0x00, 0xA5, 0xFF}
	require.Equal(t, []byte{0xA5, 0x00, 0x5A}, Obfuscate(data))
	require.Equal(t, data, Obfuscate(Obfuscate(data)))
}

func TestReadYml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	err := os.WriteFile(path, []byte(`
users:
  user1:
    domain: CONTOSO
    username: user1
    password: secret
    email: user1@contoso.com
  user2:
    email: user2@contoso.com
mapi:
  user: user1
rights:
  sender: user1
  recipient: user2
insecure: true
`), 0600)
	require.NoError(t, err)

	config, err := ReadYml(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())
	assert.Equal(t, "14.1", config.ActiveSync.ProtocolVersion)
	assert.Equal(t, 10, config.Wait.Attempts)
	assert.True(t, config.Insecure)

	sess, err := config.NewSession("user2")
	require.NoError(t, err)
	assert.Equal(t, "user2@contoso.com", sess.User)
	assert.Equal(t, "user2@contoso.com", sess.BasicUser())
	assert.NotNil(t, sess.CookieJar)

	sess, err = config.NewSession("user1")
	require.NoError(t, err)
	assert.Equal(t, "CONTOSO\\user1", sess.BasicUser())

	_, err = config.NewSession("nobody")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	config := Config{}
	require.ErrorIs(t, config.Validate(), ErrNoUsers)

	config.Users = map[string]UserConfig{"user1": {Username: "user1"}}
	config.Rights.Recipient = "user9"
	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email is required")
	assert.Contains(t, err.Error(), "user9")
}

func TestWithHeader(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	rt := WithHeader(nil)
	rt.Set("X-MS-PolicyKey", "1234")
	client := http.Client{Transport: rt}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "1234", got.Get("X-MS-PolicyKey"))

	rt.Del("X-MS-PolicyKey")
	require.Equal(t, "", rt.Get("X-MS-PolicyKey"))
}
