package autodiscover

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const outlookResponse = `<?xml version="1.0" encoding="utf-8"?>
<Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/responseschema/2006">
<Response xmlns="http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a">
<User>
<DisplayName>Alice</DisplayName>
<LegacyDN>/o=Example/ou=Exchange Administrative Group (FYDIBOHF23SPDLT)/cn=Recipients/cn=alice</LegacyDN>
<AutoDiscoverSMTPAddress>alice@example.com</AutoDiscoverSMTPAddress>
</User>
<Account>
<AccountType>email</AccountType>
<Action>settings</Action>
<Protocol><Type>EXCH</Type><Server>0d1c4f1e-aaaa-bbbb-cccc-123456789abc@example.com</Server></Protocol>
<Protocol Type="mapiHttp" Version="1">
<MailStore><InternalUrl>https://ex01.example.local/mapi/emsmdb/?MailboxId=x</InternalUrl><ExternalUrl>https://mail.example.com/mapi/emsmdb/?MailboxId=x</ExternalUrl></MailStore>
<AddressBook><InternalUrl>https://ex01.example.local/mapi/nspi/?MailboxId=x</InternalUrl><ExternalUrl>https://mail.example.com/mapi/nspi/?MailboxId=x</ExternalUrl></AddressBook>
</Protocol>
</Account>
</Response>
</Autodiscover>`

const mobileSyncResponse = `<?xml version="1.0" encoding="utf-8"?>
<Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/responseschema/2006">
<Response xmlns="http://schemas.microsoft.com/exchange/autodiscover/mobilesync/responseschema/2006">
<User><DisplayName>Alice</DisplayName><EMailAddress>alice@example.com</EMailAddress></User>
<Action><Settings><Server><Type>MobileSync</Type><Url>https://mail.example.com/Microsoft-Server-ActiveSync</Url><Name>https://mail.example.com/Microsoft-Server-ActiveSync</Name></Server></Settings></Action>
</Response>
</Autodiscover>`

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(&utils.Session{User: "alice", Pass: "secret", Email: "alice@example.com", Basic: true}, srv.URL+"/autodiscover/autodiscover.xml")
	require.NoError(t, err)
	return c
}

func TestLookup(t *testing.T) {
	var schemas []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice@example.com" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "mobilesync") {
			schemas = append(schemas, "mobilesync")
			assert.Empty(t, r.Header.Get("X-MapiHttpCapability"))
			io.WriteString(w, mobileSyncResponse)
			return
		}
		schemas = append(schemas, "outlook")
		assert.Equal(t, "1", r.Header.Get("X-MapiHttpCapability"))
		assert.Equal(t, "alice@example.com", r.Header.Get("X-AnchorMailbox"))
		assert.Contains(t, string(body), "<EMailAddress>alice@example.com</EMailAddress>")
		io.WriteString(w, outlookResponse)
	})

	res, err := c.Lookup("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"outlook", "mobilesync"}, schemas)
	assert.Equal(t, "https://mail.example.com/mapi/emsmdb/?MailboxId=x", res.MapiURL)
	assert.Equal(t, "https://mail.example.com/mapi/nspi/?MailboxId=x", res.AddressBookURL)
	assert.Equal(t, "https://mail.example.com/Microsoft-Server-ActiveSync", res.ActiveSyncURL)
	assert.Equal(t, "0d1c4f1e-aaaa-bbbb-cccc-123456789abc@example.com", res.Server)
	assert.True(t, strings.HasSuffix(res.LegacyDN, "/cn=alice"))
	assert.Equal(t, "alice@example.com", res.Email)
}

func TestRedirectAddr(t *testing.T) {
	var asked []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "alice@example.com") {
			asked = append(asked, "alice@example.com")
			io.WriteString(w, `<Autodiscover><Response><Account><Action>redirectAddr</Action><RedirectAddr>alice@example.onmicrosoft.com</RedirectAddr></Account></Response></Autodiscover>`)
			return
		}
		asked = append(asked, r.Header.Get("X-AnchorMailbox"))
		io.WriteString(w, outlookResponse)
	})
	resp, _, err := c.Discover("alice@example.com", outlookSchema)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com", "alice@example.onmicrosoft.com"}, asked)
	assert.Equal(t, "settings", resp.Response.Account.Action)
}

func TestRedirectLoop(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<Autodiscover><Response><Account><Action>redirectAddr</Action><RedirectAddr>alice@example.com</RedirectAddr></Account></Response></Autodiscover>`)
	})
	_, _, err := c.Discover("alice@example.com", outlookSchema)
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestErrors(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Lookup("alice@example.com")
	assert.ErrorIs(t, err, ErrAccessDenied)

	c = newClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<Autodiscover><Response><Error><ErrorCode>500</ErrorCode><Message>The email address can't be found.</Message></Error></Response></Autodiscover>`)
	})
	_, err = c.Lookup("alice@example.com")
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "500", se.ErrorCode)

	c = newClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>not xml")
	})
	_, _, err = c.Discover("alice@example.com", outlookSchema)
	assert.Error(t, err)
}

func TestCandidates(t *testing.T) {
	c := &Client{lookupHost: func(host string) ([]string, error) {
		if host == "example.com" {
			return nil, fmt.Errorf("no such host")
		}
		return []string{"192.0.2.1"}, nil
	}}
	assert.Equal(t, []string{
		"https://autodiscover.example.com/autodiscover/autodiscover.xml",
		"http://autodiscover.example.com/autodiscover/autodiscover.xml",
	}, c.candidates("example.com"))

	_, err := domainOf("alice")
	assert.Error(t, err)
	d, err := domainOf("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", d)
}
