package autodiscover

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"text/template"

	"github.com/sensepost/exconform/activesync"
	httpntlm "github.com/sensepost/exconform/http-ntlm"
	"github.com/sensepost/exconform/mapi"
	"github.com/sensepost/exconform/utils"
)

const (
	outlookSchema    = "http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a"
	mobileSyncSchema = "http://schemas.microsoft.com/exchange/autodiscover/mobilesync/responseschema/2006"
	maxRedirects     = 10
)

// the xml for the autodiscover service
const autodiscoverXML = `<?xml version="1.0" encoding="utf-8"?><Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/{{.Request}}/requestschema/2006">
<Request><EMailAddress>{{.Email}}</EMailAddress>
<AcceptableResponseSchema>{{.Schema}}</AcceptableResponseSchema>
</Request></Autodiscover>`

var requestTemplate = template.Must(template.New("autodiscover").Parse(autodiscoverXML))

var (
	//ErrNoEndpoint is returned when none of the candidate urls answered
	ErrNoEndpoint = errors.New("no autodiscover endpoint found")
	//ErrAccessDenied is returned for 401 and 403 answers
	ErrAccessDenied = errors.New("access denied, check your credentials")
	//ErrTooManyRedirects is returned when redirectAddr answers loop
	ErrTooManyRedirects = errors.New("too many autodiscover redirects")
)

//ServiceError is an Error element in an autodiscover response
type ServiceError struct {
	utils.AutoError
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("autodiscover error %s: %s", e.ErrorCode, e.Message)
}

//Result is what the suites need from autodiscover
type Result struct {
	Email          string
	LegacyDN       string
	Server         string
	MapiURL        string
	AddressBookURL string
	ActiveSyncURL  string
}

//Client performs autodiscover requests for one session
type Client struct {
	//URL skips the DNS based candidates when set
	URL     string
	Session *utils.Session
	http    *http.Client
	//lookupHost filters candidate hosts, net.LookupHost by default
	lookupHost func(string) ([]string, error)
}

//New prepares an autodiscover client, NTLM unless the session uses basic auth
func New(sess *utils.Session, autodiscoverURL string) (*Client, error) {
	hc, err := httpntlm.NewClient(sess, nil)
	if err != nil {
		return nil, err
	}
	return &Client{URL: autodiscoverURL, Session: sess, http: hc, lookupHost: net.LookupHost}, nil
}

// candidates generates the urls of the format https://autodiscover.domain.com/autodiscover/autodiscover.xml
// for which a DNS entry exists, falling back to the domain itself and finally plain http.
func (c *Client) candidates(domain string) []string {
	var urls []string
	for _, step := range []struct {
		host   string
		scheme string
	}{
		{"autodiscover." + domain, "https"},
		{domain, "https"},
		{"autodiscover." + domain, "http"},
	} {
		if _, err := c.lookupHost(step.host); err != nil {
			utils.Trace.Printf("No DNS record for %s", step.host)
			continue
		}
		urls = append(urls, fmt.Sprintf("%s://%s/autodiscover/autodiscover.xml", step.scheme, step.host))
	}
	return urls
}

func domainOf(email string) (string, error) {
	i := strings.LastIndex(email, "@")
	if i == -1 || i == len(email)-1 {
		return "", fmt.Errorf("The supplied email address seems to be incorrect: %q", email)
	}
	return email[i+1:], nil
}

//Discover requests the given response schema for email, following redirectAddr answers
func (c *Client) Discover(email, schema string) (*utils.AutodiscoverResp, []byte, error) {
	for i := 0; i < maxRedirects; i++ {
		var urls []string
		if c.URL != "" {
			urls = []string{c.URL}
		} else {
			domain, err := domainOf(email)
			if err != nil {
				return nil, nil, err
			}
			urls = c.candidates(domain)
		}
		var last error = ErrNoEndpoint
		var resp *utils.AutodiscoverResp
		var raw []byte
		for _, u := range urls {
			resp, raw, last = c.request(u, email, schema)
			if last == nil || errors.Is(last, ErrAccessDenied) {
				break
			}
			utils.Trace.Printf("Autodiscover at %s failed: %s", u, last)
		}
		if last != nil {
			return nil, nil, last
		}
		if resp.Response.Error != (utils.AutoError{}) {
			return nil, raw, &ServiceError{resp.Response.Error}
		}
		if resp.Response.Account.Action != "redirectAddr" {
			return resp, raw, nil
		}
		email = resp.Response.Account.RedirectAddr
		utils.Trace.Printf("Redirected with new address [%s]", email)
	}
	return nil, nil, ErrTooManyRedirects
}

func (c *Client) request(autodiscoverURL, email, schema string) (*utils.AutodiscoverResp, []byte, error) {
	kind := "outlook"
	if schema == mobileSyncSchema {
		kind = "mobilesync"
	}
	var body bytes.Buffer
	err := requestTemplate.Execute(&body, struct{ Request, Email, Schema string }{kind, email, schema})
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest("POST", autodiscoverURL, &body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Add("Content-Type", "text/xml")
	if c.Session.UserAgent != "" {
		req.Header.Add("User-Agent", c.Session.UserAgent)
	}
	if schema == outlookSchema {
		req.Header.Add("X-MapiHttpCapability", "1") //we want MAPI info
		req.Header.Add("X-AnchorMailbox", email)
	}
	if c.Session.Basic {
		req.SetBasicAuth(c.Session.BasicUser(), c.Session.Pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, nil, fmt.Errorf("%s: %w", autodiscoverURL, ErrAccessDenied)
	default:
		return nil, nil, fmt.Errorf("%s: unexpected StatusCode [%d]", autodiscoverURL, resp.StatusCode)
	}
	var ad utils.AutodiscoverResp
	if err := ad.Unmarshal(raw); err != nil {
		return nil, nil, fmt.Errorf("Error in autodiscover response, %w", err)
	}
	utils.Debug.Printf("Autodiscover response from %s\n%s", autodiscoverURL, raw)
	return &ad, raw, nil
}

//Lookup resolves the MAPI/HTTP and ActiveSync endpoints of the mailbox.
//A failing mobilesync request leaves ActiveSyncURL empty.
func (c *Client) Lookup(email string) (*Result, error) {
	utils.Info.Println("Retrieving MAPI/HTTP info")
	resp, _, err := c.Discover(email, outlookSchema)
	if err != nil {
		return nil, fmt.Errorf("The autodiscover service request did not complete: %w", err)
	}
	res := &Result{
		Email:          email,
		LegacyDN:       resp.Response.User.LegacyDN,
		MapiURL:        mapi.ExtractMapiURL(resp),
		AddressBookURL: mapi.ExtractMapiAddressBookURL(resp),
	}
	if resp.Response.User.AutoDiscoverSMTPAddress != "" {
		res.Email = resp.Response.User.AutoDiscoverSMTPAddress
	}
	for _, v := range resp.Response.Account.Protocol {
		// EXCH (Exchange 2007/2010) is for internal Outlook clients
		if v.Type == "EXCH" {
			res.Server = v.Server
		}
	}
	res.ActiveSyncURL = activesync.ExtractActiveSyncURL(resp)

	if res.ActiveSyncURL == "" {
		utils.Info.Println("Retrieving MobileSync info")
		ms, _, err := c.Discover(email, mobileSyncSchema)
		if err != nil {
			utils.Warning.Printf("MobileSync autodiscover failed: %s", err)
		} else {
			res.ActiveSyncURL = activesync.ExtractActiveSyncURL(ms)
		}
	}
	return res, nil
}
