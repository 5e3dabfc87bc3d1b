package activesync

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sensepost/exconform/http-ntlm"
	"github.com/sensepost/exconform/utils"
)

const (
	wbxmlContentType       = "application/vnd.ms-sync.wbxml"
	defaultProtocolVersion = "14.1"
	defaultDeviceType      = "exconform"
	policyTypeWBXML        = "MS-EAS-Provisioning-WBXML"
)

//Client sends ActiveSync commands for one user
type Client struct {
	URL             *url.URL
	DeviceID        string
	DeviceType      string
	ProtocolVersion string
	PolicyKey       string
	Session         *utils.Session

	http     *http.Client
	headers  *utils.HeaderRoundTripper
	syncKeys map[string]string
}

//ExtractActiveSyncURL returns the MobileSync url of an autodiscover response
func ExtractActiveSyncURL(resp *utils.AutodiscoverResp) string {
	protocols := append(resp.Response.Account.Protocol, resp.Response.Action.Settings.Server...)
	for _, v := range protocols {
		if v.Type != "MobileSync" {
			continue
		}
		if v.URL != "" {
			return v.URL
		}
		if v.Server != "" {
			return v.Server
		}
	}
	return ""
}

//NewClient prepares the http client, the device id is derived from the user
//so repeated runs reuse the same device partnership
func NewClient(sess *utils.Session, cfg utils.ActiveSyncConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid activesync url %q", cfg.URL)
	}
	c := &Client{
		URL:             u,
		DeviceID:        cfg.DeviceID,
		DeviceType:      cfg.DeviceType,
		ProtocolVersion: cfg.ProtocolVersion,
		Session:         sess,
		syncKeys:        make(map[string]string),
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = defaultProtocolVersion
	}
	if c.DeviceType == "" {
		c.DeviceType = defaultDeviceType
	}
	if c.DeviceID == "" {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(sess.User+sess.Email))
		c.DeviceID = strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	}

	c.http, err = httpntlm.NewClient(sess, func(rt http.RoundTripper) http.RoundTripper {
		c.headers = utils.WithHeader(rt)
		return c.headers
	})
	if err != nil {
		return nil, err
	}
	c.headers.Set("MS-ASProtocolVersion", c.ProtocolVersion)
	if sess.UserAgent != "" {
		c.headers.Set("User-Agent", sess.UserAgent)
	}
	return c, nil
}

//SetPolicyKey sets the X-MS-PolicyKey sent with every command
func (c *Client) SetPolicyKey(key string) {
	c.PolicyKey = key
	if key == "" {
		c.headers.Del("X-MS-PolicyKey")
		return
	}
	c.headers.Set("X-MS-PolicyKey", key)
}

func (c *Client) commandURL(cmd string) string {
	u := *c.URL
	user := c.Session.User
	if user == "" {
		user = c.Session.Email
	}
	q := u.Query()
	q.Set("Cmd", cmd)
	q.Set("User", user)
	q.Set("DeviceId", c.DeviceID)
	q.Set("DeviceType", c.DeviceType)
	u.RawQuery = q.Encode()
	return u.String()
}

//Do posts a command and decodes the response document. An empty response
//body returns a nil node and no error.
func (c *Client) Do(cmd string, doc *Node) (*Node, error) {
	var body []byte
	if doc != nil {
		var err error
		if body, err = Marshal(doc); err != nil {
			return nil, err
		}
		utils.Debug.Printf("%s request\n%s%s", cmd, doc, hex.Dump(body))
	}

	req, err := http.NewRequest("POST", c.commandURL(cmd), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", wbxmlContentType)
	if c.Session.Basic {
		req.SetBasicAuth(c.Session.BasicUser(), c.Session.Pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	defer resp.Body.Close()
	rbody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}

	if resp.StatusCode == 449 {
		return nil, ErrProvisioningRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Command: cmd, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if len(rbody) == 0 {
		utils.Debug.Printf("%s response is empty", cmd)
		return nil, nil
	}
	node, err := Unmarshal(rbody)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", cmd, err)
	}
	utils.Debug.Printf("%s response\n%s", cmd, node)
	return node, nil
}

//Provision runs the two phase policy key exchange and stores the final key
func (c *Client) Provision() (string, error) {
	policy := E("Provision:Policy", T("Provision:PolicyType", policyTypeWBXML))
	req := E("Provision:Provision")
	if c.versionAtLeast(14.1) {
		req.Add(E("Settings:DeviceInformation", E("Settings:Set",
			T("Settings:Model", c.DeviceType),
			T("Settings:FriendlyName", "exconform"),
			T("Settings:OS", "Go"),
			T("Settings:UserAgent", c.Session.UserAgent),
		)))
	}
	req.Add(E("Provision:Policies", policy))

	c.SetPolicyKey("")
	resp, err := c.Do("Provision", req)
	if err != nil {
		return "", err
	}
	temp, err := provisionKey(resp)
	if err != nil {
		return "", err
	}

	ack := E("Provision:Provision", E("Provision:Policies", E("Provision:Policy",
		T("Provision:PolicyType", policyTypeWBXML),
		T("Provision:PolicyKey", temp),
		T("Provision:Status", "1"),
	)))
	c.SetPolicyKey(temp)
	resp, err = c.Do("Provision", ack)
	if err != nil {
		return "", err
	}
	final, err := provisionKey(resp)
	if err != nil {
		return "", err
	}
	c.SetPolicyKey(final)
	utils.Trace.Printf("Provisioned device %s with policy key %s", c.DeviceID, final)
	return final, nil
}

func provisionKey(resp *Node) (string, error) {
	if resp == nil || resp.Name != "Provision:Provision" {
		return "", fmt.Errorf("Provision: %w", ErrUnexpectedResponse)
	}
	if s := parseStatus(resp.Child("Provision:Status")); s != StatusSuccess {
		return "", &StatusError{Command: "Provision", Status: s}
	}
	policy := resp.Find("Provision:Policies", "Provision:Policy")
	if s := parseStatus(policy.Child("Provision:Status")); s != StatusSuccess {
		return "", &StatusError{Command: "Provision", Status: s}
	}
	key := policy.Value("Provision:PolicyKey")
	if key == "" {
		return "", fmt.Errorf("Provision: no policy key returned")
	}
	return key, nil
}

func (c *Client) versionAtLeast(v float64) bool {
	f, err := strconv.ParseFloat(c.ProtocolVersion, 64)
	return err == nil && f >= v
}

//do runs a command and provisions once when the server asks for it
func (c *Client) do(cmd string, doc *Node) (*Node, error) {
	resp, err := c.Do(cmd, doc)
	if err != ErrProvisioningRequired {
		return resp, err
	}
	utils.Trace.Printf("%s requires provisioning", cmd)
	if _, err := c.Provision(); err != nil {
		return nil, err
	}
	return c.Do(cmd, doc)
}
