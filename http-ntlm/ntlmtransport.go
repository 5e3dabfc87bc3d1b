package httpntlm

//Forked from https://github.com/vadimi/go-http-ntlm
//All credits go to them
//Used under MIT License -- see LICENSE for details

import (
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/sensepost/exconform/utils"
	"github.com/staaldraad/go-ntlm/ntlm"
)

// NtlmTransport is implementation of http.RoundTripper interface
type NtlmTransport struct {
	Domain    string
	User      string
	Password  string
	NTHash    []byte
	CookieJar *cookiejar.Jar
	Hostname  string
	Timeout   time.Duration
	//Base is the transport the handshake runs over, http.DefaultTransport when nil
	Base http.RoundTripper
}

// ErrNoChallenge is returned when the server answers 401 without an NTLM challenge
var ErrNoChallenge = errors.New("Wrong WWW-Authenticate header")

// RoundTrip method send http request and tries to perform NTLM authentication
func (t NtlmTransport) RoundTrip(req *http.Request) (res *http.Response, err error) {

	session, err := ntlm.CreateClientSession(ntlm.Version1, ntlm.ConnectionlessMode)
	if err != nil {
		return nil, err
	}

	session.SetUserInfo(t.User, t.Password, t.Domain)

	if len(t.NTHash) > 0 {
		session.SetNTHash(t.NTHash)
	}

	b, _ := session.GenerateNegotiateMessage()
	// first send NTLM Negotiate header
	r, _ := http.NewRequest("GET", req.URL.String(), strings.NewReader(""))
	r.Header.Add("Authorization", "NTLM "+utils.EncBase64(b.Bytes()))
	r.Header.Add("User-Agent", req.UserAgent())

	tr := t.Base
	if tr == nil {
		tr = http.DefaultTransport
	}
	timeout := t.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	client := http.Client{Transport: tr, Timeout: timeout}
	if t.CookieJar != nil {
		client.Jar = t.CookieJar
	}

	resp, err := client.Do(r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		//already authenticated through the cookie jar, replay the real request
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return client.Do(req)
	}

	// it's necessary to reuse the same http connection
	// in order to do that it's required to read Body and close it
	if _, err = io.Copy(io.Discard, resp.Body); err != nil {
		return nil, err
	}
	if err = resp.Body.Close(); err != nil {
		return nil, err
	}

	// retrieve WWW-Authenticate header from response
	ntlmChallengeHeader := ""
	for _, header := range resp.Header[http.CanonicalHeaderKey("WWW-Authenticate")] {
		if strings.HasPrefix(header, "NTLM ") {
			ntlmChallengeHeader = header
		}
	}
	if ntlmChallengeHeader == "" {
		return nil, ErrNoChallenge
	}

	challengeBytes, err := utils.DecBase64(strings.TrimPrefix(ntlmChallengeHeader, "NTLM "))
	if err != nil {
		return nil, err
	}

	// parse NTLM challenge
	challenge, err := ntlm.ParseChallengeMessage(challengeBytes)
	if err != nil {
		return nil, err
	}

	if err = session.ProcessChallengeMessage(challenge); err != nil {
		return nil, err
	}

	// authenticate user
	authenticate, err := session.GenerateAuthenticateMessage()
	if err != nil {
		return nil, err
	}
	authenticate.Workstation, err = ntlm.CreateStringPayload(t.Hostname)
	if err != nil {
		return nil, err
	}

	// set NTLM Authorization header
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "NTLM "+utils.EncBase64(authenticate.Bytes()))

	return client.Do(req)
}

// NewClient returns the http client for a session. Basic sessions get a plain
// transport and callers set the Authorization header themselves.
func NewClient(sess *utils.Session, wrap func(http.RoundTripper) http.RoundTripper) (*http.Client, error) {
	base, err := sess.Transport()
	if err != nil {
		return nil, err
	}
	var rt http.RoundTripper = base
	if !sess.Basic {
		rt = NtlmTransport{
			Domain:    sess.Domain,
			User:      sess.User,
			Password:  sess.Pass,
			NTHash:    sess.NTHash,
			CookieJar: sess.CookieJar,
			Hostname:  sess.Hostname,
			Timeout:   sess.Timeout,
			Base:      base,
		}
	}
	if wrap != nil {
		rt = wrap(rt)
	}
	client := &http.Client{Transport: rt, Timeout: sess.Timeout}
	if sess.CookieJar != nil {
		client.Jar = sess.CookieJar
	}
	return client, nil
}
