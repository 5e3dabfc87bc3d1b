package utils

import (
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
)

//AutodiscoverResp structure for unmarshal
type AutodiscoverResp struct {
	Response Response
}

//Response structure for unmarshal
type Response struct {
	User    User
	Account Account
	Action  Action
	Error   AutoError
}

//Action holds the mobilesync schema settings
type Action struct {
	Settings Settings
}

//Settings lists the servers of a mobilesync response
type Settings struct {
	Server []Protocol
}

//AutoError structure for unmarshal
type AutoError struct {
	ErrorCode string
	Message   string
	DebugData string
}

//User structure for unmarshal
type User struct {
	DisplayName             string
	LegacyDN                string
	DeploymentID            string
	AutoDiscoverSMTPAddress string
}

//Account structure for unmarshal
type Account struct {
	AccountType  string
	Action       string
	RedirectAddr string
	Protocol     []Protocol
}

//Protocol structure for unmarshal
type Protocol struct {
	Type        string
	TypeAttr    string `xml:"Type,attr"`
	Server      string
	ServerDN    string
	ASUrl       string
	EwsUrl      string
	URL         string `xml:"Url"`
	MailStore   MailStore
	AddressBook AddressBook
}

//MailStore structure for unmarshal
type MailStore struct {
	InternalUrl string
	ExternalUrl string
}

//AddressBook structure for unmarshal
type AddressBook struct {
	InternalUrl string
	ExternalUrl string
}

//Unmarshal returns the XML response as golang structs
func (autodiscresp *AutodiscoverResp) Unmarshal(resp []byte) error {
	return xml.Unmarshal(resp, autodiscresp)
}

//BasicUser is the user name sent with basic auth
func (s *Session) BasicUser() string {
	if s.Domain != "" {
		return s.Domain + "\\" + s.User
	}
	if s.Email != "" {
		return s.Email
	}
	return s.User
}

//Transport builds the TLS/proxy aware base transport for the session
func (s *Session) Transport() (*http.Transport, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: s.Insecure},
	}
	if s.Proxy != "" {
		proxyURL, err := url.Parse(s.Proxy)
		if err != nil {
			return nil, fmt.Errorf("Invalid proxy url format %s", err)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	return tr, nil
}
