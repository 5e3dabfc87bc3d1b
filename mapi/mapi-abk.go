package mapi

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/sensepost/exconform/utils"
)

//ErrUnresolved is returned when the address book has no object for a DN
var ErrUnresolved = errors.New("not found in the address book")

//ExtractMapiAddressBookURL extract the External mapi url from the autodiscover response
func ExtractMapiAddressBookURL(resp *utils.AutodiscoverResp) string {
	for _, v := range resp.Response.Account.Protocol {
		if v.TypeAttr == "mapiHttp" {
			if v.AddressBook.ExternalUrl != "" {
				return v.AddressBook.ExternalUrl
			}
			return v.AddressBook.InternalUrl
		}
	}
	return ""
}

//SetAddressBookURL points the client at the NSPI endpoint, an empty url clears it
func (c *Client) SetAddressBookURL(abkURL string) error {
	if abkURL == "" {
		c.ABKURL = nil
		return nil
	}
	u, err := url.Parse(abkURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid address book url %q", abkURL)
	}
	c.ABKURL = u
	return nil
}

func (c *Client) abkRequestHTTP(mapiType string, body []byte) ([]byte, error) {
	return c.post(c.ABKURL, mapiType, body)
}

//BindAddressBook function to bind to the AddressBook provider
func (c *Client) BindAddressBook() (*BindResponse, error) {
	bindReq := BindRequest{HasState: 0xFF, State: defaultSTAT()}
	responseBody, err := c.abkRequestHTTP("Bind", bindReq.Marshal())
	if err != nil {
		return nil, err
	}
	bindResp := BindResponse{}
	if _, err := bindResp.Unmarshal(responseBody); err != nil {
		return nil, err
	}
	if err := abkStatus("Bind", bindResp.StatusCode, bindResp.ErrorCode); err != nil {
		return nil, err
	}
	c.abkBound = true
	return &bindResp, nil
}

//UnbindAddressBook ends the address book session, a no-op when not bound
func (c *Client) UnbindAddressBook() error {
	if !c.abkBound {
		return nil
	}
	c.abkBound = false
	_, err := c.abkRequestHTTP("Unbind", UnbindRequest{}.Marshal())
	return err
}

//DnToMinID function to map DNs to a set of Minimal Entry IDs, 0 marks an unresolved DN
func (c *Client) DnToMinID(dns ...string) ([]uint32, error) {
	responseBody, err := c.abkRequestHTTP("DNToMId", NewDnToMinIDRequest(dns...).Marshal())
	if err != nil {
		return nil, err
	}
	dnResp := DnToMinIDResponse{}
	if _, err := dnResp.Unmarshal(responseBody); err != nil {
		return nil, err
	}
	if err := abkStatus("DNToMId", dnResp.StatusCode, dnResp.ErrorCode); err != nil {
		return nil, err
	}
	return dnResp.MinimalIds, nil
}

//GetProps function to get specific properties on an object
func (c *Client) GetProps(mid uint32, columns ...PropertyTag) (*AddressBookPropertyValueList, error) {
	req := GetPropsRequest{HasState: 0xFF, State: defaultSTAT(), HasPropertyTags: 0xFF}
	req.State.CurrentRec = mid
	req.PropertyTags = LargePropertyTagArray{PropertyTagCount: uint32(len(columns)), PropertyTags: columns}

	responseBody, err := c.abkRequestHTTP("GetProps", req.Marshal())
	if err != nil {
		return nil, err
	}
	gpResp := GetPropsResponse{}
	if _, err := gpResp.Unmarshal(responseBody); err != nil {
		return nil, err
	}
	if err := abkStatus("GetProps", gpResp.StatusCode, gpResp.ErrorCode); err != nil {
		return nil, err
	}
	return &gpResp.PropertyValues, nil
}

//ResolveEntryID looks dn up in the address book and returns its permanent EntryID
func (c *Client) ResolveEntryID(dn string) (*AddressBookEntryID, error) {
	if !c.abkBound {
		if _, err := c.BindAddressBook(); err != nil {
			return nil, err
		}
	}
	mids, err := c.DnToMinID(dn)
	if err != nil {
		return nil, err
	}
	if len(mids) != 1 || mids[0] == 0 {
		return nil, fmt.Errorf("%s: %w", dn, ErrUnresolved)
	}
	utils.Trace.Printf("Resolved %s to MId 0x%08X", dn, mids[0])
	props, err := c.GetProps(mids[0], PidTagEntryID)
	if err != nil {
		return nil, err
	}
	raw, ok := props.Get(PidTagEntryID)
	if !ok {
		return nil, fmt.Errorf("GetProps returned no PidTagEntryID for %s", dn)
	}
	return DecodeAddressBookEntryID(raw)
}

//OwnerEntryID is the address book EntryID of the mailbox owner. Without an
//address book url it is built from LegacyDN.
func (c *Client) OwnerEntryID() (*AddressBookEntryID, error) {
	if c.ABKURL == nil {
		eid := NewAddressBookEntryID(c.LegacyDN)
		return &eid, nil
	}
	return c.ResolveEntryID(c.LegacyDN)
}
