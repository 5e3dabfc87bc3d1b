package asrm

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sensepost/exconform/activesync"
	"github.com/sensepost/exconform/conformance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (env *Env) settingsTemplates(t *conformance.T) {
	c := env.client(t, env.sender(t), true)
	rmi, err := c.RightsManagementTemplates()
	require.NoError(t, err, "Settings RightsManagementInformation Get")
	assert.Equal(t, activesync.StatusSuccess, rmi.SettingsStatus, "Settings status")
	require.Equal(t, activesync.StatusSuccess, rmi.Status, "RightsManagementInformation status")
	require.NotEmpty(t, rmi.Templates, "no RightsManagementTemplate returned")

	ids := map[string]bool{}
	for _, tpl := range rmi.Templates {
		_, err := uuid.Parse(tpl.ID)
		assert.NoError(t, err, "TemplateID %q is not a GUID", tpl.ID)
		assert.NotEmpty(t, tpl.Name, "template %s has no TemplateName", tpl.ID)
		assert.False(t, ids[strings.ToLower(tpl.ID)], "template %s listed twice", tpl.ID)
		ids[strings.ToLower(tpl.ID)] = true
		t.Logf("template %s %q", tpl.ID, tpl.Name)
	}
	for _, want := range []string{env.Rights.TemplateID, env.Rights.DoNotForwardID} {
		if want != "" {
			assert.True(t, ids[strings.ToLower(want)], "configured template %s not offered", want)
		}
	}
}

func (env *Env) sendMailInvalidTemplate(t *conformance.T) {
	from := env.sender(t)
	c := env.client(t, from, true)
	to := env.email(env.recipient(t))
	req, err := activesync.NewMail(env.email(from), []string{to}, "exconform "+t.Name()+" "+newToken(), "Must not be sent.", uuid.NewString())
	require.NoError(t, err)
	status, err := c.SendMail(req)
	require.NoError(t, err, "SendMail")
	assert.Equal(t, activesync.StatusIRMInvalidTemplateID, status, "SendMail with an unknown TemplateID")
}

func sameTemplate(t *conformance.T, want string, l *activesync.License) {
	assert.True(t, strings.EqualFold(want, l.TemplateID), "license TemplateID %s, sent with %s", l.TemplateID, want)
}

//hasAttachment checks the decrypted item still lists the file sendProtected attached
func hasAttachment(t *conformance.T, command, token string, item activesync.Item) {
	assert.Contains(t, item.Attachments, attachmentName(token), "%s with RightsManagementSupport lost the attachment", command)
}

func (env *Env) syncLicense(t *conformance.T) {
	templateID := env.templateID(t, env.client(t, env.sender(t), true))
	token := newToken()
	env.sendProtected(t, templateID, token)
	recipient := env.recipient(t)

	item := env.awaitItem(t, recipient, token, rightsOptions)
	require.NotNil(t, item.License, "Sync with RightsManagementSupport returned no RightsManagementLicense")
	sameTemplate(t, templateID, item.License)
	assert.NotEmpty(t, item.License.ContentOwner, "license has no ContentOwner")
	hasAttachment(t, "Sync", token, item)

	plain := env.awaitItem(t, recipient, token, plainOptions)
	assert.Nil(t, plain.License, "Sync without RightsManagementSupport returned a license")
}

func (env *Env) itemOperationsLicense(t *conformance.T) {
	templateID := env.templateID(t, env.client(t, env.sender(t), true))
	token := newToken()
	env.sendProtected(t, templateID, token)
	recipient := env.recipient(t)
	item := env.awaitItem(t, recipient, token, plainOptions)

	c := env.client(t, recipient, true)
	resp, err := c.Fetch(item.CollectionID, item.ServerID, rightsOptions)
	require.NoError(t, err, "ItemOperations Fetch")
	require.Equal(t, activesync.StatusSuccess, resp.Status, "ItemOperations status")
	require.Equal(t, activesync.StatusSuccess, resp.FetchStatus, "Fetch status")
	require.NotNil(t, resp.Item.License, "Fetch with RightsManagementSupport returned no license")
	sameTemplate(t, templateID, resp.Item.License)
	assert.Contains(t, resp.Item.Subject, token)
	hasAttachment(t, "Fetch", token, resp.Item)
}

func (env *Env) searchLicense(t *conformance.T) {
	templateID := env.templateID(t, env.client(t, env.sender(t), true))
	token := newToken()
	env.sendProtected(t, templateID, token)
	recipient := env.recipient(t)
	item := env.awaitItem(t, recipient, token, plainOptions)

	c := env.client(t, recipient, true)
	var found *activesync.Item
	//the search index lags behind delivery
	err := conformance.Poll(env.Attempts, env.Wait, func() (bool, error) {
		resp, err := c.Search(activesync.SearchRequest{Query: token, CollectionID: item.CollectionID, Options: rightsOptions})
		if err != nil {
			return false, err
		}
		if resp.Status != activesync.StatusSuccess {
			return false, &activesync.StatusError{Command: "Search", Status: resp.Status}
		}
		for i := range resp.Results {
			if strings.Contains(resp.Results[i].Subject, token) {
				found = &resp.Results[i]
				return true, nil
			}
		}
		return false, nil
	})
	require.NoError(t, err, "searching for %s", token)
	require.NotNil(t, found.License, "Search with RightsManagementSupport returned no license")
	sameTemplate(t, templateID, found.License)
	hasAttachment(t, "Search", token, *found)
}

//protectedItem delivers a message protected with templateID and returns it as the recipient sees it
func (env *Env) protectedItem(t *conformance.T, templateID string) activesync.Item {
	token := newToken()
	env.sendProtected(t, templateID, token)
	item := env.awaitItem(t, env.recipient(t), token, rightsOptions)
	require.NotNil(t, item.License, "protected item arrived without a license")
	return item
}

func (env *Env) respond(t *conformance.T, item activesync.Item, to string) *activesync.ComposeRequest {
	from := env.email(env.recipient(t))
	req, err := activesync.NewMail(from, []string{to}, "RE: "+item.Subject, "exconform "+t.Name(), "")
	require.NoError(t, err)
	req.Source = &activesync.Source{FolderID: item.CollectionID, ItemID: item.ServerID}
	return req
}

func (env *Env) smartForwardProhibited(t *conformance.T) {
	if env.Rights.DoNotForwardID == "" {
		t.Skip("no do-not-forward template configured")
	}
	item := env.protectedItem(t, env.Rights.DoNotForwardID)
	if item.License.ForwardAllowed {
		t.Skipf("template %s grants ForwardAllowed", env.Rights.DoNotForwardID)
	}

	c := env.client(t, env.recipient(t), true)
	status, err := c.SmartForward(env.respond(t, item, env.email(env.forwardee(t))))
	require.NoError(t, err, "SmartForward")
	assert.Equal(t, activesync.StatusIRMOperationNotPermitted, status, "SmartForward of a do-not-forward item")
}

func (env *Env) smartReplyProhibited(t *conformance.T) {
	templateID := env.Rights.DoNotForwardID
	if templateID == "" {
		templateID = env.templateID(t, env.client(t, env.sender(t), true))
	}
	item := env.protectedItem(t, templateID)

	c := env.client(t, env.recipient(t), true)
	status, err := c.SmartReply(env.respond(t, item, env.email(env.sender(t))))
	require.NoError(t, err, "SmartReply")
	if item.License.ReplyAllowed {
		assert.Equal(t, activesync.StatusSuccess, status, "SmartReply with ReplyAllowed")
		return
	}
	assert.Equal(t, activesync.StatusIRMOperationNotPermitted, status, "SmartReply without ReplyAllowed")
}

func (env *Env) nonSSLRejected(t *conformance.T) {
	if env.SUT == nil {
		t.Skip("no SUT control configured")
	}
	templateID := env.templateID(t, env.client(t, env.sender(t), true))
	require.NoError(t, env.SUT.SetSSL(false), "disabling SSL on the server")
	t.Cleanup(func() {
		require.NoError(t, env.SUT.SetSSL(true), "re-enabling SSL on the server")
	})

	from := env.sender(t)
	c := env.client(t, from, false)
	to := env.email(env.recipient(t))
	var last activesync.Status
	//the server may need a moment to apply the change
	err := conformance.Poll(env.Attempts, env.Wait, func() (bool, error) {
		req, err := activesync.NewMail(env.email(from), []string{to}, "exconform "+t.Name()+" "+newToken(), "Sent over http.", templateID)
		if err != nil {
			return false, err
		}
		last, err = c.SendMail(req)
		if err != nil {
			return false, err
		}
		return last == activesync.StatusIRMFeatureDisabled, nil
	})
	assert.NoError(t, err, "SendMail over http, last status %s", last)
}
