package asrm

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sensepost/exconform/activesync"
	"github.com/sensepost/exconform/conformance"
	"github.com/sensepost/exconform/mailer"
	"github.com/sensepost/exconform/sut"
	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/require"
)

//Suite is the name results are reported under
const Suite = "asrm"

//Adapter is the part of the ActiveSync client the scenarios drive
type Adapter interface {
	FolderSync(syncKey string) (*activesync.FolderSyncResponse, error)
	RightsManagementTemplates() (*activesync.RightsManagementInformation, error)
	SendMail(r *activesync.ComposeRequest) (activesync.Status, error)
	SmartForward(r *activesync.ComposeRequest) (activesync.Status, error)
	SmartReply(r *activesync.ComposeRequest) (activesync.Status, error)
	SyncAll(collectionID string, opts activesync.SyncOptions) ([]activesync.Item, error)
	Fetch(collectionID, serverID string, opts activesync.SyncOptions) (*activesync.FetchResponse, error)
	Search(r activesync.SearchRequest) (*activesync.SearchResponse, error)
}

var _ Adapter = (*activesync.Client)(nil)

//ConnectFunc opens an ActiveSync session for a configured user, over
//https when ssl is set and plain http otherwise
type ConnectFunc func(user string, ssl bool) (Adapter, error)

//Env is what the scenarios run against
type Env struct {
	Connect ConnectFunc
	Users   map[string]utils.UserConfig
	Rights  utils.RightsConfig
	//SUT reconfigures the server, nil makes non-ssl-rejected inconclusive
	SUT      sut.Controller
	Attempts int
	Wait     time.Duration

	clients map[string]Adapter
	inboxes map[string]string
}

//Scenarios returns the MS-ASRM scenarios bound to env
func Scenarios(env *Env) []conformance.Scenario {
	return []conformance.Scenario{
		{Name: "settings-templates", Description: "Settings returns the rights management templates", Run: env.settingsTemplates},
		{Name: "sendmail-invalid-template", Description: "SendMail with an unknown TemplateID is rejected with status 171", Run: env.sendMailInvalidTemplate},
		{Name: "sync-license", Description: "Sync returns the license only when rights management is supported", Run: env.syncLicense},
		{Name: "itemoperations-license", Description: "ItemOperations Fetch returns the license", Run: env.itemOperationsLicense},
		{Name: "search-license", Description: "Search returns the license", Run: env.searchLicense},
		{Name: "smartforward-prohibited", Description: "SmartForward of a do-not-forward item fails with status 172", Run: env.smartForwardProhibited},
		{Name: "smartreply-prohibited", Description: "SmartReply follows the ReplyAllowed right of the license", Run: env.smartReplyProhibited},
		{Name: "non-ssl-rejected", Description: "rights management over plain http fails with status 168", Run: env.nonSSLRejected},
	}
}

//user resolves one of the configured roles, falling back to the sorted user list
func (env *Env) user(t *conformance.T, role, name string, fallback int) string {
	if name != "" {
		return name
	}
	var names []string
	for n := range env.Users {
		names = append(names, n)
	}
	if fallback >= len(names) {
		t.Skipf("no %s user configured", role)
	}
	sort.Strings(names)
	return names[fallback]
}

func (env *Env) sender(t *conformance.T) string {
	return env.user(t, "sender", env.Rights.Sender, 0)
}

func (env *Env) recipient(t *conformance.T) string {
	return env.user(t, "recipient", env.Rights.Recipient, 1)
}

func (env *Env) forwardee(t *conformance.T) string {
	return env.user(t, "forwardee", env.Rights.Forwardee, 0)
}

func (env *Env) email(user string) string {
	return env.Users[user].Email
}

//client returns the session of a user, a failure to connect is inconclusive
func (env *Env) client(t *conformance.T, user string, ssl bool) Adapter {
	if env.Connect == nil {
		t.Skip("no ActiveSync endpoint configured")
	}
	key := fmt.Sprintf("%s/%t", user, ssl)
	if c, ok := env.clients[key]; ok {
		return c
	}
	c, err := env.Connect(user, ssl)
	if err != nil {
		t.Skipf("connecting as %s: %s", user, err)
	}
	if env.clients == nil {
		env.clients = map[string]Adapter{}
	}
	env.clients[key] = c
	return c
}

//inbox returns the CollectionId of the user's Inbox
func (env *Env) inbox(t *conformance.T, user string, c Adapter) string {
	if id, ok := env.inboxes[user]; ok {
		return id
	}
	fs, err := c.FolderSync("0")
	require.NoError(t, err, "FolderSync as %s", user)
	require.Equal(t, activesync.StatusSuccess, fs.Status, "FolderSync status")
	f, ok := fs.FolderByType(activesync.FolderTypeInbox)
	require.True(t, ok, "no Inbox in the folder hierarchy of %s", user)
	if env.inboxes == nil {
		env.inboxes = map[string]string{}
	}
	env.inboxes[user] = f.ServerID
	return f.ServerID
}

//templateID is the template protected mail is sent with. The configured one
//wins, otherwise the first template the server offers.
func (env *Env) templateID(t *conformance.T, c Adapter) string {
	if env.Rights.TemplateID != "" {
		return env.Rights.TemplateID
	}
	rmi, err := c.RightsManagementTemplates()
	require.NoError(t, err, "Settings RightsManagementInformation")
	if rmi.Status != activesync.StatusSuccess || len(rmi.Templates) == 0 {
		t.Skipf("no rights management template available (status %s)", rmi.Status)
	}
	return rmi.Templates[0].ID
}

func newToken() string {
	return "exconform-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

//attachmentName is the file sendProtected attaches to the message carrying token
func attachmentName(token string) string {
	return token + ".txt"
}

//sendProtected has the sender mail the recipient a message protected with
//templateID, with one attachment named after token
func (env *Env) sendProtected(t *conformance.T, templateID, token string) {
	from := env.sender(t)
	to := env.recipient(t)
	c := env.client(t, from, true)
	subject := "exconform " + t.Name() + " " + token
	att := mailer.Attachment{Name: attachmentName(token), ContentType: "text/plain", Data: []byte("Protected attachment for " + t.Name() + ".")}
	req, err := activesync.NewMail(env.email(from), []string{env.email(to)}, subject, "Protected content for "+t.Name()+".", templateID, att)
	require.NoError(t, err)
	status, err := c.SendMail(req)
	require.NoError(t, err, "SendMail")
	require.Equal(t, activesync.StatusSuccess, status, "SendMail with template %s", templateID)
	t.Logf("sent %q with template %s", subject, templateID)
}

//awaitItem syncs the user's Inbox until the item carrying token arrives
func (env *Env) awaitItem(t *conformance.T, user, token string, opts activesync.SyncOptions) activesync.Item {
	c := env.client(t, user, true)
	inbox := env.inbox(t, user, c)
	var found activesync.Item
	err := conformance.Poll(env.Attempts, env.Wait, func() (bool, error) {
		items, err := c.SyncAll(inbox, opts)
		if err != nil {
			return false, err
		}
		for _, it := range items {
			if strings.Contains(it.Subject, token) {
				found = it
				return true, nil
			}
		}
		return false, nil
	})
	require.NoError(t, err, "waiting for %s in the Inbox of %s", token, user)
	return found
}

var rightsOptions = activesync.SyncOptions{RightsManagement: true, BodyType: activesync.BodyPlainText}

var plainOptions = activesync.SyncOptions{BodyType: activesync.BodyPlainText}
