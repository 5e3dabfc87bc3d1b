package oxorule

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sensepost/exconform/conformance"
	"github.com/sensepost/exconform/mapi"
	"github.com/stretchr/testify/require"
)

//Suite is the name results are reported under
const Suite = "oxorule"

//Mailbox is the part of the MAPI/HTTP client the scenarios drive
type Mailbox interface {
	FolderID(idx int) []byte
	MailboxGUID() []byte
	FetchRules(columns []mapi.PropertyTag) (*mapi.RopQueryRowsResponse, error)
	ModifyRules(flags uint8, rules ...mapi.RuleData) error
	CreateMessage(folderID []byte, properties []mapi.TaggedPropertyValue) (*mapi.RopSaveChangesMessageResponse, error)
	CreateAssocMessage(folderID []byte, properties []mapi.TaggedPropertyValue) (*mapi.RopSaveChangesMessageResponse, error)
	GetMessageProperties(folderID, messageID []byte) (*mapi.RopGetPropertiesAllResponse, error)
	GetTableContents(folderID []byte, assoc bool, columns []mapi.PropertyTag) (*mapi.RopQueryRowsResponse, error)
	DeleteMessages(folderID []byte, messageIDs ...[]byte) error
	LongTermIDFromID(objectID []byte) (mapi.LongTermID, error)
	FolderEntryID(idx int) (mapi.FolderEntryID, error)
	MessageEntryID(folderID, messageID []byte) (mapi.MessageEntryID, error)
	StoreEntryID() mapi.StoreObjectEntryID
	OwnerEntryID() (*mapi.AddressBookEntryID, error)
}

var _ Mailbox = (*mapi.Client)(nil)

//Deliverer sends the mail that triggers server side rules
type Deliverer interface {
	Send(from string, to []string, subject, body string) (string, error)
}

//Env is what the scenarios run against. A nil Mailbox or Mailer makes the
//scenarios that need it inconclusive.
type Env struct {
	Mailbox  Mailbox
	Mailer   Deliverer
	Email    string //address of the mailbox owner
	Sender   string //envelope sender of trigger mail, defaults to Email
	Attempts int
	Wait     time.Duration
}

//Scenarios returns the MS-OXORULE scenarios bound to env
func Scenarios(env *Env) []conformance.Scenario {
	return []conformance.Scenario{
		{Name: "standard-rule-actions", Description: "every action type round trips through the rules table", Run: env.standardRuleActions},
		{Name: "modify-remove-rule", Description: "ROW_ADD, ROW_MODIFY and ROW_REMOVE are reflected in the rules table", Run: env.modifyRemoveRule},
		{Name: "extended-rule", Description: "extended rule FAI message with named properties and EntryIDs", Run: env.extendedRule},
		{Name: "rule-execution", Description: "mark-as-read and tag actions run on delivery", Run: env.ruleExecution},
		{Name: "deferred-action-message", Description: "OP_DEFER_ACTION produces a DAM referencing the rule", Run: env.deferredActionMessage},
	}
}

const ruleProvider = "RuleOrganizer"

var ruleColumns = []mapi.PropertyTag{
	mapi.PidTagRuleID,
	mapi.PidTagRuleName,
	mapi.PidTagRuleState,
	mapi.PidTagRuleSequence,
	mapi.PidTagRuleProvider,
	mapi.PidTagRuleActions,
}

var messageColumns = []mapi.PropertyTag{
	mapi.PidTagMid,
	mapi.PidTagSubject,
	mapi.PidTagMessageClass,
	mapi.PidTagMessageFlags,
	mapi.PidTagImportance,
}

func (env *Env) mailbox(t *conformance.T) Mailbox {
	if env.Mailbox == nil {
		t.Skip("no MAPI session")
	}
	return env.Mailbox
}

func (env *Env) sender() string {
	if env.Sender != "" {
		return env.Sender
	}
	return env.Email
}

//newToken tags the objects a scenario creates so they can be found and removed
func newToken() string {
	return "exconform-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

//subjectContains is a PidTagRuleCondition matching messages whose subject contains s
func subjectContains(s string) mapi.TaggedPropertyValue {
	r := mapi.ContentRestriction{
		RestrictType:   mapi.RestrictContent,
		FuzzyLevelLow:  mapi.FLSUBSTRING,
		FuzzyLevelHigh: mapi.FLIGNORECASE,
		PropertyTag:    mapi.PidTagSubject,
		PropertyValue:  mapi.NewStringProp(mapi.PidTagSubject, s),
	}
	return mapi.TaggedPropertyValue{PropertyTag: mapi.PidTagRuleCondition, PropertyValue: mapi.MarshalRestriction(r, false)}
}

//newRule builds the ROW_ADD for a standard rule
func newRule(name string, sequence uint32, condition string, actions mapi.RuleAction) mapi.RuleData {
	props := []mapi.TaggedPropertyValue{
		mapi.NewStringProp(mapi.PidTagRuleName, name),
		mapi.NewInt32Prop(mapi.PidTagRuleSequence, sequence),
		mapi.NewInt32Prop(mapi.PidTagRuleState, mapi.STENABLED),
		subjectContains(condition),
		{PropertyTag: mapi.PidTagRuleActions, PropertyValue: actions.Marshal(false)},
		mapi.NewStringProp(mapi.PidTagRuleProvider, ruleProvider),
		mapi.NewInt32Prop(mapi.PidTagRuleLevel, 0),
	}
	return mapi.RuleData{RuleDataFlags: mapi.ROWADD, PropertyValueCount: uint16(len(props)), PropertyValues: props}
}

func removeRule(id uint64) mapi.RuleData {
	props := []mapi.TaggedPropertyValue{mapi.NewInt64Prop(mapi.PidTagRuleID, id)}
	return mapi.RuleData{RuleDataFlags: mapi.ROWREMOVE, PropertyValueCount: 1, PropertyValues: props}
}

//rulesWithPrefix returns the rows of the rules table whose name starts with prefix
func rulesWithPrefix(t *conformance.T, mb Mailbox, prefix string) []mapi.PropertyRow {
	rows, err := mb.FetchRules(ruleColumns)
	require.NoError(t, err, "RopGetRulesTable")
	var found []mapi.PropertyRow
	for _, row := range rows.RowData {
		if name, ok := row.Get(mapi.PidTagRuleName); ok && strings.HasPrefix(name.Text(), prefix) {
			found = append(found, row)
		}
	}
	return found
}

func ruleByID(t *conformance.T, mb Mailbox, id uint64) (mapi.PropertyRow, bool) {
	rows, err := mb.FetchRules(ruleColumns)
	require.NoError(t, err, "RopGetRulesTable")
	for _, row := range rows.RowData {
		if v, ok := row.Get(mapi.PidTagRuleID); ok && v.Uint64() == id {
			return row, true
		}
	}
	return mapi.PropertyRow{}, false
}

func ruleID(t *conformance.T, row mapi.PropertyRow) uint64 {
	v, ok := row.Get(mapi.PidTagRuleID)
	require.True(t, ok, "rule row without PidTagRuleId")
	return v.Uint64()
}

//addRules writes the rules and registers their removal
func addRules(t *conformance.T, mb Mailbox, prefix string, rules ...mapi.RuleData) map[string]mapi.PropertyRow {
	t.Cleanup(func() {
		var remove []mapi.RuleData
		for _, row := range rulesWithPrefix(t, mb, prefix) {
			remove = append(remove, removeRule(ruleID(t, row)))
		}
		if len(remove) > 0 {
			require.NoError(t, mb.ModifyRules(0, remove...), "removing rules")
		}
	})
	require.NoError(t, mb.ModifyRules(0, rules...), "RopModifyRules ROW_ADD")

	byName := map[string]mapi.PropertyRow{}
	for _, row := range rulesWithPrefix(t, mb, prefix) {
		name, _ := row.Get(mapi.PidTagRuleName)
		byName[name.Text()] = row
	}
	return byName
}

//messagesWith returns the rows of a folder whose subject contains token
func messagesWith(mb Mailbox, folderID []byte, assoc bool, token string) ([]mapi.PropertyRow, error) {
	rows, err := mb.GetTableContents(folderID, assoc, messageColumns)
	if err != nil {
		return nil, err
	}
	var found []mapi.PropertyRow
	for _, row := range rows.RowData {
		if s, ok := row.Get(mapi.PidTagSubject); ok && strings.Contains(s.Text(), token) {
			found = append(found, row)
		}
	}
	return found, nil
}

//deleteMessagesWith registers the removal of every message carrying token
func deleteMessagesWith(t *conformance.T, mb Mailbox, folderID []byte, token string) {
	t.Cleanup(func() {
		rows, err := messagesWith(mb, folderID, false, token)
		require.NoError(t, err)
		var mids [][]byte
		for _, row := range rows {
			if mid, ok := row.Get(mapi.PidTagMid); ok {
				mids = append(mids, mid.PropertyValue)
			}
		}
		require.NoError(t, mb.DeleteMessages(folderID, mids...), "removing delivered mail")
	})
}

//deliver sends the trigger mail and polls the folder until it shows up
func (env *Env) deliver(t *conformance.T, mb Mailbox, token string) mapi.PropertyRow {
	if env.Mailer == nil {
		t.Skip("no SMTP relay configured")
	}
	inbox := mb.FolderID(mapi.INBOX)
	deleteMessagesWith(t, mb, inbox, token)

	subject := "exconform " + t.Name() + " " + token
	id, err := env.Mailer.Send(env.sender(), []string{env.Email}, subject, "Triggers the "+t.Name()+" rule.")
	require.NoError(t, err, "SMTP delivery")
	t.Logf("sent %s", id)

	var row mapi.PropertyRow
	err = conformance.Poll(env.Attempts, env.Wait, func() (bool, error) {
		rows, err := messagesWith(mb, inbox, false, token)
		if err != nil || len(rows) == 0 {
			return false, err
		}
		row = rows[0]
		return true, nil
	})
	require.NoError(t, err, "waiting for %q in the Inbox", subject)
	return row
}

//serverFID is the 8 byte folder id as a ServerEid expects it
func serverFID(fid []byte) uint64 {
	return binary.LittleEndian.Uint64(fid)
}
