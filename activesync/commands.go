package activesync

import (
	"fmt"
	"strconv"
)

//Folder types of FolderSync, MS-ASCMD 2.2.3.186.3
const (
	FolderTypeInbox        = 2
	FolderTypeDrafts       = 3
	FolderTypeDeletedItems = 4
	FolderTypeSentItems    = 5
	FolderTypeOutbox       = 6
)

//body preference types
const (
	BodyPlainText = "1"
	BodyHTML      = "2"
	BodyMIME      = "4"
)

const maxSyncRounds = 20

//Folder is one entry of the folder hierarchy
type Folder struct {
	ServerID    string
	ParentID    string
	DisplayName string
	Type        int
}

//FolderSyncResponse is the decoded FolderSync answer
type FolderSyncResponse struct {
	Status  Status
	SyncKey string
	Folders []Folder
}

//FolderByType returns the first folder of the given type
func (r *FolderSyncResponse) FolderByType(t int) (Folder, bool) {
	for _, f := range r.Folders {
		if f.Type == t {
			return f, true
		}
	}
	return Folder{}, false
}

//FolderSync fetches the folder hierarchy, syncKey "0" for a full list
func (c *Client) FolderSync(syncKey string) (*FolderSyncResponse, error) {
	if syncKey == "" {
		syncKey = "0"
	}
	resp, err := c.do("FolderSync", E("FolderHierarchy:FolderSync", T("FolderHierarchy:SyncKey", syncKey)))
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Name != "FolderHierarchy:FolderSync" {
		return nil, fmt.Errorf("FolderSync: %w", ErrUnexpectedResponse)
	}
	out := &FolderSyncResponse{
		Status:  parseStatus(resp.Child("FolderHierarchy:Status")),
		SyncKey: resp.Value("FolderHierarchy:SyncKey"),
	}
	for _, add := range resp.Find("FolderHierarchy:Changes").All("FolderHierarchy:Add") {
		t, _ := strconv.Atoi(add.Value("FolderHierarchy:Type"))
		out.Folders = append(out.Folders, Folder{
			ServerID:    add.Value("FolderHierarchy:ServerId"),
			ParentID:    add.Value("FolderHierarchy:ParentId"),
			DisplayName: add.Value("FolderHierarchy:DisplayName"),
			Type:        t,
		})
	}
	return out, nil
}

//RightsManagementInformation is the Settings answer for the template list
type RightsManagementInformation struct {
	Status         Status
	SettingsStatus Status
	Templates      []Template
}

//RightsManagementTemplates asks Settings for the templates available to the user
func (c *Client) RightsManagementTemplates() (*RightsManagementInformation, error) {
	req := E("Settings:Settings", E("Settings:RightsManagementInformation", E("Settings:Get")))
	resp, err := c.do("Settings", req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Name != "Settings:Settings" {
		return nil, fmt.Errorf("Settings: %w", ErrUnexpectedResponse)
	}
	rmi := resp.Child("Settings:RightsManagementInformation")
	out := &RightsManagementInformation{
		SettingsStatus: parseStatus(resp.Child("Settings:Status")),
		Status:         parseStatus(rmi.Child("Settings:Status")),
	}
	templates := rmi.Find("Settings:Get", rmPrefix+"RightsManagementTemplates")
	for _, t := range templates.All(rmPrefix + "RightsManagementTemplate") {
		out.Templates = append(out.Templates, parseTemplate(t))
	}
	return out, nil
}

//Source names the item a SmartForward or SmartReply refers to
type Source struct {
	FolderID   string
	ItemID     string
	LongID     string
	InstanceID string
}

func (s Source) node() *Node {
	n := E("ComposeMail:Source")
	if s.LongID != "" {
		return n.Add(T("ComposeMail:LongId", s.LongID))
	}
	n.Add(T("ComposeMail:FolderId", s.FolderID), T("ComposeMail:ItemId", s.ItemID))
	if s.InstanceID != "" {
		n.Add(T("ComposeMail:InstanceId", s.InstanceID))
	}
	return n
}

//ComposeRequest is the body of SendMail, SmartForward and SmartReply
type ComposeRequest struct {
	ClientID        string
	MIME            []byte
	SaveInSentItems bool
	ReplaceMime     bool
	TemplateID      string
	Source          *Source
}

func (r *ComposeRequest) node(root string) *Node {
	n := E(root, T("ComposeMail:ClientId", r.ClientID))
	if r.Source != nil {
		n.Add(r.Source.node())
	}
	if r.SaveInSentItems {
		n.Add(E("ComposeMail:SaveInSentItems"))
	}
	if r.ReplaceMime {
		n.Add(E("ComposeMail:ReplaceMime"))
	}
	n.Add(O("ComposeMail:Mime", r.MIME))
	if r.TemplateID != "" {
		n.Add(T(rmPrefix+"TemplateID", r.TemplateID))
	}
	return n
}

func (c *Client) compose(cmd string, r *ComposeRequest) (Status, error) {
	root := "ComposeMail:" + cmd
	resp, err := c.do(cmd, r.node(root))
	if err != nil {
		return StatusUnknown, err
	}
	//an empty body is a success
	if resp == nil {
		return StatusSuccess, nil
	}
	if resp.Name != root {
		return StatusUnknown, fmt.Errorf("%s: %w", cmd, ErrUnexpectedResponse)
	}
	return parseStatus(resp.Child("ComposeMail:Status")), nil
}

//SendMail submits a new message
func (c *Client) SendMail(r *ComposeRequest) (Status, error) {
	return c.compose("SendMail", r)
}

//SmartForward forwards the item named by r.Source
func (c *Client) SmartForward(r *ComposeRequest) (Status, error) {
	if r.Source == nil {
		return StatusUnknown, fmt.Errorf("SmartForward requires a source item")
	}
	return c.compose("SmartForward", r)
}

//SmartReply replies to the item named by r.Source
func (c *Client) SmartReply(r *ComposeRequest) (Status, error) {
	if r.Source == nil {
		return StatusUnknown, fmt.Errorf("SmartReply requires a source item")
	}
	return c.compose("SmartReply", r)
}

//SyncOptions controls the Options element of a collection
type SyncOptions struct {
	RightsManagement bool
	BodyType         string
	TruncationSize   int
	WindowSize       int
}

//SyncResponse is the decoded answer for one collection
type SyncResponse struct {
	Status        Status
	SyncKey       string
	MoreAvailable bool
	Added         []Item
}

func bodyPreference(bodyType string, truncation int) *Node {
	if bodyType == "" {
		bodyType = BodyPlainText
	}
	n := E("AirSyncBase:BodyPreference", T("AirSyncBase:Type", bodyType))
	if truncation > 0 {
		n.Add(T("AirSyncBase:TruncationSize", strconv.Itoa(truncation)))
	}
	return n
}

func rightsSupport(enabled bool) *Node {
	if !enabled {
		return nil
	}
	return T(rmPrefix+"RightsManagementSupport", "1")
}

//Sync runs one Sync round for a collection, using and updating the stored
//sync key. The first call for a collection primes the key with "0".
func (c *Client) Sync(collectionID string, opts SyncOptions) (*SyncResponse, error) {
	key, ok := c.syncKeys[collectionID]
	if !ok {
		prime, err := c.syncOnce(collectionID, "0", nil)
		if err != nil {
			return nil, err
		}
		if prime.Status != StatusSuccess {
			return prime, &StatusError{Command: "Sync", Status: prime.Status}
		}
		key = prime.SyncKey
	}
	return c.syncOnce(collectionID, key, &opts)
}

//SyncAll resyncs the collection from scratch and returns every item
func (c *Client) SyncAll(collectionID string, opts SyncOptions) ([]Item, error) {
	delete(c.syncKeys, collectionID)
	var items []Item
	for i := 0; i < maxSyncRounds; i++ {
		resp, err := c.Sync(collectionID, opts)
		if err != nil {
			return nil, err
		}
		if resp.Status != StatusSuccess {
			return nil, &StatusError{Command: "Sync", Status: resp.Status}
		}
		items = append(items, resp.Added...)
		if !resp.MoreAvailable {
			break
		}
	}
	return items, nil
}

func (c *Client) syncOnce(collectionID, key string, opts *SyncOptions) (*SyncResponse, error) {
	coll := E("AirSync:Collection",
		T("AirSync:SyncKey", key),
		T("AirSync:CollectionId", collectionID),
	)
	if opts != nil {
		window := opts.WindowSize
		if window <= 0 {
			window = 100
		}
		coll.Add(
			E("AirSync:DeletesAsMoves"),
			E("AirSync:GetChanges"),
			T("AirSync:WindowSize", strconv.Itoa(window)),
			E("AirSync:Options",
				bodyPreference(opts.BodyType, opts.TruncationSize),
			).Add(rightsSupport(opts.RightsManagement)),
		)
	}
	resp, err := c.do("Sync", E("AirSync:Sync", E("AirSync:Collections", coll)))
	if err != nil {
		return nil, err
	}
	//an empty response means no changes
	if resp == nil {
		return &SyncResponse{Status: StatusSuccess, SyncKey: key}, nil
	}
	if resp.Name != "AirSync:Sync" {
		return nil, fmt.Errorf("Sync: %w", ErrUnexpectedResponse)
	}
	if s := resp.Child("AirSync:Status"); s != nil {
		return &SyncResponse{Status: parseStatus(s)}, nil
	}
	var col *Node
	for _, cn := range resp.Find("AirSync:Collections").All("AirSync:Collection") {
		if cn.Value("AirSync:CollectionId") == collectionID {
			col = cn
		}
	}
	if col == nil {
		return nil, fmt.Errorf("Sync: collection %s missing from the response", collectionID)
	}
	out := &SyncResponse{
		Status:        parseStatus(col.Child("AirSync:Status")),
		SyncKey:       col.Value("AirSync:SyncKey"),
		MoreAvailable: col.Child("AirSync:MoreAvailable") != nil,
	}
	if out.SyncKey != "" {
		c.syncKeys[collectionID] = out.SyncKey
	}
	for _, add := range col.Find("AirSync:Commands").All("AirSync:Add") {
		it := parseItem(add.Child("AirSync:ApplicationData"))
		it.CollectionID = collectionID
		it.ServerID = add.Value("AirSync:ServerId")
		out.Added = append(out.Added, it)
	}
	return out, nil
}

//FetchResponse is the decoded ItemOperations answer of a single Fetch
type FetchResponse struct {
	Status      Status
	FetchStatus Status
	Item        Item
}

//Fetch retrieves one item with ItemOperations
func (c *Client) Fetch(collectionID, serverID string, opts SyncOptions) (*FetchResponse, error) {
	req := E("ItemOperations:ItemOperations", E("ItemOperations:Fetch",
		T("ItemOperations:Store", "Mailbox"),
		T("AirSync:CollectionId", collectionID),
		T("AirSync:ServerId", serverID),
		E("ItemOperations:Options",
			bodyPreference(opts.BodyType, opts.TruncationSize),
		).Add(rightsSupport(opts.RightsManagement)),
	))
	resp, err := c.do("ItemOperations", req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Name != "ItemOperations:ItemOperations" {
		return nil, fmt.Errorf("ItemOperations: %w", ErrUnexpectedResponse)
	}
	out := &FetchResponse{Status: parseStatus(resp.Child("ItemOperations:Status"))}
	fetch := resp.Find("ItemOperations:Response", "ItemOperations:Fetch")
	if fetch == nil {
		return out, nil
	}
	out.FetchStatus = parseStatus(fetch.Child("ItemOperations:Status"))
	out.Item = parseItem(fetch.Child("ItemOperations:Properties"))
	out.Item.CollectionID = fetch.Value("AirSync:CollectionId")
	out.Item.ServerID = fetch.Value("AirSync:ServerId")
	out.Item.Class = fetch.Value("AirSync:Class")
	return out, nil
}

//SearchRequest is a mailbox free text search
type SearchRequest struct {
	Query        string
	CollectionID string
	Range        string
	Options      SyncOptions
}

//SearchResponse is the decoded Search answer
type SearchResponse struct {
	Status      Status
	StoreStatus Status
	Total       int
	Results     []Item
}

//Search runs a Mailbox store search
func (c *Client) Search(r SearchRequest) (*SearchResponse, error) {
	and := E("Search:And", T("AirSync:Class", "Email"))
	if r.CollectionID != "" {
		and.Add(T("AirSync:CollectionId", r.CollectionID))
	}
	and.Add(T("Search:FreeText", r.Query))
	rng := r.Range
	if rng == "" {
		rng = "0-9"
	}
	req := E("Search:Search", E("Search:Store",
		T("Search:Name", "Mailbox"),
		E("Search:Query", and),
		E("Search:Options",
			T("Search:Range", rng),
			E("Search:RebuildResults"),
			E("Search:DeepTraversal"),
			bodyPreference(r.Options.BodyType, r.Options.TruncationSize),
		).Add(rightsSupport(r.Options.RightsManagement)),
	))
	resp, err := c.do("Search", req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Name != "Search:Search" {
		return nil, fmt.Errorf("Search: %w", ErrUnexpectedResponse)
	}
	store := resp.Find("Search:Response", "Search:Store")
	out := &SearchResponse{
		Status:      parseStatus(resp.Child("Search:Status")),
		StoreStatus: parseStatus(store.Child("Search:Status")),
	}
	out.Total, _ = strconv.Atoi(store.Value("Search:Total"))
	for _, res := range store.All("Search:Result") {
		props := res.Child("Search:Properties")
		if props == nil {
			continue
		}
		it := parseItem(props)
		it.Class = res.Value("AirSync:Class")
		it.LongID = res.Value("Search:LongId")
		it.CollectionID = res.Value("AirSync:CollectionId")
		out.Results = append(out.Results, it)
	}
	return out, nil
}
