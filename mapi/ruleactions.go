package mapi

import (
	"fmt"

	"github.com/sensepost/exconform/utils"
)

//ActionType values of an ActionBlock
const (
	OPMOVE        = 0x01
	OPCOPY        = 0x02
	OPREPLY       = 0x03
	OPOOFREPLY    = 0x04
	OPDEFERACTION = 0x05
	OPBOUNCE      = 0x06
	OPFORWARD     = 0x07
	OPDELEGATE    = 0x08
	OPTAG         = 0x09
	OPDELETE      = 0x0A
	OPMARKASREAD  = 0x0B
)

//ActionFlavor bits for OP_REPLY and OP_OOF_REPLY
const (
	FlavorNS = 0x00000001 //do not send to originator
	FlavorST = 0x00000002 //use the template text as the reply
)

//ActionFlavor bits for OP_FORWARD
const (
	FlavorPR = 0x00000001 //preserve sender
	FlavorNC = 0x00000002 //do not munge
	FlavorAT = 0x00000004 //forward as attachment
	FlavorTM = 0x00000008 //forward as text message
)

//BounceCode values
const (
	BounceMessageSize     = 0x0000000D
	BounceMessageRejected = 0x0000001F
	BounceAccessDenied    = 0x00000026
)

var actionNames = map[uint8]string{
	OPMOVE:        "OP_MOVE",
	OPCOPY:        "OP_COPY",
	OPREPLY:       "OP_REPLY",
	OPOOFREPLY:    "OP_OOF_REPLY",
	OPDEFERACTION: "OP_DEFER_ACTION",
	OPBOUNCE:      "OP_BOUNCE",
	OPFORWARD:     "OP_FORWARD",
	OPDELEGATE:    "OP_DELEGATE",
	OPTAG:         "OP_TAG",
	OPDELETE:      "OP_DELETE",
	OPMARKASREAD:  "OP_MARK_AS_READ",
}

//ActionName returns the OP_ name of an action type
func ActionName(t uint8) string {
	if n, ok := actionNames[t]; ok {
		return n
	}
	return fmt.Sprintf("OP_UNKNOWN(0x%02X)", t)
}

//RuleAction is the PidTagRuleActions value, and the RuleActionBuffer of an extended rule.
//Standard rules use 2 byte counts and lengths, extended rules 4 bytes.
type RuleAction struct {
	NoOfActions  uint32
	ActionBlocks []ActionBlock
}

//ActionBlock is a single action
type ActionBlock struct {
	ActionLength uint32
	ActionType   uint8
	ActionFlavor uint32
	ActionFlags  uint32
	ActionData   ActionData
	//Trailing holds bytes covered by ActionLength that the action data did not use
	Trailing []byte
}

//ActionData is the type specific part of an ActionBlock
type ActionData interface {
	marshal(width int) []byte
}

//MoveCopyActionData OP_MOVE and OP_COPY
type MoveCopyActionData struct {
	FolderInThisStore uint8 //standard rules only
	StoreEID          []byte
	FolderEID         []byte
}

//ReplyActionData OP_REPLY and OP_OOF_REPLY.
//Standard rules carry the template FID/MID, extended rules a Message EntryID.
type ReplyActionData struct {
	ReplyTemplateFID        []byte
	ReplyTemplateMID        []byte
	ReplyTemplateMessageEID []byte
	ReplyTemplateGUID       []byte
}

//DeferredActionData OP_DEFER_ACTION, opaque to the server
type DeferredActionData struct {
	Data []byte
}

//BounceActionData OP_BOUNCE
type BounceActionData struct {
	BounceCode uint32
}

//ForwardDelegateActionData OP_FORWARD and OP_DELEGATE
type ForwardDelegateActionData struct {
	RecipientCount  uint32
	RecipientBlocks []RecipientBlock
}

//RecipientBlock is one forward or delegate target
type RecipientBlock struct {
	Reserved       uint8 //standard rules only, always 0x01
	NoOfProperties uint32
	PropertyValues []TaggedPropertyValue
}

//TagActionData OP_TAG
type TagActionData struct {
	TaggedValue TaggedPropertyValue
}

//Get returns the value with the tag
func (rb RecipientBlock) Get(tag PropertyTag) (TaggedPropertyValue, bool) {
	for _, p := range rb.PropertyValues {
		if p.PropertyTag == tag {
			return p, true
		}
	}
	return TaggedPropertyValue{}, false
}

func (m MoveCopyActionData) marshal(width int) []byte {
	b := []byte{}
	if width == 2 {
		b = append(b, m.FolderInThisStore)
	}
	b = append(b, count(len(m.StoreEID), width)...)
	b = append(b, m.StoreEID...)
	b = append(b, count(len(m.FolderEID), width)...)
	return append(b, m.FolderEID...)
}

func (r ReplyActionData) marshal(width int) []byte {
	b := []byte{}
	if width == 2 {
		b = append(b, r.ReplyTemplateFID...)
		b = append(b, r.ReplyTemplateMID...)
	} else {
		b = append(b, utils.COUNT32(len(r.ReplyTemplateMessageEID))...)
		b = append(b, r.ReplyTemplateMessageEID...)
	}
	return append(b, r.ReplyTemplateGUID...)
}

func (r DeferredActionData) marshal(width int) []byte {
	return append([]byte(nil), r.Data...)
}

func (r BounceActionData) marshal(width int) []byte {
	return utils.EncodeNum(r.BounceCode)
}

func (r ForwardDelegateActionData) marshal(width int) []byte {
	b := count(len(r.RecipientBlocks), width)
	for _, rb := range r.RecipientBlocks {
		b = append(b, rb.marshal(width)...)
	}
	return b
}

func (rb RecipientBlock) marshal(width int) []byte {
	b := []byte{}
	if width == 2 {
		b = append(b, 0x01)
		b = append(b, utils.COUNT(len(rb.PropertyValues))...)
	} else {
		b = append(b, utils.COUNT32(len(rb.PropertyValues))...)
	}
	for _, p := range rb.PropertyValues {
		b = append(b, p.Marshal()...)
	}
	return b
}

func (t TagActionData) marshal(width int) []byte {
	return t.TaggedValue.Marshal()
}

//Marshal turn the RuleAction into bytes, counts and lengths are derived from the blocks
func (ruleAction RuleAction) Marshal(extended bool) []byte {
	width := countWidth(extended)
	b := count(len(ruleAction.ActionBlocks), width)
	for _, ab := range ruleAction.ActionBlocks {
		b = append(b, ab.marshal(width)...)
	}
	return b
}

func (ab ActionBlock) marshal(width int) []byte {
	body := []byte{ab.ActionType}
	body = append(body, utils.EncodeNum(ab.ActionFlavor)...)
	body = append(body, utils.EncodeNum(ab.ActionFlags)...)
	if ab.ActionData != nil {
		body = append(body, ab.ActionData.marshal(width)...)
	}
	return append(count(len(body), width), body...)
}

//DecodeRuleAction decodes a RuleAction, extended selects 4 byte counts
func DecodeRuleAction(buf []byte, extended bool) (*RuleAction, error) {
	ra := &RuleAction{}
	if _, err := ra.unmarshal(buf, extended); err != nil {
		return nil, err
	}
	return ra, nil
}

//Unmarshal decodes a standard RuleAction, returning the bytes consumed
func (ruleAction *RuleAction) Unmarshal(buf []byte) (int, error) {
	return ruleAction.unmarshal(buf, false)
}

func (ruleAction *RuleAction) unmarshal(buf []byte, extended bool) (int, error) {
	width := countWidth(extended)
	d := newDecoder("RuleAction", buf)
	n := d.count("NoOfActions", width)
	ruleAction.NoOfActions = uint32(n)
	ruleAction.ActionBlocks = nil
	for i := 0; i < n && d.err == nil; i++ {
		ruleAction.ActionBlocks = append(ruleAction.ActionBlocks, readActionBlock(d, width))
	}
	if d.err != nil {
		return 0, d.err
	}
	return d.pos, nil
}

func readActionBlock(d *decoder, width int) ActionBlock {
	ab := ActionBlock{}
	ab.ActionLength = uint32(d.count("ActionLength", width))
	body := d.sub("ActionBlock", int(ab.ActionLength))
	ab.ActionType = body.uint8("ActionType")
	ab.ActionFlavor = body.uint32("ActionFlavor")
	ab.ActionFlags = body.uint32("ActionFlags")
	if body.err == nil {
		ab.ActionData = readActionData(body, ab.ActionType, width)
	}
	if body.err == nil && body.remaining() > 0 {
		ab.Trailing = body.bytes("Trailing", body.remaining())
	}
	d.absorb(body)
	return ab
}

func readActionData(d *decoder, actionType uint8, width int) ActionData {
	switch actionType {
	case OPMOVE, OPCOPY:
		m := MoveCopyActionData{}
		if width == 2 {
			m.FolderInThisStore = d.uint8("FolderInThisStore")
		}
		m.StoreEID = d.bytes("StoreEID", d.count("StoreEIDSize", width))
		m.FolderEID = d.bytes("FolderEID", d.count("FolderEIDSize", width))
		return m
	case OPREPLY, OPOOFREPLY:
		r := ReplyActionData{}
		if width == 2 {
			r.ReplyTemplateFID = d.bytes("ReplyTemplateFID", 8)
			r.ReplyTemplateMID = d.bytes("ReplyTemplateMID", 8)
		} else {
			r.ReplyTemplateMessageEID = d.bytes("ReplyTemplateMessageEID", d.count("MessageEIDSize", width))
		}
		r.ReplyTemplateGUID = d.bytes("ReplyTemplateGUID", 16)
		return r
	case OPDEFERACTION:
		return DeferredActionData{Data: d.bytes("DeferredActionData", d.remaining())}
	case OPBOUNCE:
		return BounceActionData{BounceCode: d.uint32("BounceCode")}
	case OPFORWARD, OPDELEGATE:
		f := ForwardDelegateActionData{}
		n := d.count("RecipientCount", width)
		f.RecipientCount = uint32(n)
		for i := 0; i < n && d.err == nil; i++ {
			f.RecipientBlocks = append(f.RecipientBlocks, readRecipientBlock(d, width))
		}
		return f
	case OPTAG:
		return TagActionData{TaggedValue: readTaggedValue(d, width)}
	case OPDELETE, OPMARKASREAD:
		return nil
	}
	d.failf("ActionType", "unknown action type 0x%02X", actionType)
	return nil
}

func readRecipientBlock(d *decoder, width int) RecipientBlock {
	rb := RecipientBlock{}
	if width == 2 {
		rb.Reserved = d.uint8("Reserved")
	}
	n := d.count("NoOfProperties", width)
	rb.NoOfProperties = uint32(n)
	for i := 0; i < n && d.err == nil; i++ {
		rb.PropertyValues = append(rb.PropertyValues, readTaggedValue(d, width))
	}
	return rb
}

//NewActionBlock builds an ActionBlock, ActionLength is filled in on Marshal
func NewActionBlock(actionType uint8, flavor uint32, data ActionData) ActionBlock {
	return ActionBlock{ActionType: actionType, ActionFlavor: flavor, ActionData: data}
}

//NewRuleAction builds a RuleAction from its blocks
func NewRuleAction(blocks ...ActionBlock) RuleAction {
	return RuleAction{NoOfActions: uint32(len(blocks)), ActionBlocks: blocks}
}

//DataLength is the number of bytes ActionLength should cover for this block
func (ab ActionBlock) DataLength(extended bool) int {
	width := countWidth(extended)
	return len(ab.marshal(width)) - width + len(ab.Trailing)
}
