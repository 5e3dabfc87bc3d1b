package activesync

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

//WBXML global tokens
const (
	tokSwitchPage = 0x00
	tokEnd        = 0x01
	tokEntity     = 0x02
	tokStrI       = 0x03
	tokLiteral    = 0x04
	tokStrT       = 0x83
	tokOpaque     = 0xC3

	tagContent    = 0x40
	tagAttributes = 0x80

	wbxmlVersion = 0x03
	publicIDUnkn = 0x01
	charsetUTF8  = 0x6A
	maxMbUint32  = 5
	maxNodeDepth = 64
)

//ErrInvalidWBXML is wrapped by every decoding failure
var ErrInvalidWBXML = errors.New("invalid wbxml")

//Node is one element of an ActiveSync document. Name is "Page:Local",
//for example "AirSync:Sync".
type Node struct {
	Name     string
	Text     string
	Opaque   []byte
	Children []*Node
}

//E builds an element with children
func E(name string, children ...*Node) *Node {
	return &Node{Name: name, Children: children}
}

//T builds an element holding inline text
func T(name, text string) *Node {
	return &Node{Name: name, Text: text}
}

//O builds an element holding opaque data
func O(name string, data []byte) *Node {
	return &Node{Name: name, Opaque: data}
}

//Add appends children and returns the node
func (n *Node) Add(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

//Child returns the first direct child with the given name
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

//All returns every direct child with the given name
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

//Find follows a path of direct children
func (n *Node) Find(path ...string) *Node {
	cur := n
	for _, p := range path {
		cur = cur.Child(p)
		if cur == nil {
			return nil
		}
	}
	return cur
}

//Search returns the first descendant, depth first, with the given name
func (n *Node) Search(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
		if f := c.Search(name); f != nil {
			return f
		}
	}
	return nil
}

//Value is the text (or opaque data) found at path, "" when missing
func (n *Node) Value(path ...string) string {
	f := n.Find(path...)
	if f == nil {
		return ""
	}
	if f.Text != "" {
		return f.Text
	}
	return string(f.Opaque)
}

//String renders the tree as indented XML-ish text, used in debug output
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b, 0)
	return b.String()
}

func (n *Node) write(b *strings.Builder, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	switch {
	case len(n.Children) > 0:
		fmt.Fprintf(b, "%s<%s>\n", indent, n.Name)
		for _, c := range n.Children {
			c.write(b, depth+1)
		}
		fmt.Fprintf(b, "%s</%s>\n", indent, n.Name)
	case n.Text != "":
		fmt.Fprintf(b, "%s<%s>%s</%s>\n", indent, n.Name, n.Text, n.Name)
	case n.Opaque != nil:
		fmt.Fprintf(b, "%s<%s>[%d bytes]</%s>\n", indent, n.Name, len(n.Opaque), n.Name)
	default:
		fmt.Fprintf(b, "%s<%s/>\n", indent, n.Name)
	}
}

//Marshal encodes the document as WBXML 1.3, UTF-8, no string table
func Marshal(root *Node) ([]byte, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil document", ErrInvalidWBXML)
	}
	e := &encoder{page: -1}
	e.buf.Write([]byte{wbxmlVersion, publicIDUnkn, charsetUTF8, 0x00})
	if err := e.node(root); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

type encoder struct {
	buf  bytes.Buffer
	page int
}

func (e *encoder) node(n *Node) error {
	page, tok, err := lookupTag(n.Name)
	if err != nil {
		return err
	}
	if int(page) != e.page {
		e.buf.WriteByte(tokSwitchPage)
		e.buf.WriteByte(page)
		e.page = int(page)
	}
	if n.Text == "" && n.Opaque == nil && len(n.Children) == 0 {
		e.buf.WriteByte(tok)
		return nil
	}
	e.buf.WriteByte(tok | tagContent)
	if n.Text != "" {
		e.buf.WriteByte(tokStrI)
		e.buf.WriteString(n.Text)
		e.buf.WriteByte(0x00)
	}
	if n.Opaque != nil {
		e.buf.WriteByte(tokOpaque)
		e.buf.Write(mbUint32(uint32(len(n.Opaque))))
		e.buf.Write(n.Opaque)
	}
	for _, c := range n.Children {
		if err := e.node(c); err != nil {
			return err
		}
	}
	e.buf.WriteByte(tokEnd)
	return nil
}

func mbUint32(v uint32) []byte {
	out := []byte{byte(v & 0x7F)}
	v >>= 7
	for v > 0 {
		out = append([]byte{byte(v&0x7F) | 0x80}, out...)
		v >>= 7
	}
	return out
}

//Unmarshal decodes a WBXML document into its root element
func Unmarshal(b []byte) (*Node, error) {
	d := &wbxmlDecoder{buf: b}
	if err := d.header(); err != nil {
		return nil, err
	}
	//a document may open with a page switch before its root
	for d.pos < len(d.buf) && d.buf[d.pos] == tokSwitchPage {
		if err := d.switchPage(); err != nil {
			return nil, err
		}
	}
	if d.pos >= len(d.buf) {
		return nil, d.errorf("missing root element")
	}
	root, err := d.element(0)
	if err != nil {
		return nil, err
	}
	return root, nil
}

type wbxmlDecoder struct {
	buf     []byte
	pos     int
	page    byte
	strings []byte
}

func (d *wbxmlDecoder) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w at offset %d: %s", ErrInvalidWBXML, d.pos, fmt.Sprintf(format, args...))
}

func (d *wbxmlDecoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, d.errorf("unexpected end of document")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *wbxmlDecoder) mbUint32() (uint32, error) {
	var v uint32
	for i := 0; i < maxMbUint32; i++ {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, d.errorf("mb_u_int32 too long")
}

func (d *wbxmlDecoder) header() error {
	if _, err := d.readByte(); err != nil { //version
		return err
	}
	pub, err := d.mbUint32()
	if err != nil {
		return err
	}
	if pub == 0 {
		//public id is a string table reference
		if _, err := d.mbUint32(); err != nil {
			return err
		}
	}
	if _, err := d.mbUint32(); err != nil { //charset
		return err
	}
	n, err := d.mbUint32()
	if err != nil {
		return err
	}
	if d.pos+int(n) > len(d.buf) {
		return d.errorf("string table length %d", n)
	}
	d.strings = d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return nil
}

func (d *wbxmlDecoder) switchPage() error {
	d.pos++
	p, err := d.readByte()
	if err != nil {
		return err
	}
	d.page = p
	return nil
}

func (d *wbxmlDecoder) cstring() (string, error) {
	end := bytes.IndexByte(d.buf[d.pos:], 0x00)
	if end < 0 {
		return "", d.errorf("unterminated inline string")
	}
	s := string(d.buf[d.pos : d.pos+end])
	d.pos += end + 1
	return s, nil
}

func (d *wbxmlDecoder) tableString(off uint32) (string, error) {
	if int(off) >= len(d.strings) {
		return "", d.errorf("string table offset %d", off)
	}
	s := d.strings[off:]
	if end := bytes.IndexByte(s, 0x00); end >= 0 {
		s = s[:end]
	}
	return string(s), nil
}

func (d *wbxmlDecoder) element(depth int) (*Node, error) {
	if depth > maxNodeDepth {
		return nil, d.errorf("document nested too deep")
	}
	tok, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if tok&tagAttributes != 0 {
		return nil, d.errorf("attributes are not supported")
	}
	n := &Node{Name: tagName(d.page, tok&0x3F)}
	if tok&tagContent == 0 {
		return n, nil
	}
	for {
		if d.pos >= len(d.buf) {
			return nil, d.errorf("element %s is not closed", n.Name)
		}
		switch d.buf[d.pos] {
		case tokEnd:
			d.pos++
			return n, nil
		case tokSwitchPage:
			if err := d.switchPage(); err != nil {
				return nil, err
			}
		case tokStrI:
			d.pos++
			s, err := d.cstring()
			if err != nil {
				return nil, err
			}
			n.Text += s
		case tokStrT:
			d.pos++
			off, err := d.mbUint32()
			if err != nil {
				return nil, err
			}
			s, err := d.tableString(off)
			if err != nil {
				return nil, err
			}
			n.Text += s
		case tokEntity:
			d.pos++
			c, err := d.mbUint32()
			if err != nil {
				return nil, err
			}
			n.Text += string(rune(c))
		case tokOpaque:
			d.pos++
			l, err := d.mbUint32()
			if err != nil {
				return nil, err
			}
			if d.pos+int(l) > len(d.buf) {
				return nil, d.errorf("opaque length %d", l)
			}
			n.Opaque = append(n.Opaque, d.buf[d.pos:d.pos+int(l)]...)
			d.pos += int(l)
		case tokLiteral:
			return nil, d.errorf("literal tags are not supported")
		default:
			c, err := d.element(depth + 1)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, c)
		}
	}
}

//lookupTag maps "Page:Local" to its code page and token. Names of the
//generic form "Page:0xNN" are accepted so decoded trees re-encode.
func lookupTag(name string) (byte, byte, error) {
	if t, ok := tagsByName[name]; ok {
		return t.page, t.token, nil
	}
	i := strings.IndexByte(name, ':')
	if i < 0 {
		return 0, 0, fmt.Errorf("%w: tag %q has no code page", ErrInvalidWBXML, name)
	}
	page, ok := pageByName(name[:i])
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown code page in %q", ErrInvalidWBXML, name)
	}
	if strings.HasPrefix(name[i+1:], "0x") {
		v, err := strconv.ParseUint(name[i+3:], 16, 8)
		if err == nil && v >= 0x05 && v <= 0x3F {
			return page, byte(v), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: unknown tag %q", ErrInvalidWBXML, name)
}

func tagName(page, token byte) string {
	cp, ok := codePages[page]
	if !ok {
		return fmt.Sprintf("0x%02X:0x%02X", page, token)
	}
	if name, ok := cp.tags[token]; ok {
		return cp.name + ":" + name
	}
	return fmt.Sprintf("%s:0x%02X", cp.name, token)
}

func pageByName(s string) (byte, bool) {
	for p, cp := range codePages {
		if cp.name == s {
			return p, true
		}
	}
	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseUint(s[2:], 16, 8)
		if err == nil {
			return byte(v), true
		}
	}
	return 0, false
}
