package dom

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MutationRecord describes one child-list change
type MutationRecord struct {
	Target  *html.Node
	Added   []*html.Node
	Removed []*html.Node
}

// Event is dispatched to listeners on the target and its ancestors
type Event struct {
	Type   string
	Target *html.Node
	Detail any
}

// Listener handles a dispatched event
type Listener func(Event)

type listener struct {
	typ string
	fn  Listener
}

// Document is a live HTML tree shared by every gadget of one page.
// All tree mutation goes through Document so observers see it.
type Document struct {
	url string

	mu        sync.RWMutex
	root      *html.Node
	head      *html.Node
	body      *html.Node
	data      map[*html.Node]map[string]any
	listeners map[*html.Node][]*listener
	observers map[int]func(MutationRecord)
	nextObs   int
	sanitizer *bluemonday.Policy
}

// NewDocument creates an empty document located at url
func NewDocument(url string) *Document {
	doc, err := Parse(url, strings.NewReader("<!DOCTYPE html><html><head></head><body></body></html>"))
	if err != nil {
		// static markup
		panic(err)
	}
	return doc
}

// Parse parses markup into a document located at url
func Parse(url string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowDataAttributes()
	sanitizer.AllowAttrs("class", "id").Globally()

	d := &Document{
		url:       url,
		root:      root,
		data:      make(map[*html.Node]map[string]any),
		listeners: make(map[*html.Node][]*listener),
		observers: make(map[int]func(MutationRecord)),
		sanitizer: sanitizer,
	}
	d.head = findElement(root, atom.Head)
	d.body = findElement(root, atom.Body)
	if d.head == nil || d.body == nil {
		return nil, fmt.Errorf("parse document: missing head or body")
	}
	return d, nil
}

func (d *Document) URL() string { return d.url }
func (d *Document) Root() *html.Node { return d.root }
func (d *Document) Head() *html.Node { return d.head }
func (d *Document) Body() *html.Node { return d.body }

// Title returns the text of the head's <title>
func (d *Document) Title() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if t := findElement(d.head, atom.Title); t != nil {
		return strings.TrimSpace(textContent(t))
	}
	return ""
}

// CreateElement returns a detached element
func (d *Document) CreateElement(tag string) *html.Node {
	return NewElement(tag)
}

// AppendChild moves child to the end of parent's children
func (d *Document) AppendChild(parent, child *html.Node) {
	d.mu.Lock()
	records := d.detachLocked(child)
	parent.AppendChild(child)
	records = append(records, MutationRecord{Target: parent, Added: []*html.Node{child}})
	d.mu.Unlock()

	d.notify(records)
}

// PrependChild moves child to the front of parent's children
func (d *Document) PrependChild(parent, child *html.Node) {
	d.mu.Lock()
	records := d.detachLocked(child)
	parent.InsertBefore(child, parent.FirstChild)
	records = append(records, MutationRecord{Target: parent, Added: []*html.Node{child}})
	d.mu.Unlock()

	d.notify(records)
}

// Remove detaches node from its parent
func (d *Document) Remove(node *html.Node) {
	d.mu.Lock()
	records := d.detachLocked(node)
	d.mu.Unlock()

	d.notify(records)
}

// ReplaceChildren replaces every child of parent with children
func (d *Document) ReplaceChildren(parent *html.Node, children ...*html.Node) {
	d.mu.Lock()
	record := MutationRecord{Target: parent}
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		parent.RemoveChild(c)
		record.Removed = append(record.Removed, c)
		c = next
	}
	var records []MutationRecord
	for _, child := range children {
		records = append(records, d.detachLocked(child)...)
		parent.AppendChild(child)
	}
	record.Added = children
	records = append(records, record)
	d.mu.Unlock()

	d.notify(records)
}

// SetInnerHTML sanitizes markup and replaces node's children with it
func (d *Document) SetInnerHTML(node *html.Node, markup string) error {
	clean := d.sanitizer.Sanitize(markup)
	nodes, err := html.ParseFragment(strings.NewReader(clean), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	d.ReplaceChildren(node, nodes...)
	return nil
}

func (d *Document) detachLocked(node *html.Node) []MutationRecord {
	if node.Parent == nil {
		return nil
	}
	parent := node.Parent
	parent.RemoveChild(node)
	return []MutationRecord{{Target: parent, Removed: []*html.Node{node}}}
}

// Contains reports whether node is attached to this document
func (d *Document) Contains(node *html.Node) bool {
	if node == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	for n := node; n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

// Attr returns an attribute value
func (d *Document) Attr(node *html.Node, key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Attr(node, key)
}

// SetAttr sets or replaces an attribute
func (d *Document) SetAttr(node *html.Node, key, val string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	SetAttr(node, key, val)
}

// QueryAll returns the descendants of node matching a CSS selector
func (d *Document) QueryAll(node *html.Node, selector string) []*html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	found := goquery.NewDocumentFromNode(node).Find(selector).Nodes
	return append([]*html.Node(nil), found...)
}

// SetData attaches a value to node under key
func (d *Document) SetData(node *html.Node, key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.data[node]
	if !ok {
		m = make(map[string]any)
		d.data[node] = m
	}
	m[key] = value
}

// Data returns the value attached to node under key
func (d *Document) Data(node *html.Node, key string) any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.data[node][key]
}

// AddEventListener registers fn for events of typ reaching node.
// The returned function removes the listener.
func (d *Document) AddEventListener(node *html.Node, typ string, fn Listener) (remove func()) {
	l := &listener{typ: typ, fn: fn}

	d.mu.Lock()
	d.listeners[node] = append(d.listeners[node], l)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			list := d.listeners[node]
			for i, candidate := range list {
				if candidate == l {
					d.listeners[node] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(d.listeners[node]) == 0 {
				delete(d.listeners, node)
			}
		})
	}
}

// Dispatch delivers ev to listeners on target, then on each ancestor
func (d *Document) Dispatch(target *html.Node, ev Event) {
	ev.Target = target

	d.mu.RLock()
	var fns []Listener
	for n := target; n != nil; n = n.Parent {
		for _, l := range d.listeners[n] {
			if l.typ == ev.Type {
				fns = append(fns, l.fn)
			}
		}
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Observe subscribes fn to child-list mutations of the whole document.
// Records are delivered synchronously after the mutation, outside the lock.
func (d *Document) Observe(fn func(MutationRecord)) (stop func()) {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

func (d *Document) notify(records []MutationRecord) {
	if len(records) == 0 {
		return
	}

	d.mu.RLock()
	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(MutationRecord), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, d.observers[id])
	}
	d.mu.RUnlock()

	for _, record := range records {
		for _, fn := range fns {
			fn(record)
		}
	}
}

// Render serializes the whole document
func (d *Document) Render() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// OuterHTML serializes node
func (d *Document) OuterHTML(node *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return OuterHTML(node)
}

// InnerHTML serializes node's children
func (d *Document) InnerHTML(node *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var buf bytes.Buffer
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// TextContent returns the concatenated text of node's subtree
func (d *Document) TextContent(node *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return textContent(node)
}
