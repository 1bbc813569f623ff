package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument("http://example.test/index.html")

	require.NotNil(t, doc.Head())
	require.NotNil(t, doc.Body())
	assert.Equal(t, "http://example.test/index.html", doc.URL())
	assert.True(t, doc.Contains(doc.Body()))
	assert.False(t, doc.Contains(NewElement("div")))
	assert.False(t, doc.Contains(nil))
}

func TestParseTitle(t *testing.T) {
	doc, err := Parse("http://example.test/", strings.NewReader(
		"<html><head><title> Root </title></head><body><p>x</p></body></html>"))
	require.NoError(t, err)
	assert.Equal(t, "Root", doc.Title())
}

func TestMutationRecords(t *testing.T) {
	doc := NewDocument("http://example.test/")

	var records []MutationRecord
	stop := doc.Observe(func(r MutationRecord) { records = append(records, r) })

	outer := doc.CreateElement("div")
	inner := doc.CreateElement("span")
	outer.AppendChild(inner)

	doc.AppendChild(doc.Body(), outer)
	require.Len(t, records, 1)
	assert.Equal(t, doc.Body(), records[0].Target)
	assert.Equal(t, []*html.Node{outer}, records[0].Added)
	assert.True(t, doc.Contains(inner))

	t.Run("move records removal then addition", func(t *testing.T) {
		records = nil
		other := doc.CreateElement("section")
		doc.AppendChild(doc.Body(), other)
		doc.AppendChild(other, outer)

		require.Len(t, records, 3)
		assert.Equal(t, []*html.Node{outer}, records[1].Removed)
		assert.Equal(t, other, records[2].Target)
		assert.Equal(t, []*html.Node{outer}, records[2].Added)
	})

	t.Run("remove", func(t *testing.T) {
		records = nil
		doc.Remove(outer)
		require.Len(t, records, 1)
		assert.Equal(t, []*html.Node{outer}, records[0].Removed)
		assert.False(t, doc.Contains(inner))

		// detached node: nothing to record
		doc.Remove(outer)
		assert.Len(t, records, 1)
	})

	t.Run("stop", func(t *testing.T) {
		records = nil
		stop()
		doc.AppendChild(doc.Body(), doc.CreateElement("p"))
		assert.Empty(t, records)
	})
}

func TestReplaceChildren(t *testing.T) {
	doc := NewDocument("http://example.test/")
	old := doc.CreateElement("p")
	doc.AppendChild(doc.Body(), old)

	var last MutationRecord
	doc.Observe(func(r MutationRecord) { last = r })

	fresh := doc.CreateElement("section")
	doc.ReplaceChildren(doc.Body(), fresh)

	assert.Equal(t, []*html.Node{old}, last.Removed)
	assert.Equal(t, []*html.Node{fresh}, last.Added)
	assert.Equal(t, "<section></section>", doc.InnerHTML(doc.Body()))
}

func TestQueryAll(t *testing.T) {
	doc, err := Parse("http://example.test/", strings.NewReader(`<html><body>
		<div id="root" data-gadget-url="a.html">
			<div data-gadget-url="b.html"></div>
			<p><span data-gadget-url="c.html"></span></p>
		</div></body></html>`))
	require.NoError(t, err)

	all := doc.QueryAll(doc.Body(), "[data-gadget-url]")
	assert.Len(t, all, 3)

	root := all[0]
	nested := doc.QueryAll(root, "[data-gadget-url]")
	require.Len(t, nested, 2)
	v, ok := doc.Attr(nested[1], "data-gadget-url")
	assert.True(t, ok)
	assert.Equal(t, "c.html", v)
}

func TestData(t *testing.T) {
	doc := NewDocument("http://example.test/")
	node := doc.CreateElement("div")

	assert.Nil(t, doc.Data(node, "gadget"))
	doc.SetData(node, "gadget", 42)
	assert.Equal(t, 42, doc.Data(node, "gadget"))
}

func TestEvents(t *testing.T) {
	doc := NewDocument("http://example.test/")
	container := doc.CreateElement("div")
	button := doc.CreateElement("button")
	container.AppendChild(button)
	doc.AppendChild(doc.Body(), container)

	var got []string
	remove := doc.AddEventListener(container, "click", func(ev Event) {
		got = append(got, "container:"+ev.Target.Data)
	})
	doc.AddEventListener(doc.Body(), "click", func(ev Event) {
		got = append(got, "body")
	})
	doc.AddEventListener(container, "submit", func(Event) {
		got = append(got, "submit")
	})

	doc.Dispatch(button, Event{Type: "click"})
	assert.Equal(t, []string{"container:button", "body"}, got)

	got = nil
	remove()
	remove()
	doc.Dispatch(button, Event{Type: "click"})
	assert.Equal(t, []string{"body"}, got)
}

func TestSetInnerHTML(t *testing.T) {
	doc := NewDocument("http://example.test/")
	node := doc.CreateElement("div")
	doc.AppendChild(doc.Body(), node)

	err := doc.SetInnerHTML(node, `<p class="x" onclick="evil()">hi</p><script>alert(1)</script><div data-gadget-url="g.html"></div>`)
	require.NoError(t, err)

	inner := doc.InnerHTML(node)
	assert.Contains(t, inner, `<p class="x">hi</p>`)
	assert.Contains(t, inner, `data-gadget-url="g.html"`)
	assert.NotContains(t, inner, "script")
	assert.NotContains(t, inner, "onclick")
}

func TestCloneTree(t *testing.T) {
	src := Build("div", []html.Attribute{{Key: "class", Val: "a"}},
		Build("span", nil, NewText("hello")))

	clone := CloneTree(src)
	require.NotSame(t, src, clone)
	assert.Equal(t, OuterHTML(src), OuterHTML(clone))

	SetAttr(clone, "class", "b")
	v, _ := Attr(src, "class")
	assert.Equal(t, "a", v)
}
