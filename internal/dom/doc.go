// Package dom is the live document shared by the gadgets of one page.
//
// Document wraps an x/net/html tree: tree mutations are reported to
// observers, events bubble to listeners, and arbitrary values can be
// attached to nodes. Queries use CSS selectors (goquery); class definitions
// are read with XPath (htmlquery); script-provided markup is sanitized
// (bluemonday).
package dom
