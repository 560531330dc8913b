package message

import "strings"

type nodeKind int

const (
	nodeObject nodeKind = iota
	nodeValue
)

// payloadNode is one node of the structured ("CEE", `$!`) payload tree
// (spec §3 "Structured payload"). The tree is a DAG with no cycles (spec
// §9), so straightforward ownership and iterative teardown (see
// Message.destroy) suffice.
type payloadNode struct {
	kind     nodeKind
	value    interface{}
	children map[string]*payloadNode
}

func (n *payloadNode) deepCopy() payloadNode {
	out := payloadNode{kind: n.kind, value: n.value}
	if n.children != nil {
		out.children = make(map[string]*payloadNode, len(n.children))
		for k, c := range n.children {
			cp := c.deepCopy()
			out.children[k] = &cp
		}
	}
	return out
}

// parsePath splits a property path like "$!a!b!c" or "a.b.c" into
// segments, stripping the CEE root marker if present. A bare "$!" names the
// payload root and yields no segments; an empty segment (e.g. "a..b") is
// malformed.
func parsePath(path string) ([]string, error) {
	path = strings.TrimPrefix(path, "$!")
	path = strings.TrimPrefix(path, "!")
	if path == "" {
		return nil, nil
	}
	sep := "!"
	if !strings.Contains(path, "!") {
		sep = "."
	}
	segments := strings.Split(path, sep)
	for _, s := range segments {
		if s == "" {
			return nil, ErrBadPath
		}
	}
	return segments, nil
}

// MergeSubtree atomically inserts value at the given JSON path under the
// payload mutex, replacing any existing subtree at that path (spec §4.1
// "merge_subtree(path, json-value)"). An empty path replaces the CEE root
// wholesale, which is how enrichment modules like a metadata filter graft a
// whole subtree in one call.
func (m *Message) MergeSubtree(path string, value interface{}) error {
	segments, err := parsePath(path)
	if err != nil {
		return err
	}

	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()

	if len(segments) == 0 {
		m.payload = nodeFromValue(value)
		return nil
	}

	n := &m.payload
	for _, seg := range segments[:len(segments)-1] {
		if n.children == nil {
			n.children = make(map[string]*payloadNode)
		}
		child, ok := n.children[seg]
		if !ok {
			child = &payloadNode{kind: nodeObject, children: make(map[string]*payloadNode)}
			n.children[seg] = child
		}
		n = child
	}
	if n.children == nil {
		n.children = make(map[string]*payloadNode)
	}
	leaf := nodeFromValue(value)
	n.children[segments[len(segments)-1]] = &leaf
	return nil
}

func nodeFromValue(value interface{}) payloadNode {
	if m, ok := value.(map[string]interface{}); ok {
		n := payloadNode{kind: nodeObject, children: make(map[string]*payloadNode, len(m))}
		for k, v := range m {
			child := nodeFromValue(v)
			n.children[k] = &child
		}
		return n
	}
	return payloadNode{kind: nodeValue, value: value}
}

// PayloadAt reads the value at the given JSON path into the structured
// payload. The returned value is borrowed: valid until the next
// MergeSubtree call, per spec §4.1 "the borrow is valid until the next
// mutation of the structured payload".
func (m *Message) PayloadAt(path string) (interface{}, bool, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}

	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()

	n := &m.payload
	for _, seg := range segments {
		if n.children == nil {
			return nil, false, nil
		}
		child, ok := n.children[seg]
		if !ok {
			return nil, false, nil
		}
		n = child
	}

	if n.kind == nodeValue {
		return n.value, true, nil
	}
	return n.toMap(), true, nil
}

func (n *payloadNode) toMap() map[string]interface{} {
	out := make(map[string]interface{}, len(n.children))
	for k, c := range n.children {
		if c.kind == nodeValue {
			out[k] = c.value
		} else {
			out[k] = c.toMap()
		}
	}
	return out
}

// DeDot rewrites every dot in structured-payload keys at and below path to
// replacement, per spec §8 scenario S6. It is applied by enrichment modules
// (e.g. Kubernetes metadata) whose upstream keys may contain dots that some
// sinks disallow.
func (m *Message) DeDot(path, replacement string) error {
	segments, err := parsePath(path)
	if err != nil {
		return err
	}

	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()

	n := &m.payload
	for _, seg := range segments {
		if n.children == nil {
			return nil
		}
		child, ok := n.children[seg]
		if !ok {
			return nil
		}
		n = child
	}

	deDotNode(n, replacement)
	return nil
}

func deDotNode(n *payloadNode, replacement string) {
	if n.children == nil {
		return
	}
	renamed := make(map[string]*payloadNode, len(n.children))
	for k, c := range n.children {
		deDotNode(c, replacement)
		newKey := strings.ReplaceAll(k, ".", replacement)
		renamed[newKey] = c
	}
	n.children = renamed
}
