// Package template implements Action-side message formatting: a compiled
// sequence of literal text and property references (`%property%`), used to
// render a Message for modules that declared registry.RenderBytes (spec §6
// "Message template rendering").
package template

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/propresolver"
)

type part struct {
	literal    []byte
	descriptor *propresolver.Descriptor
}

// Template is a compiled sequence of literal and property parts.
type Template struct {
	parts []part
}

// Compile parses a template string containing `%property%` references
// (e.g. "%timestamp% %hostname% %syslogtag%%msg%\n") into a Template whose
// property lookups are pre-parsed once, per spec §4.2 "the descriptor
// pre-parses the textual property name... so hot-path lookups avoid string
// parsing".
func Compile(src string) (*Template, error) {
	t := &Template{}
	var lit bytes.Buffer

	i := 0
	for i < len(src) {
		if src[i] != '%' {
			lit.WriteByte(src[i])
			i++
			continue
		}
		end := strings.IndexByte(src[i+1:], '%')
		if end < 0 {
			lit.WriteByte(src[i])
			i++
			continue
		}
		name := src[i+1 : i+1+end]
		if lit.Len() > 0 {
			t.parts = append(t.parts, part{literal: append([]byte(nil), lit.Bytes()...)})
			lit.Reset()
		}
		d, err := propresolver.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("template: property %q: %w", name, err)
		}
		t.parts = append(t.parts, part{descriptor: &d})
		i += 1 + end + 1
	}
	if lit.Len() > 0 {
		t.parts = append(t.parts, part{literal: append([]byte(nil), lit.Bytes()...)})
	}
	return t, nil
}

// Render formats m according to the compiled template.
func (t *Template) Render(m *message.Message) ([]byte, error) {
	var out bytes.Buffer
	for _, p := range t.parts {
		if p.descriptor == nil {
			out.Write(p.literal)
			continue
		}
		b, mustFree, err := propresolver.Resolve(m, *p.descriptor)
		if err != nil {
			return nil, err
		}
		out.Write(b)
		_ = mustFree // nothing to free on the Go side; bytes are always owned copies or borrows under GC
	}
	return out.Bytes(), nil
}
