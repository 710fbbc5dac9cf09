package render

import (
	"fmt"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// Rendered is the per-recipient output of a step template.
type Rendered struct {
	Subject  string
	Body     string
	Metadata map[string]string
}

// Message is a step template with every field parsed once.
type Message struct {
	subject      *Template
	body         *Template
	mediaURL     *Template
	mediaCaption *Template
	mediaType    string
}

// Compile parses all renderable fields of tpl.
func Compile(tpl *model.Template) (*Message, error) {
	if tpl == nil {
		return nil, fmt.Errorf("template is missing")
	}
	m := &Message{mediaType: tpl.MediaType}
	fields := []struct {
		name string
		src  string
		dst  **Template
	}{
		{"subject", tpl.Subject, &m.subject},
		{"body", tpl.Body, &m.body},
		{"media_url", tpl.MediaURL, &m.mediaURL},
		{"media_caption", tpl.MediaCaption, &m.mediaCaption},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		t, err := Parse(f.src)
		if err != nil {
			return nil, fmt.Errorf("template %d %s: %w", tpl.ID, f.name, err)
		}
		*f.dst = t
	}
	return m, nil
}

// Render expands the message for one recipient. Structured fields land in
// Metadata only on channels that carry them.
func (m *Message) Render(ch model.Channel, attrs Attributes) Rendered {
	out := Rendered{
		Subject: m.subject.Render(attrs),
		Body:    m.body.Render(attrs),
	}
	if ch != model.ChannelWhatsApp {
		return out
	}
	meta := map[string]string{}
	if v := m.mediaURL.Render(attrs); v != "" {
		meta[model.MetaMediaURL] = v
		if m.mediaType != "" {
			meta[model.MetaMediaType] = m.mediaType
		}
	}
	if v := m.mediaCaption.Render(attrs); v != "" {
		meta[model.MetaMediaCaption] = v
	}
	if len(meta) > 0 {
		out.Metadata = meta
	}
	return out
}
