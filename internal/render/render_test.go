package render_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/render"
)

type attrs map[string]string

func (a attrs) Attr(name string) (string, bool) {
	v, ok := a[name]
	return v, ok
}

func mustRender(t *testing.T, src string, a render.Attributes) string {
	t.Helper()
	tpl, err := render.Parse(src)
	require.NoError(t, err)
	return tpl.Render(a)
}

func TestFieldInterpolation(t *testing.T) {
	a := attrs{"first_name": "Sara", "blank": "  "}
	assert.Equal(t, "Hi Sara!", mustRender(t, "Hi {{first_name}}!", a))
	assert.Equal(t, "Hi Sara!", mustRender(t, "Hi {{ first_name | friend }}!", a))
	assert.Equal(t, "Hi friend!", mustRender(t, "Hi {{last_name|friend}}!", a))
	assert.Equal(t, "Hi friend!", mustRender(t, "Hi {{blank|friend}}!", a))
	assert.Equal(t, "Hi !", mustRender(t, "Hi {{last_name}}!", a))
	assert.Equal(t, "Hi !", mustRender(t, "Hi {{last_name|}}!", a))
}

func TestConditional(t *testing.T) {
	src := "{{#if city=Riyadh}}Riyadh Offer{{else}}Global Offer{{/if}}"
	assert.Equal(t, "Riyadh Offer", mustRender(t, src, attrs{"city": "Riyadh"}))
	assert.Equal(t, "Global Offer", mustRender(t, src, attrs{"city": "Jeddah"}))
	assert.Equal(t, "Global Offer", mustRender(t, src, attrs{}))

	assert.Equal(t, "", mustRender(t, "{{#if city=Riyadh}}Riyadh Offer{{/if}}", attrs{"city": "Dammam"}))
	assert.Equal(t, "not vip", mustRender(t, "{{#if tier!=vip}}not vip{{/if}}", attrs{"tier": "basic"}))
	assert.Equal(t, "has phone", mustRender(t, "{{#if phone}}has phone{{else}}no phone{{/if}}", attrs{"phone": "+1"}))
	assert.Equal(t, "no phone", mustRender(t, "{{#if phone}}has phone{{else}}no phone{{/if}}", attrs{"phone": ""}))
}

func TestNestedConditionals(t *testing.T) {
	src := "{{#if city=Riyadh}}{{#if tier=vip}}VIP Riyadh{{else}}Riyadh{{/if}}{{else}}Other{{/if}}"
	assert.Equal(t, "VIP Riyadh", mustRender(t, src, attrs{"city": "Riyadh", "tier": "vip"}))
	assert.Equal(t, "Riyadh", mustRender(t, src, attrs{"city": "Riyadh"}))
	assert.Equal(t, "Other", mustRender(t, src, attrs{"city": "Jeddah", "tier": "vip"}))
}

func TestLocaleBlocks(t *testing.T) {
	src := "{{#lang ar}}مرحبا {{first_name|عميل}}{{/lang}}{{#lang en}}Hello {{first_name|customer}}{{/lang}}"

	assert.Equal(t, "مرحبا عميل", mustRender(t, src, attrs{"locale": "ar_SA", "first_name": ""}))
	assert.Equal(t, "مرحبا Sara", mustRender(t, src, attrs{"locale": "ar-SA", "first_name": "Sara"}))
	assert.Equal(t, "Hello customer", mustRender(t, src, attrs{"locale": "en_US"}))
	assert.Equal(t, "", mustRender(t, src, attrs{"locale": "fr_FR"}))
	assert.Equal(t, "", mustRender(t, src, attrs{}))
}

func TestLocaleBlockWithConditionalInside(t *testing.T) {
	src := "{{#lang en}}{{#if city=Riyadh}}Riyadh deal{{else}}Deal{{/if}}{{/lang}}"
	assert.Equal(t, "Riyadh deal", mustRender(t, src, attrs{"locale": "en", "city": "Riyadh"}))
	assert.Equal(t, "", mustRender(t, src, attrs{"locale": "ar", "city": "Riyadh"}))
}

func TestMatchLocale(t *testing.T) {
	assert.True(t, render.MatchLocale("ar", "ar_SA"))
	assert.True(t, render.MatchLocale("AR", "ar"))
	assert.True(t, render.MatchLocale("en", "en-GB"))
	assert.True(t, render.MatchLocale("pt_BR", "pt-BR"))
	assert.False(t, render.MatchLocale("pt_BR", "pt_PT"))
	assert.False(t, render.MatchLocale("en", "ar_SA"))
	assert.False(t, render.MatchLocale("ar", ""))
}

func TestValuesAreNotReparsed(t *testing.T) {
	out := mustRender(t, "Hi {{first_name}}", attrs{"first_name": "{{last_name}}", "last_name": "X"})
	assert.Equal(t, "Hi {{last_name}}", out)
}

func TestUnknownTagsStayLiteral(t *testing.T) {
	assert.Equal(t, "a {{#each x}} b {{}} c {{ d", mustRender(t, "a {{#each x}} b {{}} c {{ d", attrs{}))
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"{{#if city=Riyadh}}open",
		"{{/if}}",
		"{{#lang ar}}x{{/if}}",
		"{{#if city=Riyadh}}a{{else}}b{{else}}c{{/if}}",
		"{{#if =x}}a{{/if}}",
		"{{#lang ar}}unclosed",
	} {
		_, err := render.Parse(src)
		assert.Error(t, err, src)
	}
}

func TestRenderStringDegradesToEmpty(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	out := render.RenderString("{{#if a=b}}oops", attrs{"a": "b"}, zap.New(core))
	assert.Equal(t, "", out)
	assert.Equal(t, 1, logs.Len())

	assert.Equal(t, "ok", render.RenderString("ok", attrs{}, nil))
}

func TestRenderIsIdempotent(t *testing.T) {
	tpl, err := render.Parse("{{#if city=Riyadh}}R{{else}}G{{/if}} {{first_name|there}}")
	require.NoError(t, err)
	a := attrs{"city": "Riyadh"}
	assert.Equal(t, tpl.Render(a), tpl.Render(a))
}

func TestCompileMessageWhatsApp(t *testing.T) {
	msg, err := render.Compile(&model.Template{
		ID:           3,
		Subject:      "ignored on whatsapp",
		Body:         "Hi {{first_name|there}}",
		MediaURL:     "https://cdn.example.com/{{city|global}}.jpg",
		MediaCaption: "{{#lang ar}}عرض{{/lang}}{{#lang en}}Offer for {{city}}{{/lang}}",
		MediaType:    "image",
	})
	require.NoError(t, err)

	out := msg.Render(model.ChannelWhatsApp, attrs{"locale": "en_US", "city": "Riyadh"})
	assert.Equal(t, "Hi there", out.Body)
	assert.Equal(t, map[string]string{
		model.MetaMediaURL:     "https://cdn.example.com/Riyadh.jpg",
		model.MetaMediaType:    "image",
		model.MetaMediaCaption: "Offer for Riyadh",
	}, out.Metadata)

	email := msg.Render(model.ChannelEmail, attrs{"first_name": "Sara"})
	assert.Equal(t, "ignored on whatsapp", email.Subject)
	assert.Nil(t, email.Metadata)
}

func TestCompileRejectsBrokenOrMissingTemplate(t *testing.T) {
	_, err := render.Compile(nil)
	assert.Error(t, err)

	_, err = render.Compile(&model.Template{ID: 1, Body: "{{#if x}}"})
	assert.Error(t, err)
}
