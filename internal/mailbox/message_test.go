package mailbox

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
)

func enc(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func sampleMessage() *gmail.MessagePart {
	return &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Headers: []*gmail.MessagePartHeader{
			{Name: "From", Value: "Ops Team <ops@bank.example>"},
			{Name: "subject", Value: "March statement"},
		},
		Parts: []*gmail.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: enc("client_id: 42\nbank_name: ubs\n")}},
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<p>client_id: 42</p>")}},
				},
			},
			{Filename: "march.xlsx", Body: &gmail.MessagePartBody{AttachmentId: "att-1"}},
			{Filename: "legacy.xls", Body: &gmail.MessagePartBody{Data: enc("xls-bytes")}},
			{Filename: "._march.xlsx", Body: &gmail.MessagePartBody{AttachmentId: "att-2"}},
			{Filename: "terms.pdf", Body: &gmail.MessagePartBody{AttachmentId: "att-3"}},
		},
	}
}

func TestHeader(t *testing.T) {
	p := sampleMessage()
	assert.Equal(t, "March statement", header(p, "Subject"))
	assert.Equal(t, "", header(p, "Date"))
	assert.Equal(t, "", header(nil, "From"))
}

func TestBodyText_PrefersPlain(t *testing.T) {
	assert.Equal(t, "client_id: 42\nbank_name: ubs", bodyText(sampleMessage()))
}

func TestBodyText_HTMLFallback(t *testing.T) {
	p := &gmail.MessagePart{MimeType: "text/html", Body: &gmail.MessagePartBody{
		Data: enc("<p>client_id: 7</p><p>header_row: 2<br/>bank_name: hsbc</p>"),
	}}
	assert.Equal(t, "client_id: 7\nheader_row: 2\nbank_name: hsbc", bodyText(p))
}

func TestAttachmentRefs(t *testing.T) {
	refs := attachmentRefs(sampleMessage(), false)
	require.Len(t, refs, 1)
	assert.Equal(t, "march.xlsx", refs[0].name)
	assert.Equal(t, "att-1", refs[0].attachmentID)

	refs = attachmentRefs(sampleMessage(), true)
	require.Len(t, refs, 2)
	assert.Equal(t, "legacy.xls", refs[1].name)
	assert.NotEmpty(t, refs[1].inline)
}

func TestDecodeData(t *testing.T) {
	b, err := decodeData(enc("hello?>"))
	require.NoError(t, err)
	assert.Equal(t, "hello?>", string(b))

	b, err = decodeData(base64.RawURLEncoding.EncodeToString([]byte("hi")))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))
}

func TestNewAttachment(t *testing.T) {
	a := newAttachment("a.xlsx", []byte("hello"))
	assert.Equal(t, 5, a.Size)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", a.SHA256)
}

func TestAddress(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Ops Team <ops@bank.example>", "ops@bank.example"},
		{"ops@bank.example", "ops@bank.example"},
		{`"broken <a.b+c@x.co.uk`, "a.b+c@x.co.uk"},
		{"nobody", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Address(tt.in))
		})
	}
}

func TestBuildRaw(t *testing.T) {
	raw := buildRaw("ops@bank.example", "[ALERT] Ingest failed (Statements)", "line one\nline two")
	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)

	msg := string(decoded)
	assert.True(t, strings.HasPrefix(msg, "To: ops@bank.example\r\n"))
	assert.Contains(t, msg, "Content-Type: text/plain; charset=\"utf-8\"")
	assert.Contains(t, msg, base64.StdEncoding.EncodeToString([]byte("line one\nline two")))
}
