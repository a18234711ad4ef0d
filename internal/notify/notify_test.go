package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/support-inbox/internal/domain"
)

func ptr(s string) *string { return &s }

func TestRender(t *testing.T) {
	shop := domain.Shop{Name: "Acme"}
	conv := domain.Conversation{TicketNumber: "TKT-1-000004", Subject: "Where is my order", OrderID: ptr("1001")}

	out := Render("Hi {{customer_name}}, re {{ticket_number}} ({{subject}}) order {{order_number}} from {{shop_name}} {{unknown}}", VarsFor(shop, conv))
	assert.Equal(t, "Hi there, re TKT-1-000004 (Where is my order) order 1001 from Acme {{unknown}}", out)

	conv.CustomerName = "Dana"
	assert.Equal(t, "Hi Dana", Render("Hi {{customer_name}}", VarsFor(shop, conv)))
}

func TestTextToHTML(t *testing.T) {
	assert.Equal(t, "<p>Hi &lt;you&gt;,<br>line</p><p>bye</p>", TextToHTML("Hi <you>,\nline\n\nbye"))
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Order", ReplySubject("Order"))
	assert.Equal(t, "RE: Order", ReplySubject(" RE: Order "))
}

func TestSendingAccount(t *testing.T) {
	shop := domain.Shop{Mailboxes: []domain.ShopMailbox{
		{Address: "sales@shop.com", Account: "acct-sales"},
		{Address: "support@shop.com"},
	}}
	assert.Equal(t, "support@shop.com", SendingAccount(shop, domain.Conversation{Mailbox: "SUPPORT@shop.com"}))
	assert.Equal(t, "acct-sales", SendingAccount(shop, domain.Conversation{Mailbox: "other@shop.com"}))
	assert.Empty(t, SendingAccount(domain.Shop{}, domain.Conversation{}))
}

func TestThreadHeaders(t *testing.T) {
	msgs := []domain.Message{
		{ProviderMessageID: ptr("a@mail")},
		{ProviderMessageID: ptr("b@mail"), References: []string{"a@mail"}},
		{IsInternalNote: true},
	}
	inReplyTo, refs := ThreadHeaders(msgs)
	assert.Equal(t, "b@mail", inReplyTo)
	assert.Equal(t, []string{"a@mail", "b@mail"}, refs)

	inReplyTo, refs = ThreadHeaders(nil)
	assert.Empty(t, inReplyTo)
	assert.Nil(t, refs)
}
