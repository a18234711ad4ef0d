package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/automation"
	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/mail"
	"github.com/spec-kit/support-inbox/internal/repository/memory"
)

type fakeProvider struct {
	mu   sync.Mutex
	sent []domain.Envelope
	id   string
	err  error
}

func (p *fakeProvider) FetchNewMessages(context.Context, string, domain.FolderKind, string) ([]domain.CanonicalMessage, error) {
	return nil, nil
}

func (p *fakeProvider) FetchMessageBody(context.Context, string, string) (mail.Body, error) {
	return mail.Body{}, nil
}

func (p *fakeProvider) SendMessage(_ context.Context, env domain.Envelope) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, env)
	return p.id, nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func seedConversation(t *testing.T, store *memory.Store) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	shop := domain.Shop{Name: "Acme", Mailboxes: []domain.ShopMailbox{{Address: "support@shop.com"}}}
	require.NoError(t, store.Shops().Create(ctx, &shop))
	conv := &domain.Conversation{
		ShopID:        shop.ID,
		ThreadID:      "t-1",
		Subject:       "Order",
		Mailbox:       "support@shop.com",
		CustomerEmail: "cust@x.com",
		Status:        domain.StatusOpen,
		Priority:      domain.PriorityNormal,
		CreatedAt:     t0,
		LastMessageAt: t0,
	}
	require.NoError(t, store.Conversations().Create(ctx, conv))
	return conv
}

func replyTask(conv *domain.Conversation) domain.OutboundTask {
	convID := conv.ID
	return domain.OutboundTask{
		Kind:           domain.TaskReply,
		ShopID:         conv.ShopID,
		ConversationID: &convID,
		RecordMessage:  true,
		Envelope: domain.Envelope{
			FromAccount: "support@shop.com",
			To:          conv.CustomerEmail,
			Subject:     "Re: Order",
			Text:        "On its way",
			InReplyTo:   "<a@x>",
			References:  []string{"<a@x>"},
		},
	}
}

func TestDeliverRecordsSentMessage(t *testing.T) {
	store := memory.New()
	conv := seedConversation(t, store)
	provider := &fakeProvider{id: "<sent-1@shop.com>"}
	later := t0.Add(time.Hour)
	d := NewDeliverer(store, provider, nil, zap.NewNop(), func() time.Time { return later })

	require.NoError(t, d.Deliver(context.Background(), replyTask(conv)))
	require.Equal(t, 1, provider.count())

	msgs, err := store.Messages().ListByConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, domain.DirectionOutbound, msg.Direction)
	assert.Equal(t, domain.MessageStatusSent, msg.Status)
	assert.Equal(t, "support@shop.com", msg.FromAddress)
	assert.Equal(t, "<sent-1@shop.com>", *msg.ProviderMessageID)
	assert.Equal(t, "<a@x>", msg.InReplyTo)

	reloaded, err := store.Conversations().GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.MessageCount)
	assert.True(t, reloaded.LastMessageAt.Equal(later))

	require.NoError(t, d.Deliver(context.Background(), replyTask(conv)))
	msgs, err = store.Messages().ListByConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "the same provider id is stored once")
}

func TestDeliverSkipsRecordingNotices(t *testing.T) {
	store := memory.New()
	conv := seedConversation(t, store)
	provider := &fakeProvider{id: "<n@shop.com>"}
	d := NewDeliverer(store, provider, nil, nil, nil)

	task := replyTask(conv)
	task.Kind = domain.TaskEscalationNotice
	task.RecordMessage = false
	require.NoError(t, d.Deliver(context.Background(), task))

	msgs, err := store.Messages().ListByConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDeliverReturnsSendFailure(t *testing.T) {
	store := memory.New()
	conv := seedConversation(t, store)
	d := NewDeliverer(store, &fakeProvider{err: errors.New("smtp down")}, nil, nil, nil)

	err := d.Deliver(context.Background(), replyTask(conv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestInlineOutboxDelivers(t *testing.T) {
	store := memory.New()
	conv := seedConversation(t, store)
	provider := &fakeProvider{id: "<i@shop.com>"}
	outbox := NewInlineOutbox(NewDeliverer(store, provider, nil, nil, nil), 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go outbox.Run(ctx, 2)

	require.NoError(t, outbox.Enqueue(ctx, replyTask(conv)))
	assert.Eventually(t, func() bool { return provider.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestInlineOutboxFull(t *testing.T) {
	outbox := NewInlineOutbox(nil, 1, nil)
	require.NoError(t, outbox.Enqueue(context.Background(), domain.OutboundTask{}))
	assert.ErrorIs(t, outbox.Enqueue(context.Background(), domain.OutboundTask{}), ErrOutboxFull)
}

func TestSchedule(t *testing.T) {
	cfg := config.QueueConfig{
		InboxPollInterval:  time.Minute,
		ReminderInterval:   time.Hour,
		EscalationInterval: 15 * time.Minute,
	}

	jobs := func(s []Periodic) []domain.JobName {
		var out []domain.JobName
		for _, p := range s {
			out = append(out, p.Job)
		}
		return out
	}
	assert.Equal(t, []domain.JobName{domain.JobReminders, domain.JobEscalation}, jobs(Schedule(cfg, false)))
	assert.Equal(t, []domain.JobName{domain.JobInboxPoll, domain.JobReminders, domain.JobEscalation}, jobs(Schedule(cfg, true)))
	assert.Len(t, periodicJobs(Schedule(cfg, true)), 3)
}

type countingRunner struct {
	mu   sync.Mutex
	runs map[domain.JobName]int
}

func (r *countingRunner) RunJob(_ context.Context, job domain.JobName, _ *int64) (automation.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[job]++
	return automation.Summary{Job: job}, nil
}

func (r *countingRunner) count(job domain.JobName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[job]
}

func TestTickerRunsImmediatelyAndRepeats(t *testing.T) {
	runner := &countingRunner{runs: map[domain.JobName]int{}}
	ticker := NewTicker(runner, []Periodic{{Job: domain.JobSLA, Every: 20 * time.Millisecond}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ticker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runner.count(domain.JobSLA) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestArgsKinds(t *testing.T) {
	assert.Equal(t, "send_mail", SendMailArgs{}.Kind())
	assert.Equal(t, QueueMail, SendMailArgs{}.InsertOpts().Queue)
	assert.Equal(t, "automation", AutomationArgs{}.Kind())
}
