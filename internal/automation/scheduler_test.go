package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/ingest"
	"github.com/spec-kit/support-inbox/internal/persistence"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/internal/repository/memory"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	scheduler *Scheduler
	shop      domain.Shop
	now       time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), now: t0}
	clock := func() time.Time { return f.now }
	f.shop = domain.Shop{Name: "Acme", Mailboxes: []domain.ShopMailbox{{Address: "support@shop.com", Account: "support", Category: "support"}}}
	require.NoError(t, f.store.Shops().Create(context.Background(), &f.shop))

	opts = append([]Option{WithClock(clock)}, opts...)
	f.scheduler = NewScheduler(f.store, activitylog.New(nil, zap.NewNop(), clock), zap.NewNop(), opts...)
	return f
}

func (f *fixture) seed(t *testing.T, conv domain.Conversation) domain.Conversation {
	t.Helper()
	conv.ShopID = f.shop.ID
	if conv.ThreadID == "" {
		conv.ThreadID = "thread-" + conv.Subject
	}
	if conv.CustomerEmail == "" {
		conv.CustomerEmail = "cust@x.com"
	}
	if conv.Priority == "" {
		conv.Priority = domain.PriorityNormal
	}
	if conv.Mailbox == "" {
		conv.Mailbox = "support@shop.com"
	}
	require.NoError(t, f.store.Conversations().Create(context.Background(), &conv))
	return conv
}

func (f *fixture) saveSettings(t *testing.T, mutate func(*domain.AutomationSettings)) {
	t.Helper()
	cfg := domain.DefaultAutomationSettings(f.shop.ID)
	mutate(&cfg)
	require.NoError(t, f.store.Settings().SaveAutomation(context.Background(), &cfg))
}

func (f *fixture) get(t *testing.T, id int64) *domain.Conversation {
	t.Helper()
	conv, err := f.store.Conversations().GetByID(context.Background(), id)
	require.NoError(t, err)
	return conv
}

func (f *fixture) activities(t *testing.T, id int64, action domain.ActionType) []domain.Activity {
	t.Helper()
	all, _, err := f.store.Activities().ListByConversation(context.Background(), id, 100, 0)
	require.NoError(t, err)
	var out []domain.Activity
	for _, a := range all {
		if a.ActionType == action {
			out = append(out, a)
		}
	}
	return out
}

func (f *fixture) tasks(kind domain.TaskKind) []domain.OutboundTask {
	var out []domain.OutboundTask
	for _, task := range f.store.Recorded().Tasks() {
		if task.Kind == kind {
			out = append(out, task)
		}
	}
	return out
}

func TestRemindersSendInOrderAndRespectInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.seed(t, domain.Conversation{
		Subject:       "Refund",
		CustomerName:  "Dana",
		Status:        domain.StatusPendingCustomer,
		CreatedAt:     t0.Add(-48 * time.Hour),
		LastMessageAt: t0.Add(-25 * time.Hour),
	})

	summary, err := f.scheduler.RunJob(ctx, domain.JobReminders, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	stored := f.get(t, conv.ID)
	assert.Equal(t, 1, stored.ReminderCount)
	require.NotNil(t, stored.LastReminderAt)
	assert.Equal(t, t0, *stored.LastReminderAt)

	reminders := f.tasks(domain.TaskReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, "cust@x.com", reminders[0].Envelope.To)
	assert.Equal(t, "support", reminders[0].Envelope.FromAccount)
	assert.Contains(t, reminders[0].Envelope.Text, "Hi Dana, just checking in on "+stored.TicketNumber)

	logged := f.activities(t, conv.ID, domain.ActionReminderSent)
	require.Len(t, logged, 1)
	assert.Equal(t, "1", logged[0].ToValue)
	assert.Nil(t, logged[0].StaffID)

	// a second tick inside the interval sends nothing
	_, err = f.scheduler.RunJob(ctx, domain.JobReminders, nil)
	require.NoError(t, err)
	assert.Len(t, f.tasks(domain.TaskReminder), 1)

	f.now = t0.Add(25 * time.Hour)
	_, err = f.scheduler.RunJob(ctx, domain.JobReminders, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.get(t, conv.ID).ReminderCount)
	assert.Len(t, f.tasks(domain.TaskReminder), 2)
}

func TestReminderCapHandsOverToAutoClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lastReminder := t0.Add(-25 * time.Hour)
	assignee := &domain.StaffMember{ShopID: f.shop.ID, Name: "Ann", Email: "ann@shop.com", Role: domain.StaffRoleAgent, IsActive: true}
	require.NoError(t, f.store.Staff().Create(ctx, assignee))

	conv := f.seed(t, domain.Conversation{
		Subject:        "Refund",
		Status:         domain.StatusPendingCustomer,
		ReminderCount:  3,
		LastReminderAt: &lastReminder,
		AssignedTo:     &assignee.ID,
		IsEscalated:    true,
		CreatedAt:      t0.Add(-100 * time.Hour),
		LastMessageAt:  t0.Add(-90 * time.Hour),
	})

	// reminders runs auto-close afterwards in the same job
	summary, err := f.scheduler.RunJob(ctx, domain.JobReminders, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, f.tasks(domain.TaskReminder))

	stored := f.get(t, conv.ID)
	assert.Equal(t, domain.StatusClosed, stored.Status)
	assert.Equal(t, 3, stored.ReminderCount)
	assert.False(t, stored.IsEscalated)
	require.NotNil(t, stored.ResolutionTimeMinutes)
	assert.Equal(t, 100*60, *stored.ResolutionTimeMinutes)

	notices := f.tasks(domain.TaskCloseNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, "Closing "+stored.TicketNumber, notices[0].Envelope.Subject)

	changes := f.activities(t, conv.ID, domain.ActionStatusChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "pending_customer", changes[0].FromValue)
	assert.Equal(t, "closed", changes[0].ToValue)

	staff, err := f.store.Staff().GetByID(ctx, assignee.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, staff.TicketsResolved)

	// closed conversations are never touched again
	f.now = t0.Add(72 * time.Hour)
	summary, err = f.scheduler.RunJob(ctx, domain.JobAutoClose, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

func TestAutoCloseWaitsForWindow(t *testing.T) {
	f := newFixture(t)
	lastReminder := t0.Add(-2 * time.Hour)
	conv := f.seed(t, domain.Conversation{
		Subject:        "Refund",
		Status:         domain.StatusPendingCustomer,
		ReminderCount:  3,
		LastReminderAt: &lastReminder,
		CreatedAt:      t0.Add(-100 * time.Hour),
		LastMessageAt:  t0.Add(-90 * time.Hour),
	})

	_, err := f.scheduler.RunJob(context.Background(), domain.JobAutoClose, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingCustomer, f.get(t, conv.ID).Status)
}

func TestMissingReminderTemplateIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.saveSettings(t, func(cfg *domain.AutomationSettings) {
		cfg.ReminderTemplates = cfg.ReminderTemplates[:1]
	})
	lastReminder := t0.Add(-30 * time.Hour)
	conv := f.seed(t, domain.Conversation{
		Subject:        "Refund",
		Status:         domain.StatusPendingCustomer,
		ReminderCount:  1,
		LastReminderAt: &lastReminder,
		CreatedAt:      t0.Add(-60 * time.Hour),
		LastMessageAt:  t0.Add(-50 * time.Hour),
	})

	summary, err := f.scheduler.RunJob(context.Background(), domain.JobReminders, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, f.get(t, conv.ID).ReminderCount)
	assert.Empty(t, f.tasks(domain.TaskReminder))
}

func TestEscalationFlagsOnceAndNotifiesActiveStaff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.saveSettings(t, func(cfg *domain.AutomationSettings) {
		cfg.EscalationNotifyStaff = true
	})
	for _, member := range []*domain.StaffMember{
		{ShopID: f.shop.ID, Name: "Ann", Email: "ann@shop.com", Role: domain.StaffRoleAgent, IsActive: true},
		{ShopID: f.shop.ID, Name: "Bo", Email: "bo@shop.com", Role: domain.StaffRoleAdmin, IsActive: true},
		{ShopID: f.shop.ID, Name: "Cy", Email: "cy@shop.com", Role: domain.StaffRoleAgent, IsActive: false},
	} {
		require.NoError(t, f.store.Staff().Create(ctx, member))
	}

	stale := f.seed(t, domain.Conversation{Subject: "Stale", Status: domain.StatusOpen, CreatedAt: t0.Add(-6 * time.Hour), LastMessageAt: t0.Add(-5 * time.Hour)})
	fresh := f.seed(t, domain.Conversation{Subject: "Fresh", Status: domain.StatusAssigned, CreatedAt: t0.Add(-time.Hour), LastMessageAt: t0.Add(-time.Hour)})
	waiting := f.seed(t, domain.Conversation{Subject: "Waiting", Status: domain.StatusPendingCustomer, CreatedAt: t0.Add(-9 * time.Hour), LastMessageAt: t0.Add(-9 * time.Hour)})

	summary, err := f.scheduler.RunJob(ctx, domain.JobEscalation, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	assert.True(t, f.get(t, stale.ID).IsEscalated)
	assert.False(t, f.get(t, fresh.ID).IsEscalated)
	assert.False(t, f.get(t, waiting.ID).IsEscalated)
	require.Len(t, f.activities(t, stale.ID, domain.ActionEscalation), 1)

	notices := f.tasks(domain.TaskEscalationNotice)
	require.Len(t, notices, 2)
	var recipients []string
	for _, n := range notices {
		recipients = append(recipients, n.Envelope.To)
		assert.False(t, n.RecordMessage)
	}
	assert.ElementsMatch(t, []string{"ann@shop.com", "bo@shop.com"}, recipients)

	summary, err = f.scheduler.RunJob(ctx, domain.JobEscalation, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Len(t, f.activities(t, stale.ID, domain.ActionEscalation), 1)
}

// commitFailingStore runs the transaction body and then fails the commit.
type commitFailingStore struct {
	repository.Store
}

func (s commitFailingStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errors.New("commit: connection lost")
	})
}

func TestEscalationNoticeNeedsCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Staff().Create(ctx, &domain.StaffMember{
		ShopID: f.shop.ID, Name: "Ann", Email: "ann@shop.com", Role: domain.StaffRoleAgent, IsActive: true,
	}))
	stale := f.seed(t, domain.Conversation{Subject: "Stale", Status: domain.StatusOpen, CreatedAt: t0.Add(-6 * time.Hour), LastMessageAt: t0.Add(-5 * time.Hour)})

	clock := func() time.Time { return f.now }
	scheduler := NewScheduler(commitFailingStore{f.store}, activitylog.New(nil, zap.NewNop(), clock), zap.NewNop(), WithClock(clock))
	cfg := domain.DefaultAutomationSettings(f.shop.ID)
	cfg.EscalationNotifyStaff = true

	result, err := scheduler.runEscalation(ctx, f.shop, cfg, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.failed)
	assert.Zero(t, result.processed)

	assert.False(t, f.get(t, stale.ID).IsEscalated)
	assert.Empty(t, f.activities(t, stale.ID, domain.ActionEscalation))
	assert.Empty(t, f.tasks(domain.TaskEscalationNotice))
}

func TestSLABreachLoggedOncePerType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	responded := t0.Add(-40 * time.Hour)

	silent := f.seed(t, domain.Conversation{Subject: "No answer", Status: domain.StatusOpen, CreatedAt: t0.Add(-50 * time.Hour), LastMessageAt: t0.Add(-50 * time.Hour)})
	answered := f.seed(t, domain.Conversation{Subject: "Answered", Status: domain.StatusInProgress, FirstResponseAt: &responded, CreatedAt: t0.Add(-5 * time.Hour), LastMessageAt: t0.Add(-5 * time.Hour)})
	done := f.seed(t, domain.Conversation{Subject: "Done", Status: domain.StatusResolved, CreatedAt: t0.Add(-90 * time.Hour), LastMessageAt: t0.Add(-90 * time.Hour)})

	for i := 0; i < 2; i++ {
		_, err := f.scheduler.RunJob(ctx, domain.JobSLA, nil)
		require.NoError(t, err)
	}

	breaches := f.activities(t, silent.ID, domain.ActionSLABreach)
	require.Len(t, breaches, 2)
	var types []string
	for _, b := range breaches {
		types = append(types, b.ToValue)
	}
	assert.ElementsMatch(t, []string{"first_response", "resolution"}, types)

	assert.Empty(t, f.activities(t, answered.ID, domain.ActionSLABreach))
	assert.Empty(t, f.activities(t, done.ID, domain.ActionSLABreach))
}

func TestRunJobRecordsRunAndHonoursLock(t *testing.T) {
	ctx := context.Background()
	locker := persistence.NewLocalLocker()
	f := newFixture(t, WithLocker(locker))
	f.seed(t, domain.Conversation{Subject: "Stale", Status: domain.StatusOpen, CreatedAt: t0.Add(-6 * time.Hour), LastMessageAt: t0.Add(-5 * time.Hour)})

	held, err := locker.Acquire(ctx, "automation:escalation", time.Minute)
	require.NoError(t, err)
	_, err = f.scheduler.RunJob(ctx, domain.JobEscalation, nil)
	assert.ErrorIs(t, err, ErrJobRunning)
	require.NoError(t, held.Release(ctx))

	summary, err := f.scheduler.RunJob(ctx, domain.JobEscalation, &f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Shops)

	run, err := f.store.JobRuns().Last(ctx, domain.JobEscalation, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, t0, run.StartedAt)
	assert.Empty(t, run.LastError)
}

func TestRunJobRejectsUnknownJobAndShop(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.RunJob(context.Background(), domain.JobName("vacuum"), nil)
	assert.Error(t, err)

	missing := int64(404)
	_, err = f.scheduler.RunJob(context.Background(), domain.JobSLA, &missing)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.scheduler.RunJob(context.Background(), domain.JobInboxPoll, nil)
	assert.Error(t, err)
}

type fakePoller struct {
	err error
}

func (p fakePoller) PollShop(context.Context, domain.Shop) (ingest.PollSummary, error) {
	return ingest.PollSummary{Fetched: 3, Created: 2, Failed: 1}, p.err
}

func TestInboxPollJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithPoller(fakePoller{err: errors.New("provider down")}))

	summary, err := f.scheduler.RunJob(ctx, domain.JobInboxPoll, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	run, err := f.store.JobRuns().Last(ctx, domain.JobInboxPoll, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, "provider down", run.LastError)
}
