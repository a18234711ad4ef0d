package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/events"
)

func newNotifyingFixture(t *testing.T) *ticketFixture {
	t.Helper()
	f := newTicketFixture(t)
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	clock := func() time.Time { return f.now }
	f.svc = NewTicketService(TicketDependencies{
		Store:      f.store,
		Activities: activitylog.New(dispatcher, zap.NewNop(), clock),
		Logger:     zap.NewNop(),
		Clock:      clock,
	})
	NewNotificationService(dispatcher, f.store, zap.NewNop(), config.MailConfig{NotifyAssignee: true}).RegisterHandlers()
	return f
}

func TestAssignmentNoticeGoesToNewAssignee(t *testing.T) {
	f := newNotifyingFixture(t)
	conv := f.seed(t, "where is my order")
	bob := f.addStaff(t, "Bob Agent", "bob@shop.com", true)

	_, err := f.svc.Assign(context.Background(), f.actor(), conv.ID, AssignInput{StaffID: &bob.ID})
	require.NoError(t, err)

	tasks := f.store.Recorded().Tasks()
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, domain.TaskAssignmentNotice, task.Kind)
	assert.Equal(t, "bob@shop.com", task.Envelope.To)
	assert.Equal(t, "support", task.Envelope.FromAccount)
	assert.Contains(t, task.Envelope.Subject, "[Assigned]")
	require.NotNil(t, task.StaffID)
	assert.Equal(t, bob.ID, *task.StaffID)
	assert.False(t, task.RecordMessage)
}

func TestSelfAssignmentSendsNoNotice(t *testing.T) {
	f := newNotifyingFixture(t)
	conv := f.seed(t, "refund")

	_, err := f.svc.Assign(context.Background(), f.actor(), conv.ID, AssignInput{StaffID: &f.agent.ID})
	require.NoError(t, err)
	assert.Empty(t, f.store.Recorded().Tasks())

	_, err = f.svc.Assign(context.Background(), f.actor(), conv.ID, AssignInput{})
	require.NoError(t, err)
	assert.Empty(t, f.store.Recorded().Tasks())
}
