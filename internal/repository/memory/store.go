// Package memory is an in-process implementation of repository.Store used by
// tests and by the service when no database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

type state struct {
	nextID        int64
	shops         map[int64]domain.Shop
	conversations map[int64]domain.Conversation
	messages      map[int64]domain.Message
	activities    map[int64]domain.Activity
	staff         map[int64]domain.StaffMember
	automation    map[int64]domain.AutomationSettings
	hours         map[int64]domain.BusinessHours
	cursors       map[string]domain.SyncCursor
	jobRuns       map[string]domain.JobRun
}

func newState() *state {
	return &state{
		shops:         make(map[int64]domain.Shop),
		conversations: make(map[int64]domain.Conversation),
		messages:      make(map[int64]domain.Message),
		activities:    make(map[int64]domain.Activity),
		staff:         make(map[int64]domain.StaffMember),
		automation:    make(map[int64]domain.AutomationSettings),
		hours:         make(map[int64]domain.BusinessHours),
		cursors:       make(map[string]domain.SyncCursor),
		jobRuns:       make(map[string]domain.JobRun),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) clone() *state {
	out := newState()
	out.nextID = s.nextID
	for k, v := range s.shops {
		v.Mailboxes = append([]domain.ShopMailbox(nil), v.Mailboxes...)
		out.shops[k] = v
	}
	for k, v := range s.conversations {
		out.conversations[k] = copyConversation(v)
	}
	for k, v := range s.messages {
		out.messages[k] = v
	}
	for k, v := range s.activities {
		out.activities[k] = v
	}
	for k, v := range s.staff {
		out.staff[k] = v
	}
	for k, v := range s.automation {
		v.ReminderTemplates = append([]string(nil), v.ReminderTemplates...)
		out.automation[k] = v
	}
	for k, v := range s.hours {
		v.Days = append([]domain.DayHours(nil), v.Days...)
		out.hours[k] = v
	}
	for k, v := range s.cursors {
		out.cursors[k] = v
	}
	for k, v := range s.jobRuns {
		out.jobRuns[k] = v
	}
	return out
}

// Store keeps every table in maps guarded by one mutex. WithinTx serializes
// transactions and restores a snapshot when fn fails.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *state

	outboxMu sync.Mutex
	outbox   repository.Outbox
	recorded *RecordingOutbox
}

// New returns an empty store whose outbox records tasks until SetOutbox is called.
func New() *Store {
	rec := &RecordingOutbox{}
	return &Store{data: newState(), outbox: rec, recorded: rec}
}

// SetOutbox routes committed tasks to outbox.
func (s *Store) SetOutbox(outbox repository.Outbox) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	s.outbox = outbox
}

// Recorded exposes the default recording outbox.
func (s *Store) Recorded() *RecordingOutbox {
	return s.recorded
}

func (s *Store) currentOutbox() repository.Outbox {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	return s.outbox
}

func (s *Store) Shops() repository.ShopRepository                 { return &shopRepo{s: s} }
func (s *Store) Conversations() repository.ConversationRepository { return &conversationRepo{s: s} }
func (s *Store) Messages() repository.MessageRepository           { return &messageRepo{s: s} }
func (s *Store) Activities() repository.ActivityRepository        { return &activityRepo{s: s} }
func (s *Store) Staff() repository.StaffRepository                { return &staffRepo{s: s} }
func (s *Store) Settings() repository.SettingsRepository          { return &settingsRepo{s: s} }
func (s *Store) Cursors() repository.CursorRepository             { return &cursorRepo{s: s} }
func (s *Store) JobRuns() repository.JobRunRepository             { return &jobRunRepo{s: s} }
func (s *Store) Outbox() repository.Outbox                        { return s.currentOutbox() }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	tx := &txStore{Store: s}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}

	outbox := s.currentOutbox()
	for _, task := range tx.pending {
		if err := outbox.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// txStore buffers outbox tasks until commit.
type txStore struct {
	*Store
	mu      sync.Mutex
	pending []domain.OutboundTask
}

func (t *txStore) Outbox() repository.Outbox { return t }

func (t *txStore) Enqueue(_ context.Context, task domain.OutboundTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, task)
	return nil
}

func (t *txStore) WithinTx(_ context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

// RecordingOutbox keeps enqueued tasks in memory.
type RecordingOutbox struct {
	mu    sync.Mutex
	tasks []domain.OutboundTask
}

func (o *RecordingOutbox) Enqueue(_ context.Context, task domain.OutboundTask) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks = append(o.tasks, task)
	return nil
}

// Tasks returns a copy of every task enqueued so far.
func (o *RecordingOutbox) Tasks() []domain.OutboundTask {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.OutboundTask(nil), o.tasks...)
}

func copyConversation(c domain.Conversation) domain.Conversation {
	c.Tags = append([]string(nil), c.Tags...)
	return c
}
