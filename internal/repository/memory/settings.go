package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

type shopRepo struct {
	s *Store
}

func (r *shopRepo) Create(_ context.Context, shop *domain.Shop) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	shop.ID = r.s.data.id()
	stored := *shop
	stored.Mailboxes = append([]domain.ShopMailbox(nil), shop.Mailboxes...)
	r.s.data.shops[shop.ID] = stored
	return nil
}

func (r *shopRepo) GetByID(_ context.Context, id int64) (*domain.Shop, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	shop, ok := r.s.data.shops[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	shop.Mailboxes = append([]domain.ShopMailbox(nil), shop.Mailboxes...)
	return &shop, nil
}

func (r *shopRepo) List(_ context.Context) ([]domain.Shop, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Shop, 0, len(r.s.data.shops))
	for _, shop := range r.s.data.shops {
		shop.Mailboxes = append([]domain.ShopMailbox(nil), shop.Mailboxes...)
		out = append(out, shop)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type settingsRepo struct {
	s *Store
}

func (r *settingsRepo) GetAutomation(_ context.Context, shopID int64) (*domain.AutomationSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	settings, ok := r.s.data.automation[shopID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	settings.ReminderTemplates = append([]string(nil), settings.ReminderTemplates...)
	return &settings, nil
}

func (r *settingsRepo) SaveAutomation(_ context.Context, settings *domain.AutomationSettings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *settings
	stored.ReminderTemplates = append([]string(nil), settings.ReminderTemplates...)
	r.s.data.automation[settings.ShopID] = stored
	return nil
}

func (r *settingsRepo) GetBusinessHours(_ context.Context, shopID int64) (*domain.BusinessHours, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	hours, ok := r.s.data.hours[shopID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	hours.Days = append([]domain.DayHours(nil), hours.Days...)
	return &hours, nil
}

func (r *settingsRepo) SaveBusinessHours(_ context.Context, hours *domain.BusinessHours) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *hours
	stored.Days = append([]domain.DayHours(nil), hours.Days...)
	r.s.data.hours[hours.ShopID] = stored
	return nil
}

type cursorRepo struct {
	s *Store
}

func cursorKey(shopID int64, account string, folder domain.FolderKind) string {
	return fmt.Sprintf("%d|%s|%s", shopID, account, folder)
}

func (r *cursorRepo) Get(_ context.Context, shopID int64, account string, folder domain.FolderKind) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.cursors[cursorKey(shopID, account, folder)].Cursor, nil
}

func (r *cursorRepo) Save(_ context.Context, c domain.SyncCursor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.cursors[cursorKey(c.ShopID, c.Account, c.Folder)] = c
	return nil
}

type jobRunRepo struct {
	s *Store
}

func (r *jobRunRepo) Record(_ context.Context, run domain.JobRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.jobRuns[fmt.Sprintf("%s|%d", run.Job, run.ShopID)] = run
	return nil
}

func (r *jobRunRepo) Last(_ context.Context, job domain.JobName, shopID int64) (*domain.JobRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.data.jobRuns[fmt.Sprintf("%s|%d", job, shopID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &run, nil
}
