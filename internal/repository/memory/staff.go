package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

type staffRepo struct {
	s *Store
}

func (r *staffRepo) Create(_ context.Context, staff *domain.StaffMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	staff.Email = strings.ToLower(staff.Email)
	for _, existing := range r.s.data.staff {
		if existing.Email == staff.Email {
			return errDuplicate("staff_members.email")
		}
	}
	staff.ID = r.s.data.id()
	now := time.Now().UTC()
	staff.CreatedAt, staff.UpdatedAt = now, now
	r.s.data.staff[staff.ID] = *staff
	return nil
}

func (r *staffRepo) GetByID(_ context.Context, id int64) (*domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	staff, ok := r.s.data.staff[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &staff, nil
}

func (r *staffRepo) GetByEmail(_ context.Context, email string) (*domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(email)
	for _, staff := range r.s.data.staff {
		if staff.Email == email {
			return &staff, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *staffRepo) List(_ context.Context, f repository.StaffFilter) ([]domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.StaffMember
	for _, staff := range r.s.data.staff {
		if staff.ShopID != f.ShopID {
			continue
		}
		if f.Role != nil && staff.Role != *f.Role {
			continue
		}
		if f.Active != nil && staff.IsActive != *f.Active {
			continue
		}
		out = append(out, staff)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *staffRepo) update(id int64, fn func(*domain.StaffMember)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	staff, ok := r.s.data.staff[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&staff)
	r.s.data.staff[id] = staff
	return nil
}

func (r *staffRepo) SetActive(_ context.Context, id int64, active bool) error {
	return r.update(id, func(s *domain.StaffMember) {
		s.IsActive = active
		s.UpdatedAt = time.Now().UTC()
	})
}

func (r *staffRepo) SetPassword(_ context.Context, id int64, hash string) error {
	return r.update(id, func(s *domain.StaffMember) {
		s.PasswordHash = hash
		s.UpdatedAt = time.Now().UTC()
	})
}

func (r *staffRepo) Increment(_ context.Context, id int64, counter repository.StaffCounter) error {
	switch counter {
	case repository.CounterTicketsAssigned, repository.CounterTicketsResolved, repository.CounterRepliesSent:
	default:
		return fmt.Errorf("unknown staff counter %q", counter)
	}
	return r.update(id, func(s *domain.StaffMember) {
		switch counter {
		case repository.CounterTicketsAssigned:
			s.TicketsAssigned++
		case repository.CounterTicketsResolved:
			s.TicketsResolved++
		case repository.CounterRepliesSent:
			s.RepliesSent++
		}
	})
}

func (r *staffRepo) Touch(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(s *domain.StaffMember) { s.LastActiveAt = &at })
}
