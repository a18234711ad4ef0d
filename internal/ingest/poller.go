package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/mail"
	"github.com/spec-kit/support-inbox/internal/repository"
)

var pollFolders = []domain.FolderKind{domain.FolderInbox, domain.FolderSent}

// PollSummary counts what one poll did.
type PollSummary struct {
	Fetched    int `json:"fetched"`
	Created    int `json:"created"`
	Appended   int `json:"appended"`
	Duplicates int `json:"duplicates"`
	Internal   int `json:"internal"`
	Failed     int `json:"failed"`
}

// Processed is the number of messages that reached a final outcome.
func (s PollSummary) Processed() int {
	return s.Created + s.Appended + s.Duplicates + s.Internal
}

func (s *PollSummary) add(other PollSummary) {
	s.Fetched += other.Fetched
	s.Created += other.Created
	s.Appended += other.Appended
	s.Duplicates += other.Duplicates
	s.Internal += other.Internal
	s.Failed += other.Failed
}

// Poller fetches new mail for every shop mailbox and ingests it in provider order.
type Poller struct {
	store    repository.Store
	provider mail.Provider
	ingest   *Service
	logger   *zap.Logger
	clock    func() time.Time
}

func NewPoller(store repository.Store, provider mail.Provider, ingest *Service, logger *zap.Logger, clock func() time.Time) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Poller{store: store, provider: provider, ingest: ingest, logger: logger, clock: clock}
}

// PollAll polls every shop. A failing shop is logged and the rest still run.
func (p *Poller) PollAll(ctx context.Context) (PollSummary, error) {
	var total PollSummary
	shops, err := p.store.Shops().List(ctx)
	if err != nil {
		return total, fmt.Errorf("list shops: %w", err)
	}
	var errs []error
	for _, shop := range shops {
		summary, err := p.PollShop(ctx, shop)
		total.add(summary)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// PollShop polls the inbox and sent folder of each shop account. Within one
// folder the first failed message stops the batch; the cursor stays on the
// last stored message so the next poll retries from there.
func (p *Poller) PollShop(ctx context.Context, shop domain.Shop) (PollSummary, error) {
	var (
		total PollSummary
		errs  []error
	)
	for _, account := range accounts(shop) {
		for _, folder := range pollFolders {
			summary, err := p.pollFolder(ctx, shop, account, folder)
			total.add(summary)
			if err != nil {
				p.logger.Error("mailbox poll failed",
					zap.Int64("shop_id", shop.ID),
					zap.String("account", account),
					zap.String("folder", string(folder)),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("shop %d %s/%s: %w", shop.ID, account, folder, err))
			}
		}
	}
	p.logger.Info("shop poll finished",
		zap.Int64("shop_id", shop.ID),
		zap.Int("fetched", total.Fetched),
		zap.Int("created", total.Created),
		zap.Int("appended", total.Appended),
		zap.Int("duplicates", total.Duplicates),
		zap.Int("internal", total.Internal),
		zap.Int("failed", total.Failed),
	)
	return total, errors.Join(errs...)
}

func (p *Poller) pollFolder(ctx context.Context, shop domain.Shop, account string, folder domain.FolderKind) (PollSummary, error) {
	var summary PollSummary
	cursor, err := p.store.Cursors().Get(ctx, shop.ID, account, folder)
	if err != nil {
		return summary, fmt.Errorf("load cursor: %w", err)
	}
	messages, err := p.provider.FetchNewMessages(ctx, account, folder, cursor)
	if err != nil {
		return summary, fmt.Errorf("fetch messages: %w", err)
	}
	summary.Fetched = len(messages)

	for _, msg := range messages {
		if msg.BodyText == "" && msg.BodyHTML == "" && msg.ProviderID != "" {
			body, err := p.provider.FetchMessageBody(ctx, account, msg.ProviderID)
			if err != nil {
				summary.Failed++
				return summary, fmt.Errorf("fetch body of %s: %w", msg.ProviderID, err)
			}
			msg.BodyText, msg.BodyHTML = body.Text, body.HTML
		}

		result, err := p.ingest.IngestForShop(ctx, shop, msg)
		if err != nil {
			summary.Failed++
			return summary, fmt.Errorf("ingest %s: %w", msg.ProviderID, err)
		}
		switch result.Outcome {
		case OutcomeCreated:
			summary.Created++
		case OutcomeAppended:
			summary.Appended++
		case OutcomeDuplicate:
			summary.Duplicates++
		case OutcomeInternal:
			summary.Internal++
		}

		if msg.Cursor != "" {
			if err := p.store.Cursors().Save(ctx, domain.SyncCursor{
				ShopID:    shop.ID,
				Account:   account,
				Folder:    folder,
				Cursor:    msg.Cursor,
				UpdatedAt: p.clock(),
			}); err != nil {
				return summary, fmt.Errorf("save cursor: %w", err)
			}
		}
	}
	return summary, nil
}

// accounts lists each distinct provider account of the shop once.
func accounts(shop domain.Shop) []string {
	seen := make(map[string]bool, len(shop.Mailboxes))
	var out []string
	for _, box := range shop.Mailboxes {
		account := box.Account
		if account == "" {
			account = box.Address
		}
		if account == "" || seen[account] {
			continue
		}
		seen[account] = true
		out = append(out, account)
	}
	return out
}
