package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/auth"
	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

// Bootstrap creates the first shop and its owner admin when no staff account
// with the configured email exists yet. Each system mailbox feeds the category
// named by its local part.
func Bootstrap(ctx context.Context, cfg config.Config, store repository.Store, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.Bootstrap.AdminEmail))
	if email == "" {
		return nil
	}
	if _, err := store.Staff().GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up bootstrap admin: %w", err)
	}
	if len(cfg.Bootstrap.AdminPassword) < 8 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters")
	}
	hash, err := auth.HashPassword(cfg.Bootstrap.AdminPassword, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	shop := &domain.Shop{Name: cfg.Bootstrap.ShopName, Domain: cfg.Bootstrap.ShopDomain}
	for _, address := range cfg.Mail.Mailboxes {
		address = strings.ToLower(strings.TrimSpace(address))
		if address == "" {
			continue
		}
		category, _, _ := strings.Cut(address, "@")
		shop.Mailboxes = append(shop.Mailboxes, domain.ShopMailbox{Address: address, Account: address, Category: category})
	}

	return store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Shops().Create(ctx, shop); err != nil {
			return fmt.Errorf("create shop: %w", err)
		}
		owner := &domain.StaffMember{
			ShopID:       shop.ID,
			Name:         cfg.Bootstrap.AdminName,
			Email:        email,
			PasswordHash: hash,
			Role:         domain.StaffRoleAdmin,
			IsShopOwner:  true,
			IsActive:     true,
		}
		if err := tx.Staff().Create(ctx, owner); err != nil {
			return fmt.Errorf("create owner: %w", err)
		}
		logger.Info("bootstrapped shop", zap.Int64("shop_id", shop.ID), zap.String("owner", email))
		return nil
	})
}
