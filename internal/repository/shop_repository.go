package repository

import (
	"context"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// ShopRepository reads tenants and their mailboxes.
type ShopRepository interface {
	Create(ctx context.Context, shop *domain.Shop) error
	GetByID(ctx context.Context, id int64) (*domain.Shop, error)
	List(ctx context.Context) ([]domain.Shop, error)
}

type shopRepository struct {
	db DBTX
}

func (r *shopRepository) Create(ctx context.Context, shop *domain.Shop) error {
	if err := r.db.QueryRow(ctx, `INSERT INTO shops (name, domain) VALUES ($1,$2) RETURNING id`,
		shop.Name, shop.Domain).Scan(&shop.ID); err != nil {
		return err
	}
	for _, box := range shop.Mailboxes {
		if _, err := r.db.Exec(ctx, `
            INSERT INTO shop_mailboxes (shop_id, address, account, category) VALUES ($1,$2,$3,$4)
            ON CONFLICT (shop_id, address) DO UPDATE SET account=EXCLUDED.account, category=EXCLUDED.category`,
			shop.ID, box.Address, box.Account, box.Category); err != nil {
			return err
		}
	}
	return nil
}

func (r *shopRepository) GetByID(ctx context.Context, id int64) (*domain.Shop, error) {
	var shop domain.Shop
	if err := r.db.QueryRow(ctx, `SELECT id, name, domain FROM shops WHERE id=$1`, id).
		Scan(&shop.ID, &shop.Name, &shop.Domain); err != nil {
		return nil, err
	}
	boxes, err := r.mailboxes(ctx, id)
	if err != nil {
		return nil, err
	}
	shop.Mailboxes = boxes
	return &shop, nil
}

func (r *shopRepository) List(ctx context.Context) ([]domain.Shop, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, domain FROM shops ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	var shops []domain.Shop
	for rows.Next() {
		var shop domain.Shop
		if err := rows.Scan(&shop.ID, &shop.Name, &shop.Domain); err != nil {
			rows.Close()
			return nil, err
		}
		shops = append(shops, shop)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range shops {
		boxes, err := r.mailboxes(ctx, shops[i].ID)
		if err != nil {
			return nil, err
		}
		shops[i].Mailboxes = boxes
	}
	return shops, nil
}

func (r *shopRepository) mailboxes(ctx context.Context, shopID int64) ([]domain.ShopMailbox, error) {
	rows, err := r.db.Query(ctx, `SELECT address, account, category FROM shop_mailboxes WHERE shop_id=$1 ORDER BY address`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boxes []domain.ShopMailbox
	for rows.Next() {
		var box domain.ShopMailbox
		if err := rows.Scan(&box.Address, &box.Account, &box.Category); err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
	}
	return boxes, rows.Err()
}
