package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// CursorRepository persists the last ingested position per mailbox folder.
type CursorRepository interface {
	// Get returns "" when no cursor has been stored yet.
	Get(ctx context.Context, shopID int64, account string, folder domain.FolderKind) (string, error)
	Save(ctx context.Context, cursor domain.SyncCursor) error
}

// JobRunRepository records the last run of each scheduled job per shop.
type JobRunRepository interface {
	Record(ctx context.Context, run domain.JobRun) error
	Last(ctx context.Context, job domain.JobName, shopID int64) (*domain.JobRun, error)
}

type cursorRepository struct {
	db DBTX
}

func (r *cursorRepository) Get(ctx context.Context, shopID int64, account string, folder domain.FolderKind) (string, error) {
	var cursor string
	err := r.db.QueryRow(ctx, `SELECT cursor FROM sync_cursors WHERE shop_id=$1 AND account=$2 AND folder=$3`,
		shopID, account, string(folder)).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return cursor, err
}

func (r *cursorRepository) Save(ctx context.Context, c domain.SyncCursor) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO sync_cursors (shop_id, account, folder, cursor, updated_at) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (shop_id, account, folder) DO UPDATE SET cursor=EXCLUDED.cursor, updated_at=EXCLUDED.updated_at`,
		c.ShopID, c.Account, string(c.Folder), c.Cursor, c.UpdatedAt)
	return err
}

type jobRunRepository struct {
	db DBTX
}

func (r *jobRunRepository) Record(ctx context.Context, run domain.JobRun) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO job_runs (job, shop_id, started_at, finished_at, processed, failed, last_error)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (job, shop_id) DO UPDATE SET
            started_at=EXCLUDED.started_at, finished_at=EXCLUDED.finished_at,
            processed=EXCLUDED.processed, failed=EXCLUDED.failed, last_error=EXCLUDED.last_error`,
		string(run.Job), run.ShopID, run.StartedAt, run.FinishedAt, run.Processed, run.Failed, run.LastError)
	return err
}

func (r *jobRunRepository) Last(ctx context.Context, job domain.JobName, shopID int64) (*domain.JobRun, error) {
	var run domain.JobRun
	if err := r.db.QueryRow(ctx, `
        SELECT job, shop_id, started_at, finished_at, processed, failed, last_error
        FROM job_runs WHERE job=$1 AND shop_id=$2`, string(job), shopID).Scan(
		&run.Job, &run.ShopID, &run.StartedAt, &run.FinishedAt, &run.Processed, &run.Failed, &run.LastError,
	); err != nil {
		return nil, err
	}
	return &run, nil
}
