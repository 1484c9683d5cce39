package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/regen"
	"server/internal/sqlinline"
)

// SectionRepositoryPG is the version/history tracker. Every successful
// regeneration lands here as one transaction: the fresh immutable asset row,
// the section reference update, and the append-only history entry. Readers
// never observe a partial commit.
type SectionRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewSectionRepository(pool *pgxpool.Pool) *SectionRepositoryPG {
	return &SectionRepositoryPG{pool: pool}
}

// Commit persists one regeneration result. The section's current reference is
// read under a row lock and recorded as the history entry's previous
// reference, which keeps the undo chain consistent under concurrent jobs.
func (r *SectionRepositoryPG) Commit(ctx context.Context, req regen.CommitRequest) (*domain.RegenerationHistoryEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	var primaryRef, mobileRef string
	if err := tx.QueryRow(ctx, sqlinline.QLockSectionRefs, req.SectionID).Scan(&primaryRef, &mobileRef); err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("section %s: %w", req.SectionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("lock section: %w", err)
	}
	previousRef := primaryRef
	if req.Field == domain.FieldMobile {
		previousRef = mobileRef
	}

	asset := req.Asset
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if _, err := tx.Exec(ctx, sqlinline.QInsertImageAsset,
		asset.ID, asset.URI, asset.MIME, asset.Width, asset.Height, string(asset.SourceKind), asset.SourceAssetID,
	); err != nil {
		return nil, fmt.Errorf("insert image asset: %w", err)
	}

	updateQuery := sqlinline.QUpdateSectionImageRef
	if req.Field == domain.FieldMobile {
		updateQuery = sqlinline.QUpdateSectionMobileImageRef
	}
	if _, err := tx.Exec(ctx, updateQuery, req.SectionID, asset.ID); err != nil {
		return nil, fmt.Errorf("update section reference: %w", err)
	}

	entry := &domain.RegenerationHistoryEntry{
		ID:               uuid.NewString(),
		SectionID:        req.SectionID,
		Field:            req.Field,
		PreviousImageRef: previousRef,
		NewImageRef:      asset.ID,
		ActionKind:       req.ActionKind,
		PromptText:       req.PromptText,
	}
	if _, err := tx.Exec(ctx, sqlinline.QInsertHistoryEntry,
		entry.ID, entry.SectionID, string(entry.Field), entry.PreviousImageRef, entry.NewImageRef, string(entry.ActionKind), entry.PromptText,
	); err != nil {
		return nil, fmt.Errorf("insert history entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit regeneration: %w", err)
	}
	return entry, nil
}

// Undo re-points the section's reference at the latest history entry's
// previous image and appends an undo entry, all in one transaction.
func (r *SectionRepositoryPG) Undo(ctx context.Context, sectionID string, field domain.ImageField) (*domain.RegenerationHistoryEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin undo: %w", err)
	}
	defer tx.Rollback(ctx)

	var primaryRef, mobileRef string
	if err := tx.QueryRow(ctx, sqlinline.QLockSectionRefs, sectionID).Scan(&primaryRef, &mobileRef); err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("section %s: %w", sectionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("lock section: %w", err)
	}
	currentRef := primaryRef
	if field == domain.FieldMobile {
		currentRef = mobileRef
	}

	var latest domain.RegenerationHistoryEntry
	var fieldText, kindText string
	if err := tx.QueryRow(ctx, sqlinline.QSelectLatestHistoryEntry, sectionID, string(field)).Scan(
		&latest.ID, &latest.SectionID, &fieldText, &latest.PreviousImageRef, &latest.NewImageRef, &kindText, &latest.PromptText, &latest.CreatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("no history for section %s: %w", sectionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load history: %w", err)
	}
	if latest.PreviousImageRef == "" {
		return nil, fmt.Errorf("%w: history chain has no previous image", domain.ErrInvalidOperation)
	}

	updateQuery := sqlinline.QUpdateSectionImageRef
	if field == domain.FieldMobile {
		updateQuery = sqlinline.QUpdateSectionMobileImageRef
	}
	if _, err := tx.Exec(ctx, updateQuery, sectionID, latest.PreviousImageRef); err != nil {
		return nil, fmt.Errorf("restore section reference: %w", err)
	}

	entry := &domain.RegenerationHistoryEntry{
		ID:               uuid.NewString(),
		SectionID:        sectionID,
		Field:            field,
		PreviousImageRef: currentRef,
		NewImageRef:      latest.PreviousImageRef,
		ActionKind:       domain.ActionUndo,
	}
	if _, err := tx.Exec(ctx, sqlinline.QInsertHistoryEntry,
		entry.ID, entry.SectionID, string(entry.Field), entry.PreviousImageRef, entry.NewImageRef, string(entry.ActionKind), entry.PromptText,
	); err != nil {
		return nil, fmt.Errorf("insert undo entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit undo: %w", err)
	}
	return entry, nil
}

var _ regen.Committer = (*SectionRepositoryPG)(nil)
