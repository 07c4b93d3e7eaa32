package syncengine

import (
	"context"
	"time"

	"inkdown-sync-server/internal/cursorclock"
	"inkdown-sync-server/internal/domain"
)

const defaultMaxPullLimit = 500

// Pull is the top-level pull orchestrator: the Delta Producer projected
// into the wire response shape. The cursor parser is permissive on input
// (ISO-8601, epoch, or a prior opaque next_cursor) and canonical on output.
func (e *Engine) Pull(ctx context.Context, scope domain.Scope, req domain.PullRequest) (*domain.PullResponse, error) {
	if req.DeviceID != scope.DeviceID || req.WalletID != scope.WalletID {
		return nil, &ErrBatch{Message: "device_id/wallet_id do not match resolved scope"}
	}

	cursorInput := req.Cursor
	if cursorInput == "" {
		cursorInput = req.Since
	}
	after, err := cursorclock.ParseCursor(cursorInput)
	if err != nil {
		return nil, &ErrBatch{Message: "invalid_cursor"}
	}

	limit := req.Limit
	if limit <= 0 || limit > e.maxPullLimit {
		limit = e.maxPullLimit
	}

	rows, err := e.entities.Range(ctx, scope.WalletID, after, limit)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	items := make([]domain.PullItem, 0, len(rows))
	nextCursor := cursorclock.Format(after)
	for _, row := range rows {
		items = append(items, domain.PullItem{
			EntityType:     string(row.EntityType),
			EntityID:       row.EntityID,
			ClientID:       row.EntityID,
			DocVersion:     row.DocVersion,
			ServerModified: cursorclock.Format(row.ServerModified),
			Payload:        row.Payload,
			IsDeleted:      row.IsDeleted,
			DeletedAt:      row.DeletedAt,
		})
		nextCursor = cursorclock.Format(row.ServerModified)
	}

	return &domain.PullResponse{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
		ServerTime: time.Now().UTC(),
	}, nil
}
