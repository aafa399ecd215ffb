package ports

import (
	"context"

	"github.com/bft-labs/boardlink/internal/domain"
)

// StatusRepository persists diagnostic snapshots of a running hub.
// Implementations write atomically so readers never see a torn file.
type StatusRepository interface {
	Save(ctx context.Context, status domain.HubStatus) error
	Load(ctx context.Context) (domain.HubStatus, error)
}
