package ports

import (
	"context"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

// SnapshotLimits son los límites de filas por pantalla que se piden al snapshot.
type SnapshotLimits struct {
	TxLimit          int
	OpportunityLimit int
	FeatureLimit     int
}

// SnapshotProvider obtiene el estado completo del upstream.
type SnapshotProvider interface {
	// FetchSnapshot devuelve el snapshot actual. Un error no afecta al stream:
	// el synchronizer lo reporta y reintenta en la siguiente ventana.
	FetchSnapshot(ctx context.Context, limits SnapshotLimits) (domain.Snapshot, error)
}

// DetailProvider obtiene el registro de detalle de una transacción.
type DetailProvider interface {
	// FetchDetail devuelve el detalle de hash. Devuelve un error que envuelve
	// upstream.ErrNotFound si el upstream no lo conoce.
	FetchDetail(ctx context.Context, hash string) (domain.TxDetail, error)
}
