package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

// Preferences es el almacén clave-valor durable del cliente.
type Preferences interface {
	// GetPreference devuelve el valor de key y si existía.
	GetPreference(ctx context.Context, key string) (string, bool, error)

	// SetPreference guarda value bajo key.
	SetPreference(ctx context.Context, key, value string) error
}

// OpportunityJournal registra las oportunidades confirmadas para diagnóstico.
// Nunca se usa para rehidratar el estado vivo.
type OpportunityJournal interface {
	// RecordOpportunities persiste las oportunidades que cambiaron desde la última escritura.
	RecordOpportunities(ctx context.Context, opportunities []*domain.Opportunity) (int, error)

	// GetHistory devuelve las oportunidades detectadas en el rango dado.
	GetHistory(ctx context.Context, from, to time.Time) ([]domain.Opportunity, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
