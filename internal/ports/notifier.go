package ports

import (
	"context"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

// Renderer presenta la ventana visible del dashboard.
type Renderer interface {
	// Render dibuja una vista. En la implementación de consola imprime una
	// línea de estado y una tabla con las filas visibles.
	Render(ctx context.Context, view domain.View) error
}
