package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/mevdash/internal/application/dashboard"
	"github.com/alejandrodnm/mevdash/internal/ports"
)

// errRenderedOnce detiene el errgroup en modo -once tras el primer render.
var errRenderedOnce = errors.New("rendered once")

// renderLoop pinta el último modelo publicado, como mucho uno por interval.
// Los commits intermedios no se pintan: Commits sólo guarda el último.
func renderLoop(
	ctx context.Context,
	engine *dashboard.Engine,
	renderer ports.Renderer,
	viewportHeight float64,
	interval time.Duration,
	once bool,
) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-engine.Commits():
		}

		if once {
			if m := engine.Model(); !m.Snapshotted() {
				continue
			}
		} else if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		m := engine.Model()
		if err := renderer.Render(ctx, engine.View(m, 0, viewportHeight)); err != nil {
			slog.Warn("render failed", "err", err)
		}
		if once {
			return errRenderedOnce
		}
	}
}
