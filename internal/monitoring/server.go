// internal/monitoring/server.go
package monitoring

import (
	"context"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Handler serves the metrics of gatherer at any path.
func Handler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// Serve exposes gatherer on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, gatherer prometheus.Gatherer) error {
	server := &fasthttp.Server{
		Handler: Handler(gatherer),
		Name:    "lumix-attention",
	}

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown metrics server")
		}
		// Shutdown only closes listeners Serve has already registered.
		_ = ln.Close()
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return server.Serve(ln)
}
