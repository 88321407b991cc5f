package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(RoundsTotal, CommandFailures, RowsWritten)
	prometheus.MustRegister(Segments, LiveBlocks, UtilizationMean,
		RoundSeconds)
}

// Serve exports the registered metrics on /metrics at listen until ctx is
// canceled.
func Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// CommandFailed records a failed external command.
func CommandFailed(command string) {
	CommandFailures.WithLabelValues(command).Inc()
}

// ObserveRound records a completed round.
func ObserveRound(segments int, liveBlocks uint64, meanUtil float64, elapsed time.Duration) {
	RoundsTotal.Inc()
	RowsWritten.Add(float64(segments))
	Segments.Set(float64(segments))
	LiveBlocks.Set(float64(liveBlocks))
	UtilizationMean.Set(meanUtil)
	RoundSeconds.Observe(elapsed.Seconds())
}
