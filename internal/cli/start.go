package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/love2wisdom/kim-team-leader/internal/config"
	"github.com/love2wisdom/kim-team-leader/internal/httpapi"
	"github.com/love2wisdom/kim-team-leader/internal/otel"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var (
		port       int
		dev        bool
		apiKey     string
		dbDriver   string
		dbURL      string
		enableOtel bool
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the teamleader HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			if apiKey == "" {
				apiKey = os.Getenv("TEAMLEADER_API_KEY")
			}

			var metricsHandler http.Handler
			if enableOtel {
				h, err := otel.InitMeterProvider(ctx, "teamleader")
				if err != nil {
					slog.Warn("otel init failed; falling back to plain /metrics", "err", err)
				} else {
					metricsHandler = h
				}
			}

			app, err := httpapi.NewApp(httpapi.ServerOptions{
				Home:           home,
				Addr:           fmt.Sprintf(":%d", port),
				Dev:            dev,
				APIKey:         apiKey,
				DBDriver:       dbDriver,
				DBURL:          dbURL,
				MetricsHandler: metricsHandler,
				UseOtelHTTP:    metricsHandler != nil,
			})
			if err != nil {
				return err
			}
			if metricsHandler != nil {
				err := otel.InitMetricsWithTaskCount(ctx, func() map[string]int64 {
					counts, err := app.Store.CountTasksByStatus(context.Background())
					if err != nil {
						return nil
					}
					return counts
				})
				if err != nil {
					slog.Warn("otel instrument init failed", "err", err)
				}
			}

			errCh := make(chan error, 1)
			go func() { errCh <- app.Server.ListenAndServe() }()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "teamleader listening on http://localhost:%d (home %s)\n", port, home)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return app.Server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 3970, "Port for the HTTP server")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require this API key on requests (or set TEAMLEADER_API_KEY)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
