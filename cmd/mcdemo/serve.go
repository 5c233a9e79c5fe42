package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	mcchi "github.com/keksclan/goMobileConnect/adapters/chi"
	mcfasthttp "github.com/keksclan/goMobileConnect/adapters/fasthttp"
	mcfiber "github.com/keksclan/goMobileConnect/adapters/fiber"
	mcprometheus "github.com/keksclan/goMobileConnect/adapters/prometheus"
	"github.com/keksclan/goMobileConnect/mobileconnect"
)

const routePrefix = "/mc"

type serveFlags struct {
	addr     string
	host     string
	sessions string
	secure   bool
}

func serveCmd(c *cli) *cobra.Command {
	var sf serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the browser flow under /mc with Prometheus metrics on /metrics",
		Long: `Serves GET /mc/start and GET /mc/callback. Configure redirect_url to
point at /mc/callback on this server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c, sf)
		},
	}
	f := cmd.Flags()
	f.StringVar(&sf.addr, "addr", "127.0.0.1:8080", "listen address")
	f.StringVar(&sf.host, "host", "chi", "HTTP stack: chi|fiber|fasthttp")
	f.StringVar(&sf.sessions, "sessions", "memory", "flow state store: memory|redis|token")
	f.BoolVar(&sf.secure, "secure-cookies", false, "mark session cookies Secure")
	return cmd
}

func serve(ctx context.Context, c *cli, sf serveFlags) error {
	logger := c.logger()
	reg := prometheus.NewRegistry()
	collector, err := mcprometheus.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	mc, err := c.newInterface(ctx, mobileconnect.WithMetrics(collector))
	if err != nil {
		return err
	}
	defer mc.Close()

	store, err := sessionStore(mc.Config(), sf.sessions)
	if err != nil {
		return err
	}
	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	logger.Info("serving", slog.String("addr", sf.addr), slog.String("host", sf.host), slog.String("sessions", sf.sessions))

	switch sf.host {
	case "chi":
		r := chi.NewRouter()
		r.Use(middleware.RequestID, middleware.Recoverer)
		r.Mount(routePrefix, mcchi.Routes(mc, store, mcchi.WithSecureCookies(sf.secure)))
		r.Handle("/metrics", metrics)
		return serveHTTP(ctx, sf.addr, r)
	case "fiber":
		app := fiber.New(fiber.Config{
			ReadTimeout:           5 * time.Second,
			WriteTimeout:          5 * time.Second,
			DisableStartupMessage: true,
		})
		mcfiber.Register(app, routePrefix, mc, store, mcfiber.WithSecureCookies(sf.secure))
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
		go func() {
			<-ctx.Done()
			_ = app.ShutdownWithTimeout(5 * time.Second)
		}()
		return app.Listen(sf.addr)
	case "fasthttp":
		h := mcfasthttp.Handler(mc, store, fasthttpadaptor.NewFastHTTPHandler(metrics),
			mcfasthttp.WithPrefix(routePrefix),
			mcfasthttp.WithSecureCookies(sf.secure),
		)
		srv := &fasthttp.Server{Handler: h, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown()
		}()
		return srv.ListenAndServe(sf.addr)
	default:
		return fmt.Errorf("unknown host %q (want chi, fiber or fasthttp)", sf.host)
	}
}

// sessionStore builds the server-side flow state store. "token" keeps all
// state in the sealed session cookie.
func sessionStore(cfg mobileconnect.Config, kind string) (mobileconnect.SessionStore, error) {
	switch kind {
	case "memory":
		return mobileconnect.NewMemorySessionStore(cfg.Session.TTL), nil
	case "redis":
		rc := cfg.DiscoveryCache.Redis
		if rc.Addr == "" {
			return nil, errors.New("redis sessions need discovery_cache.redis.addr")
		}
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		return mobileconnect.NewRedisSessionStore(client, rc.KeyPrefix+"session:", cfg.Session.TTL)
	case "token":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown session store %q (want memory, redis or token)", kind)
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sandboxCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local discovery service and operator that approve every request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := c.logger()
			sb, err := newSandbox("http://"+addr, logger)
			if err != nil {
				return err
			}
			fmt.Println("=== Sandbox ===")
			fmt.Printf("MC_DISCOVERY_URL=http://%s/discovery\n", addr)
			fmt.Println("MC_CLIENT_ID=<any> MC_CLIENT_SECRET=<any>")
			fmt.Printf("network: %s_%s\n", sandboxMCC, sandboxMNC)
			return serveHTTP(ctx, addr, sb.routes())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "listen address")
	return cmd
}
