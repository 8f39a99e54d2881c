package cmd

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/karthikraju391/campus-chat/blob"
	"github.com/karthikraju391/campus-chat/cache/redis"
	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/config"
	"github.com/karthikraju391/campus-chat/handlers"
	"github.com/karthikraju391/campus-chat/nats_service"
	"github.com/karthikraju391/campus-chat/store"
)

// bodyOverhead leaves room for multipart framing around the largest allowed
// attachment.
const bodyOverhead = 1 << 20

type ServeFlags struct {
	Config *config.Config

	// InMemory runs without postgres, NATS, redis or GCS. Data is lost on exit.
	InMemory bool
}

func (f *ServeFlags) BindFlags(fs *pflag.FlagSet) {
	f.Config.BindFlags(fs)
	fs.BoolVar(&f.InMemory, "in-memory", f.InMemory, "Keep all chat state in process (development only)")
}

// backend is everything the chat core talks to, plus what must be released on
// shutdown.
type backend struct {
	gateway  chat.Gateway
	feed     chat.ChangeFeed
	presence chat.Presence
	profiles chat.ProfileDirectory
	reports  chat.ReportLookup
	blobs    blob.Store
	healthy  func() bool
	closers  []func()

	// memBlobs is set in development mode so uploaded files can be fetched back.
	memBlobs *blob.Memory
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func NewServeCommand() *cobra.Command {
	cfg, loadErr := config.Load()
	if loadErr != nil {
		cfg = &config.Config{}
	}
	f := &ServeFlags{Config: cfg}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return errors.WithMessage(loadErr, "could not load configuration")
			}
			if err := f.Config.Validate(); err != nil {
				return errors.WithMessage(err, "error validating options")
			}

			var b *backend
			var err error
			if f.InMemory {
				b = newMemoryBackend(f.Config)
			} else {
				b, err = newBackend(cmd.Context(), f.Config)
				if err != nil {
					return err
				}
			}
			defer b.close()

			return serve(f.Config, b)
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

func newMemoryBackend(cfg *config.Config) *backend {
	log.Warn("running with in-memory storage, nothing will be persisted")
	mem := store.NewMemory()
	blobs := blob.NewMemory("http://localhost" + cfg.ServerAddr + "/blobs")
	return &backend{
		gateway:  mem,
		feed:     mem,
		presence: mem,
		profiles: mem,
		reports:  mem,
		blobs:    blobs,
		healthy:  func() bool { return true },
		memBlobs: blobs,
	}
}

func newBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b := &backend{}

	natsSvc, err := nats_service.NewNatsService(cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "couldn't initialize NATS service")
	}
	b.closers = append(b.closers, natsSvc.Close)
	log.Info("NATS service initialized")

	dbc, err := openDB(cfg)
	if err != nil {
		b.close()
		return nil, err
	}

	// Nil interface unless redis is configured, so lookups skip the cache.
	var emailCache store.EmailCache
	if cfg.RedisURL != "" {
		cacheClient, err := redis.NewRedisCache(cfg.RedisURL)
		if err != nil {
			b.close()
			return nil, errors.WithMessage(err, "couldn't get cache client")
		}
		if err := cacheClient.Ping(); err != nil {
			log.WithError(err).Warn("redis not reachable, email lookups will not be cached")
		}
		emailCache = cacheClient
		b.closers = append(b.closers, func() { cacheClient.Close() })
	}

	gcsClient, err := blob.NewGCSClient(ctx, cfg.GCSCredentialsFile)
	if err != nil {
		b.close()
		return nil, errors.WithMessage(err, "couldn't get GCS client")
	}
	gcs := blob.NewGCS(gcsClient, cfg.GCSBucket, cfg.GCSPublicBaseURL)
	b.closers = append(b.closers, func() { gcs.Close() })

	b.gateway = store.NewPostgres(dbc, natsSvc)
	b.feed = natsSvc
	b.presence = natsSvc
	b.profiles = store.NewProfiles(dbc, emailCache, cfg.EmailCacheTTL)
	b.reports = store.NewReports(dbc)
	b.blobs = gcs
	b.healthy = natsSvc.Healthy
	return b, nil
}

func serve(cfg *config.Config, b *backend) error {
	srv := &handlers.Server{
		Gateway:    b.gateway,
		Feed:       b.feed,
		Resolver:   chat.NewResolver(b.gateway),
		Sender:     chat.NewSender(b.gateway, b.reports),
		Sync:       chat.NewSynchronizer(b.gateway, b.feed, b.presence, cfg.TypingQuietPeriod),
		Aggregator: chat.NewAggregator(b.gateway, b.profiles),
		Uploader:   blob.NewUploader(b.blobs, cfg.MaxAttachmentBytes),
	}

	// --- Initialize Fiber App ---
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.MaxAttachmentBytes) + bodyOverhead,
		Immutable: true,
	})
	app.Use(logger.New()) // Basic request logging

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if !b.healthy() {
			return c.Status(fiber.StatusServiceUnavailable).SendString("unhealthy")
		}
		return c.SendString("ok")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	if b.memBlobs != nil {
		app.Get("/blobs/:name", func(c *fiber.Ctx) error {
			name, err := url.PathUnescape(c.Params("name"))
			if err != nil {
				return fiber.ErrBadRequest
			}
			data, contentType, ok := b.memBlobs.Object(name)
			if !ok {
				return fiber.ErrNotFound
			}
			c.Set(fiber.HeaderContentType, contentType)
			return c.Send(data)
		})
	}
	srv.Register(app)

	// --- Start Server ---
	go func() {
		log.WithField("addr", cfg.ServerAddr).Info("starting server")
		if err := app.Listen(cfg.ServerAddr); err != nil {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until signal received

	log.Info("shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.WithError(err).Error("error shutting down fiber")
	}
	log.Info("server gracefully stopped")
	return nil
}
