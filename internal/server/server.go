package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/afribourse/internal/api"
	"github.com/victornm/afribourse/internal/event"
	"github.com/victornm/afribourse/internal/jobs"
	"github.com/victornm/afribourse/internal/leaderboard"
	"github.com/victornm/afribourse/internal/ledger"
	"github.com/victornm/afribourse/internal/market"
	"github.com/victornm/afribourse/internal/memstore"
	"github.com/victornm/afribourse/internal/quiz"
	"github.com/victornm/afribourse/internal/telemetry"
	"github.com/victornm/afribourse/internal/xp"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTP struct {
		Port int32
		// CORSOrigins defaults to any origin.
		CORSOrigins []string `mapstructure:"cors_origins"`
	}

	GRPC struct {
		Port int32
	}

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	}

	Storage struct {
		// Driver is "postgres" or "memory".
		Driver string
		// Seed loads a demo module and prices into the memory driver.
		Seed bool
	}

	Redis struct {
		Cache struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Quiz quiz.Policy

	Ledger struct {
		InitialBalance int64 `mapstructure:"initial_balance"`
		Market         market.Config
	}

	Jobs struct {
		Enabled          bool
		SnapshotSchedule string `mapstructure:"snapshot_schedule"`
	}
}

// DefaultConfig is the configuration a file overrides.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Storage.Driver = DriverPostgres
	c.Redis.Cache.Prefix = "afribourse"
	c.Redis.Pubsub.Prefix = "afribourse"
	c.Quiz = quiz.DefaultPolicy()
	c.Ledger.InitialBalance = ledger.DefaultInitialBalance
	c.Ledger.Market = market.Config{
		Location: market.DefaultLocation,
		Open:     market.DefaultOpen,
		Close:    market.DefaultClose,
	}
	c.Jobs.Enabled = true
	c.Jobs.SnapshotSchedule = jobs.DefaultSnapshotSchedule
	return c
}

func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.GRPC.Port <= 0 {
		errs = append(errs, fmt.Errorf("http.port and grpc.port must be positive"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("auth.jwt_secret is required"))
	}
	if len(c.Redis.Cache.Addrs) == 0 || len(c.Redis.Pubsub.Addrs) == 0 {
		errs = append(errs, fmt.Errorf("redis.cache.addrs and redis.pubsub.addrs are required"))
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Postgres.Addr == "" || c.Postgres.Name == "" {
			errs = append(errs, fmt.Errorf("postgres.addr and postgres.name are required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of %s, %s", c.Storage.Driver, DriverPostgres, DriverMemory))
	}

	if c.Ledger.InitialBalance <= 0 {
		errs = append(errs, fmt.Errorf("ledger.initial_balance must be positive"))
	}

	return stderrors.Join(errs...)
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			cache  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	store struct {
		quiz   quiz.Store
		ledger ledger.Store
		xp     xp.Store
	}

	service struct {
		quiz        *quiz.Service
		ledger      *ledger.Service
		xp          *xp.Service
		leaderboard *leaderboard.Service
	}

	calendar *market.Calendar
	jobs     *jobs.Scheduler

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus(event.WithErrorHook(func(ctx context.Context, name string, err error) {
		telemetry.EventFailures.WithLabelValues(name).Inc()
	}))

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initStore()

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	if err := s.initJobs(); err != nil {
		return nil, fmt.Errorf("server: init jobs: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if s.c.Storage.Driver == DriverPostgres {
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.cache, err = connect(s.c.Redis.Cache.Addrs, s.c.Redis.Cache.Pass)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pc := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initStore() {
	if s.c.Storage.Driver == DriverPostgres {
		s.store.quiz = quiz.NewPostgresStore(s.infra.postgres)
		s.store.ledger = ledger.NewPostgresStore(s.infra.postgres)
		s.store.xp = xp.NewPostgresStore(s.infra.postgres)
		return
	}

	q, l := memstore.NewQuiz(), memstore.NewLedger()
	if s.c.Storage.Seed {
		memstore.Seed(q, l)
	}

	s.store.quiz, s.store.ledger, s.store.xp = q, l, memstore.NewXP()
	slog.Warn("server: using in-memory storage, data is lost on restart", "seeded", s.c.Storage.Seed)
}

func (s *Server) initService() error {
	var err error
	s.calendar, err = market.NewCalendar(s.c.Ledger.Market)
	if err != nil {
		return err
	}

	s.service.quiz = quiz.NewService(quiz.Config{
		Store:    s.store.quiz,
		Refs:     quiz.NewRedisRefs(s.infra.redis.cache, s.c.Redis.Cache.Prefix),
		EventBus: s.eb,
		Policy:   s.c.Quiz,
	})

	s.service.ledger = ledger.NewService(ledger.Config{
		Store:          s.store.ledger,
		EventBus:       s.eb,
		Calendar:       s.calendar,
		InitialBalance: decimal.NewFromInt(s.c.Ledger.InitialBalance),
	})

	s.service.xp = xp.NewService(xp.Config{
		Store:    s.store.xp,
		EventBus: s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.cache,
		Prefix:   s.c.Redis.Cache.Prefix,
	})

	return nil
}

func (s *Server) initJobs() error {
	if !s.c.Jobs.Enabled {
		return nil
	}

	var err error
	s.jobs, err = jobs.New(jobs.Config{
		Ledger:           s.service.ledger,
		SnapshotSchedule: s.c.Jobs.SnapshotSchedule,
		Location:         s.calendar.Location(),
	})
	return err
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	cc := cors.DefaultConfig()
	cc.AllowHeaders = append(cc.AllowHeaders, "Authorization")
	cc.ExposeHeaders = []string{"Retry-After"}
	if len(s.c.HTTP.CORSOrigins) > 0 {
		cc.AllowOrigins = s.c.HTTP.CORSOrigins
	} else {
		cc.AllowAllOrigins = true
	}
	e.Use(cors.New(cc))

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Quiz:         s.service.quiz,
		Ledger:       s.service.ledger,
		XP:           s.service.xp,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		JWTSecret:    s.c.Auth.JWTSecret,
	})

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.ping(c.Request.Context()); err != nil {
		slog.WarnContext(c.Request.Context(), "server: health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.infra.redis.cache.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis cache: %w", err)
	}

	if s.infra.postgres != nil {
		if err := s.infra.postgres.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	return nil
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	if s.jobs != nil {
		s.jobs.Start()
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if s.jobs != nil {
		s.jobs.Stop(ctx)
	}

	s.eb.Stop()

	for name, r := range map[string]redis.UniversalClient{"cache": s.infra.redis.cache, "pubsub": s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
