// Command sharevault-server runs the file-sharing core: background sweeps
// plus a gRPC health endpoint.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/sharevault/internal/app"
	"github.com/and161185/sharevault/internal/blob"
	"github.com/and161185/sharevault/internal/config"
	"github.com/and161185/sharevault/internal/crypto"
	"github.com/and161185/sharevault/internal/events"
	"github.com/and161185/sharevault/internal/limiter"
	"github.com/and161185/sharevault/internal/migrate"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/repository"
	"github.com/and161185/sharevault/internal/repository/memory"
	"github.com/and161185/sharevault/internal/repository/postgres"
	grpcserver "github.com/and161185/sharevault/internal/server/grpc"
	"github.com/and161185/sharevault/internal/service"
	"github.com/and161185/sharevault/internal/tracker"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.ListenAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

type stores struct {
	files   repository.FileRepository
	rooms   repository.RoomRepository
	peers   repository.PeerRepository
	limiter limiter.Limiter
	close   func()
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	policy := limiter.Policy{Window: cfg.JoinFailWindow, MaxFails: cfg.JoinMaxFails, BlockFor: cfg.JoinBlockFor}
	if cfg.DSN == "" {
		log.Warn("no dsn, metadata kept in memory")
		s := &stores{
			files: memory.NewFileRepo(),
			rooms: memory.NewRoomRepo(),
			peers: memory.NewPeerRepo(),
			close: func() {},
		}
		if cfg.JoinMaxFails > 0 {
			s.limiter = limiter.NewMemory(policy)
		}
		return s, nil
	}

	if cfg.Migrate {
		v, err := migrate.Up(ctx, cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		log.Info("schema ready", zap.Int64("version", v))
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	s := &stores{
		files: postgres.NewFileRepo(db),
		rooms: postgres.NewRoomRepo(db),
		peers: postgres.NewPeerRepo(db),
		close: db.Close,
	}
	if cfg.JoinMaxFails > 0 {
		s.limiter = limiter.NewPG(db.Pool, policy)
	}
	return s, nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.BlobBackend == config.BlobS3 {
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		})
	}
	return blob.NewDisk(cfg.StorageDir)
}

func newEngine(cfg *config.Config) (*crypto.Engine, error) {
	if cfg.RSAKeyFile == "" {
		return crypto.NewEngine(nil)
	}
	rsaKey, err := crypto.LoadRSAStrategy(cfg.RSAKeyFile)
	if err != nil {
		return nil, err
	}
	return crypto.NewEngine(rsaKey)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("crypto engine: %w", err)
	}
	masterKey, err := cfg.MasterKey()
	if err != nil {
		return err
	}

	bus := events.NewBus(log)
	defer bus.Close()
	notify := bus.SubscribeFunc(func(e model.RoomEvent) {
		log.Debug("room event",
			zap.String("type", string(e.Type)),
			zap.String("room", e.RoomID.String()),
			zap.String("user", e.UserID),
		)
	})
	defer notify.Close()

	rooms := service.NewRoomService(st.rooms, bus, service.RoomOptions{
		MaxMembers:    cfg.MaxMembers,
		MaxFiles:      cfg.MaxFiles,
		TokenTTL:      cfg.JoinTokenTTL,
		MaxJoinTokens: cfg.MaxJoinTokens,
	}, log)
	files, err := service.NewFileService(st.files, blobs, engine, rooms, service.FileOptions{
		MaxFileSize:    cfg.MaxFileSize,
		AllowedTypes:   cfg.AllowedTypes,
		VerifyChecksum: cfg.VerifyChecksum,
		Timeout:        cfg.OperationTimeout,
		MasterKey:      masterKey,
	}, log)
	if err != nil {
		return err
	}

	core := app.New(app.Deps{
		Files: files,
		Rooms: rooms,
		Transfers: tracker.NewTransfers(log,
			tracker.WithMaxTransfers(cfg.MaxTransfers),
			tracker.WithRetention(cfg.TransferRetention),
		),
		Peers: tracker.NewPeers(st.peers, log,
			tracker.WithActivityWindow(cfg.ActivityWindow),
			tracker.WithInactivityThreshold(cfg.InactivityThreshold),
		),
		Tokens:  rooms,
		Limiter: st.limiter,
		Log:     log,
	}, app.Intervals{
		TransferSweep: cfg.TransferSweepInterval,
		PeerSweep:     cfg.PeerSweepInterval,
		TokenSweep:    cfg.TokenSweepInterval,
	})

	srv, err := grpcserver.New(grpcserver.Options{
		CertFile:   cfg.TLSCert,
		KeyFile:    cfg.TLSKey,
		Reflection: cfg.Dev,
	}, log)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Run(ctx) })
	g.Go(func() error { return srv.Serve(ctx, lis) })
	srv.SetServing(true)
	return g.Wait()
}
