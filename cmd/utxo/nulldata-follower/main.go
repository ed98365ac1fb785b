// Command nulldata-follower harvests nulldata operations of new blocks into ClickHouse
// and reports its health over gRPC and HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodnatureofminers/nulldata-harvester/internal/metrics"
	"github.com/goodnatureofminers/nulldata-harvester/internal/transport"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/bitcoin"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/chain"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/harvest"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/repository/clickhouse"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/service/follower"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/workerpool"
	grpcMiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcZap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpcRecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcCtxTags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpcPrometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "nulldata.follower"

type config struct {
	ClickhouseDSN string        `long:"clickhouse-dsn" env:"NULLDATA_FOLLOWER_CLICKHOUSE_DSN" description:"ClickHouse DSN" required:"true"`
	Coin          model.Coin    `long:"coin" env:"NULLDATA_FOLLOWER_COIN" description:"coin name" default:"BTC"`
	Network       model.Network `long:"network" env:"NULLDATA_FOLLOWER_NETWORK" description:"network name" required:"true"`
	RPCURL        string        `long:"rpc-url" env:"NULLDATA_FOLLOWER_RPC_URL" description:"node RPC URL" default:"http://127.0.0.1:8332"`
	RPCUser       string        `long:"rpc-user" env:"NULLDATA_FOLLOWER_RPC_USER" description:"node RPC username"`
	RPCPassword   string        `long:"rpc-password" env:"NULLDATA_FOLLOWER_RPC_PASSWORD" description:"node RPC password"`
	ZMQAddr       string        `long:"zmq-addr" env:"NULLDATA_FOLLOWER_ZMQ_ADDR" description:"node zmq hashblock endpoint (zmq builds only)"`

	ChainID    string `long:"chain-id" env:"NULLDATA_FOLLOWER_CHAIN_ID" description:"chain profile name" default:"bitcoin"`
	FirstBlock uint64 `long:"first-block" env:"NULLDATA_FOLLOWER_FIRST_BLOCK" description:"first height worth harvesting"`
	MagicHex   string `long:"magic" env:"NULLDATA_FOLLOWER_MAGIC" description:"hex payload prefix identifying harvested operations" required:"true"`
	OpCodes    string `long:"op-codes" env:"NULLDATA_FOLLOWER_OP_CODES" description:"operation bytes accepted after the prefix (empty accepts any)"`

	Workers         int    `long:"workers" env:"NULLDATA_FOLLOWER_WORKERS" description:"node calls in flight" default:"16"`
	Retries         int    `long:"retries" env:"NULLDATA_FOLLOWER_RETRIES" description:"attempts per node call" default:"3"`
	SliceLength     int    `long:"slice-length" env:"NULLDATA_FOLLOWER_SLICE_LENGTH" description:"blocks resolved together" default:"50"`
	SourceCacheSize int    `long:"source-cache" env:"NULLDATA_FOLLOWER_SOURCE_CACHE" description:"source transactions shared within a slice (0 disables)" default:"10000"`
	ChunkSize       int    `long:"chunk-size" env:"NULLDATA_FOLLOWER_CHUNK_SIZE" description:"heights per harvest call" default:"100"`
	Confirmations   uint64 `long:"confirmations" env:"NULLDATA_FOLLOWER_CONFIRMATIONS" description:"blocks to stay behind the tip" default:"1"`

	GRPCAddr string `long:"grpc-addr" env:"NULLDATA_FOLLOWER_GRPC_ADDR" description:"gRPC health server address" default:":8000"`
	HTTPAddr string `long:"http-addr" env:"NULLDATA_FOLLOWER_HTTP_ADDR" description:"HTTP address for /metrics and /healthz" default:":8001"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	grpcZap.ReplaceGrpcLoggerV2(logger)

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("nulldata follower failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	healthServer := health.NewServer()
	reporter := transport.NewHealthReporter(healthServer, healthService)
	if err := startGRPCServer(ctx, cfg.GRPCAddr, healthServer, logger); err != nil {
		return err
	}
	if err := startHTTPServer(ctx, cfg.HTTPAddr, cfg.GRPCAddr, logger); err != nil {
		return err
	}

	profile, err := chain.NewStaticProfile(cfg.ChainID, cfg.FirstBlock, cfg.MagicHex, cfg.OpCodes)
	if err != nil {
		return fmt.Errorf("init chain profile: %w", err)
	}
	decoder, err := bitcoin.NewAddressDecoder(cfg.Network)
	if err != nil {
		return fmt.Errorf("init address decoder: %w", err)
	}

	repo, err := clickhouse.NewRepository(cfg.ClickhouseDSN, metrics.NewClickhouseRepository())
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("close repository", zap.Error(err))
		}
	}()

	rpcMetrics := metrics.NewRPCClient(cfg.Coin, cfg.Network)
	factory, err := bitcoin.NewClientFactory(bitcoin.ConnConfig{
		URL:      cfg.RPCURL,
		User:     cfg.RPCUser,
		Password: cfg.RPCPassword,
	}, rpcMetrics)
	if err != nil {
		return fmt.Errorf("init rpc client: %w", err)
	}

	holders := []*bitcoin.ClientHolder{bitcoin.NewClientHolder(factory)}
	defer func() {
		for _, h := range holders {
			h.Reset()
		}
	}()
	pool := workerpool.New(cfg.Workers, func(int) bitcoin.ClientProvider {
		h := bitcoin.NewClientHolder(factory)
		holders = append(holders, h)
		return h
	})
	defer pool.Close()

	retrier := bitcoin.NewRetrier(cfg.Retries, rpcMetrics, logger.Named("retrier"))
	harvester, err := harvest.NewHarvester(
		pool,
		retrier,
		harvest.NewEnricher(retrier, decoder, bitcoin.NewNulldataExtractor(profile)),
		cfg.Coin,
		cfg.Network,
		harvest.Config{SliceLength: cfg.SliceLength, SourceCacheSize: cfg.SourceCacheSize},
		metrics.NewHarvester(cfg.Coin, cfg.Network),
		logger.Named("harvester"),
	)
	if err != nil {
		return fmt.Errorf("init harvester: %w", err)
	}

	blockSignal, err := startBlockSignal(ctx, cfg.ZMQAddr, logger.Named("blockSignal"))
	if err != nil {
		return fmt.Errorf("init block signal: %w", err)
	}

	svc, err := follower.NewService(
		repo,
		retrier,
		holders[0],
		harvester,
		reporter,
		metrics.NewFollower(cfg.Coin, cfg.Network),
		cfg.Coin,
		cfg.Network,
		follower.Config{
			FirstBlock:    profile.FirstBlock(),
			ChunkSize:     cfg.ChunkSize,
			Confirmations: cfg.Confirmations,
		},
		logger.Named("follower"),
		blockSignal,
	)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func startGRPCServer(ctx context.Context, addr string, healthServer *health.Server, logger *zap.Logger) error {
	interceptors := []grpc.UnaryServerInterceptor{
		grpcRecovery.UnaryServerInterceptor(),
		grpcCtxTags.UnaryServerInterceptor(),
		grpcPrometheus.UnaryServerInterceptor,
		grpcZap.UnaryServerInterceptor(logger),
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcMiddleware.ChainUnaryServer(interceptors...)),
		grpc.StreamInterceptor(grpcMiddleware.ChainStreamServer(
			grpcRecovery.StreamServerInterceptor(),
			grpcPrometheus.StreamServerInterceptor,
		)),
	)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcPrometheus.EnableHandlingTimeHistogram()
	grpcPrometheus.Register(grpcServer)

	socket, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", addr, err)
	}
	go func() {
		logger.Info("starting gRPC server", zap.String("addr", addr))
		if err := grpcServer.Serve(socket); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down gRPC server")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()
	return nil
}

func startHTTPServer(ctx context.Context, addr, grpcAddr string, logger *zap.Logger) error {
	conn, err := grpc.NewClient(dialTarget(grpcAddr), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial health service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gwruntime.NewServeMux(gwruntime.WithHealthzEndpoint(healthpb.NewHealthClient(conn))))

	srv := &http.Server{
		Addr:              addr,
		Handler:           cors.Default().Handler(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", zap.Error(err))
		}
		_ = conn.Close()
	}()
	return nil
}

// dialTarget turns a listen address such as ":8000" into one a client can dial.
func dialTarget(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host != "" {
		return addr
	}
	return net.JoinHostPort("localhost", port)
}
