// Command nulldata-harvester prints the nulldata operations of a range of blocks as
// JSON lines.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodnatureofminers/nulldata-harvester/internal/metrics"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/bitcoin"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/chain"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/harvest"
	"github.com/goodnatureofminers/nulldata-harvester/internal/utxo/model"
	"github.com/goodnatureofminers/nulldata-harvester/pkg/workerpool"
	"github.com/jessevdk/go-flags"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

type config struct {
	Coin        model.Coin    `long:"coin" env:"NULLDATA_COIN" description:"coin name" default:"BTC"`
	Network     model.Network `long:"network" env:"NULLDATA_NETWORK" description:"network name" required:"true"`
	RPCURL      string        `long:"rpc-url" env:"NULLDATA_RPC_URL" description:"node RPC URL" default:"http://127.0.0.1:8332"`
	RPCUser     string        `long:"rpc-user" env:"NULLDATA_RPC_USER" description:"node RPC username"`
	RPCPassword string        `long:"rpc-password" env:"NULLDATA_RPC_PASSWORD" description:"node RPC password"`

	ChainID  string `long:"chain-id" env:"NULLDATA_CHAIN_ID" description:"chain profile name" default:"bitcoin"`
	MagicHex string `long:"magic" env:"NULLDATA_MAGIC" description:"hex payload prefix identifying harvested operations" required:"true"`
	OpCodes  string `long:"op-codes" env:"NULLDATA_OP_CODES" description:"operation bytes accepted after the prefix (empty accepts any)"`

	Workers         int `long:"workers" env:"NULLDATA_WORKERS" description:"node calls in flight" default:"16"`
	Retries         int `long:"retries" env:"NULLDATA_RETRIES" description:"attempts per node call" default:"3"`
	SliceLength     int `long:"slice-length" env:"NULLDATA_SLICE_LENGTH" description:"blocks resolved together" default:"50"`
	SourceCacheSize int `long:"source-cache" env:"NULLDATA_SOURCE_CACHE" description:"source transactions shared within a slice (0 disables)" default:"10000"`

	From    *uint64  `long:"from" description:"first height of the range"`
	To      *uint64  `long:"to" description:"last height of the range (inclusive)"`
	Heights []uint64 `long:"height" description:"explicit height, may be repeated"`
	Sync    bool     `long:"sync" description:"harvest one block at a time on the calling goroutine"`
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

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if err := run(ctx, cfg, os.Stdout, logger); err != nil {
		logger.Fatal("nulldata harvester failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, out io.Writer, logger *zap.Logger) error {
	heights, err := requestedHeights(cfg)
	if err != nil {
		return err
	}

	coin := cfg.Coin
	profile, err := chain.NewStaticProfile(cfg.ChainID, 0, cfg.MagicHex, cfg.OpCodes)
	if err != nil {
		return fmt.Errorf("init chain profile: %w", err)
	}
	decoder, err := bitcoin.NewAddressDecoder(cfg.Network)
	if err != nil {
		return fmt.Errorf("init address decoder: %w", err)
	}

	rpcMetrics := metrics.NewRPCClient(coin, cfg.Network)
	factory, err := bitcoin.NewClientFactory(bitcoin.ConnConfig{
		URL:      cfg.RPCURL,
		User:     cfg.RPCUser,
		Password: cfg.RPCPassword,
	}, rpcMetrics)
	if err != nil {
		return fmt.Errorf("init rpc client: %w", err)
	}

	holders := make([]*bitcoin.ClientHolder, 0, cfg.Workers+1)
	newHolder := func(int) bitcoin.ClientProvider {
		h := bitcoin.NewClientHolder(factory)
		holders = append(holders, h)
		return h
	}
	defer func() {
		for _, h := range holders {
			h.Reset()
		}
	}()

	pool := workerpool.New(cfg.Workers, newHolder)
	defer pool.Close()

	retrier := bitcoin.NewRetrier(cfg.Retries, rpcMetrics, logger.Named("retrier"))
	harvester, err := harvest.NewHarvester(
		pool,
		retrier,
		harvest.NewEnricher(retrier, decoder, bitcoin.NewNulldataExtractor(profile)),
		coin,
		cfg.Network,
		harvest.Config{SliceLength: cfg.SliceLength, SourceCacheSize: cfg.SourceCacheSize},
		metrics.NewHarvester(coin, cfg.Network),
		logger.Named("harvester"),
	)
	if err != nil {
		return fmt.Errorf("init harvester: %w", err)
	}

	w := bufio.NewWriter(out)
	if cfg.Sync {
		provider := newHolder(cfg.Workers)
		for _, height := range heights {
			ops, err := harvester.HarvestBlock(ctx, provider, height)
			if err != nil {
				return fmt.Errorf("harvest block %d: %w", height, err)
			}
			if err := writeLine(w, ops); err != nil {
				return err
			}
		}
		return w.Flush()
	}

	ops, err := harvester.Harvest(ctx, heights)
	if err != nil {
		return fmt.Errorf("harvest %d blocks: %w", len(heights), err)
	}
	for _, block := range ops {
		if err := writeLine(w, block); err != nil {
			return err
		}
	}
	return w.Flush()
}

// requestedHeights joins the --from/--to range with explicit --height values.
func requestedHeights(cfg config) ([]uint64, error) {
	heights := append([]uint64(nil), cfg.Heights...)
	switch {
	case cfg.From == nil && cfg.To == nil:
	case cfg.From == nil || cfg.To == nil:
		return nil, errors.New("--from and --to must be set together")
	default:
		from, to := *cfg.From, *cfg.To
		if to < from {
			return nil, fmt.Errorf("range end %d is below its start %d", to, from)
		}
		for h := from; ; h++ {
			heights = append(heights, h)
			if h == to {
				break
			}
		}
	}
	if len(heights) == 0 {
		return nil, errors.New("no heights requested, use --from/--to or --height")
	}
	return heights, nil
}

func writeLine(w io.Writer, ops model.BlockOperations) error {
	line, err := sonnet.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", ops.Height, err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write block %d: %w", ops.Height, err)
	}
	return nil
}
