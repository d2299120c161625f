// Command apollo-sequencer-node wires the mempool, block builder,
// batcher, commit pipeline, stream handler and pre-confirmed block
// writer into one process, the way the teacher's cmd/empower1d/main.go
// constructs its blockchain/mempool/network stack before entering its
// block loop. The consensus engine that drives propose_block/
// validate_block/decision_reached against the batcher, the HTTP
// gateway that admits transactions into the mempool, and the L1
// scraper are external collaborators (named contracts only); this
// binary owns construction and lifecycle, not their protocols.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
	"github.com/apollo-sequencer/sequencer/internal/batcher"
	"github.com/apollo-sequencer/sequencer/internal/builder"
	"github.com/apollo-sequencer/sequencer/internal/config"
	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/mempool"
	"github.com/apollo-sequencer/sequencer/internal/metrics"
	"github.com/apollo-sequencer/sequencer/internal/p2phost"
	"github.com/apollo-sequencer/sequencer/internal/preconfirmed"
	"github.com/apollo-sequencer/sequencer/internal/state"
	"github.com/apollo-sequencer/sequencer/internal/storage"
	"github.com/apollo-sequencer/sequencer/internal/streamhandler"
	"github.com/apollo-sequencer/sequencer/internal/versionedstate"

	clockpkg "github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
)

func main() {
	cfg := config.Default()
	root := &cobra.Command{
		Use:   "apollo-sequencer-node",
		Short: "Apollo sequencer node core: mempool, batcher, builder, commit pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	root.Flags().SortFlags = false
	cfg.BindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

const shutdownTimeout = 5 * time.Second

func run(cfg *config.Config) error {
	logger := logging.New("apollo-sequencer-node")
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	var store storage.Writer
	if cfg.UseBoltStore {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return err
		}
		bolt, err := storage.OpenBolt(cfg.DataDir + "/sequencer.bolt")
		if err != nil {
			return err
		}
		defer bolt.Close()
		store = bolt
	} else {
		store = storage.NewMemory(apollo.BlockNumber(cfg.StartHeight))
	}

	mp := mempool.New(mempool.Config{
		CapacityBytes:           cfg.MempoolCapacityBytes,
		TransactionTTL:          cfg.MempoolTransactionTTL,
		FeeEscalationEnabled:    cfg.MempoolFeeEscalationEnabled,
		FeeEscalationPercentage: cfg.MempoolFeeEscalationPercentage,
		DeclareDelay:            cfg.MempoolDeclareDelay,
		GasPriceThreshold:       cfg.MempoolGasPriceThreshold,
		CommitHistorySize:       cfg.MempoolCommitHistorySize,
	}, clockpkg.New(), met, logging.New("mempool"))

	bld := builder.New(nopExecutor{}, cfg.BatcherBatchSize, met, logging.New("builder"))
	pcw := preconfirmed.New(met, logging.New("preconfirmed"))

	states := storageStateProviderOf(store, met)

	bat := batcher.New(
		store, mp, noopL1Provider{}, states, bld,
		func() builder.Bouncer { return builder.NewWeightBouncer(0) },
		pcw,
		batcher.Config{
			OutstreamContentBufferSize: cfg.BatcherOutstreamContentBufferSize,
			ValidateChannelCapacity:    cfg.BatcherValidateChannelCapacity,
			ProposalDeadlineMargin:     cfg.BatcherProposalDeadlineMargin,
			GasPriceThreshold:          cfg.MempoolGasPriceThreshold,
			MaxL1HandlersPerProposal:   cfg.BatcherMaxL1HandlersPerProposal,
		},
		met, logging.New("batcher"),
	)

	inbound := streamhandler.NewInbound(streamhandler.Config{
		MaxStreamsPerPeer:    cfg.StreamMaxStreamsPerPeer,
		MaxMessagesPerStream: cfg.StreamMaxMessagesPerStream,
		ChannelBufferSize:    cfg.StreamChannelBufferSize,
	}, nil, met, logging.New("stream_handler"))

	p2p, err := p2phost.New(cfg.ListenAddr, inbound, logging.New("p2phost"))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/preconfirmed", pcw.ServeWS)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.PreconfirmedWSAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("preconfirmed http server exited", "err", err)
		}
	}()

	if err := bat.StartHeight(apollo.BlockNumber(cfg.StartHeight)); err != nil {
		return err
	}
	logger.Infow("apollo sequencer node started",
		"listen_addr", cfg.ListenAddr, "peer_id", p2p.ID().String(), "start_height", cfg.StartHeight)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// http server and libp2p host shut down independently; aggregate
	// whichever of the two fail instead of masking one with the other.
	var errs error
	errs = multierr.Append(errs, httpSrv.Shutdown(ctx))
	errs = multierr.Append(errs, p2p.Close())
	return errs
}

// nopExecutor accepts every transaction with uniform unit weight; a real
// Cairo/VM executor is out of this repository's scope (spec.md names
// it as such), so this entrypoint wires a trivial stand-in that still
// exercises the builder's full provider/bouncer/commitment plumbing.
type nopExecutor struct{}

func (nopExecutor) Execute(ctx context.Context, tx apollo.InternalRpcTransaction, ts *versionedstate.TxState) (builder.ExecutionResult, error) {
	return builder.ExecutionResult{Accepted: true, Weight: 1}, nil
}

func storageStateProviderOf(store storage.Reader, met *metrics.Metrics) batcher.StateProvider {
	return stateProviderFunc(func(height apollo.BlockNumber) *versionedstate.VersionedState {
		reader := storage.NewReplayReader(store, height)
		base := state.New(reader, logging.New("state"))
		return versionedstate.New(base, met, logging.New("versioned_state"))
	})
}

type stateProviderFunc func(apollo.BlockNumber) *versionedstate.VersionedState

func (f stateProviderFunc) NewVersionedState(h apollo.BlockNumber) *versionedstate.VersionedState {
	return f(h)
}
