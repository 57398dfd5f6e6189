// Chain-health watchdog.
// Periodically exercises both layers of the rollup with minimal-value
// transactions, reconciles bridge traffic and exposes the results over
// Prometheus, a JSON API and a WebSocket stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/watchdog/internal/config"
	"github.com/gateway-fm/watchdog/internal/flows"
	"github.com/gateway-fm/watchdog/internal/history"
	"github.com/gateway-fm/watchdog/internal/metrics"
	"github.com/gateway-fm/watchdog/internal/reconcile"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/transport"
	"github.com/gateway-fm/watchdog/internal/wallet"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

const (
	receiptPoll = 2 * time.Second
	reconPoll   = 5 * time.Second
	// Required gas per pubdata byte for type-0x71 transactions.
	gasPerPubdata = 800
)

// l2Node combines the generic Ethereum surface with the rollup-specific
// zks_ namespace; both wrap the same JSON-RPC connection.
type l2Node struct {
	*rpc.EthClient
	*rpc.L2Client
}

// livenessFlow ticks the liveness counter after every attempt so a stuck
// scheduler is visible even when no run seals.
type livenessFlow struct {
	watchdog.Flow
	prom *metrics.PrometheusMetrics
}

func (f livenessFlow) RunOnce(ctx context.Context) (watchdog.Status, error) {
	status, err := f.Flow.RunOnce(ctx)
	f.prom.Tick()
	return status, err
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("watchdog exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.EnabledFlows() == 0 {
		return errors.New("no flows enabled, nothing to monitor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l1 := rpc.NewEthClient(rpc.NewHTTPClient(rpc.DefaultClientConfig(cfg.L1RPCURL)))
	l2Caller := rpc.NewHTTPClient(rpc.DefaultClientConfig(cfg.L2RPCURL))
	l2 := l2Node{rpc.NewEthClient(l2Caller), rpc.NewL2Client(l2Caller)}

	bootCtx, bootCancel := context.WithTimeout(ctx, time.Minute)
	defer bootCancel()

	l1ChainID, err := l1.ChainID(bootCtx)
	if err != nil {
		return fmt.Errorf("settlement chain id: %w", err)
	}
	l2ChainID, err := l2.ChainID(bootCtx)
	if err != nil {
		return fmt.Errorf("rollup chain id: %w", err)
	}
	bridgehub, err := l2.BridgehubContract(bootCtx)
	if err != nil {
		return fmt.Errorf("bridgehub discovery: %w", err)
	}
	bridges, err := l2.GetBridgeContracts(bootCtx)
	if err != nil {
		return fmt.Errorf("bridge discovery: %w", err)
	}

	w, err := wallet.New(cfg.WalletKey)
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}

	logger.Info("watchdog starting",
		"wallet", w.Address.Hex(),
		"l1_chain_id", l1ChainID.String(),
		"l2_chain_id", l2ChainID.String(),
		"bridgehub", bridgehub.Hex(),
		"l1_shared_bridge", bridges.L1SharedBridge.Hex(),
		"flows", cfg.EnabledFlows(),
	)

	registry := prometheus.NewRegistry()
	prom := metrics.NewPrometheusMetrics(registry)

	store, err := history.NewStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer store.Close()

	board := metrics.NewBoard()
	ws := transport.NewWebSocketServer(board, logger)
	ws.Start()
	defer ws.Stop()

	sealHooks := []metrics.SealFunc{board.Observe, ws.Notify, store.Observer(logger)}
	recorder := func(flow string) *metrics.Recorder {
		return metrics.NewRecorder(flow, prom, sealHooks...)
	}

	flowCfg := flows.Config{
		StepTimeout:   cfg.StepTimeout,
		ReceiptPoll:   receiptPoll,
		GasCeiling:    cfg.GasCeilingWei(),
		GasPerPubdata: big.NewInt(gasPerPubdata),
		TriggerWindow: cfg.DepositTriggerWin,
		Paymaster:     cfg.PaymasterAddress(),
		Logger:        logger,
	}

	depRecon := reconcile.NewDepositReconciler(l1, l2, reconcile.DepositReconcilerConfig{
		Bridgehub:  bridgehub,
		L2ChainID:  l2ChainID,
		BlockRange: cfg.LogBlockRange,
		L2Timeout:  cfg.L2ExecTimeout,
		Poll:       reconPoll,
		Logger:     logger,
	})
	wdRecon := reconcile.NewWithdrawalReconciler(l2, reconcile.WithdrawalReconcilerConfig{
		BlockRange: cfg.LogBlockRange,
		Logger:     logger,
	})

	// One mutex per chain: nonce sequences are independent across layers
	// but every flow on one layer shares the wallet.
	var l1Mutex, l2Mutex wallet.Mutex
	l1Sender := &flows.Sender{Wallet: w, Mutex: &l1Mutex, Chain: l1, ChainID: l1ChainID}
	l2Sender := &flows.Sender{Wallet: w, Mutex: &l2Mutex, Chain: l2, ChainID: l2ChainID}

	var active []watchdog.Flow
	if cfg.FlowTransfer {
		active = append(active, flows.NewTransferFlow(l2Sender, recorder("transfer"), flowCfg))
	}
	if cfg.FlowDeposit {
		active = append(active, flows.NewDepositFlow(l1Sender, l1, l2, depRecon, recorder("deposit"), bridgehub, l2ChainID, flowCfg))
	}
	if cfg.FlowDepositUser {
		rec := recorder("deposit_user")
		dep := flows.NewDepositFlow(l1Sender, l1, l2, depRecon, rec, bridgehub, l2ChainID, flowCfg)
		active = append(active, flows.NewDepositUserFlow(depRecon, dep, rec, flowCfg))
	}
	if cfg.FlowWithdrawal {
		active = append(active, flows.NewWithdrawalFlow(l2Sender, recorder("withdrawal"), flowCfg))
	}
	if cfg.FlowWithdrawFinalize {
		active = append(active, flows.NewWithdrawFinalizeFlow(wdRecon, l1, recorder("withdraw_finalize"), w.Address, bridges.L1SharedBridge, l2ChainID, flowCfg))
	}

	loopCfg := watchdog.LoopConfig{
		Interval:      cfg.FlowInterval,
		RetryLimit:    cfg.RetryLimit,
		RetryInterval: cfg.RetryInterval,
		Logger:        logger,
	}

	var wg sync.WaitGroup
	for _, flow := range active {
		wg.Add(1)
		go func(flow watchdog.Flow) {
			defer wg.Done()
			err := watchdog.Loop(ctx, livenessFlow{flow, prom}, loopCfg)
			if err != nil && ctx.Err() == nil {
				// A logic error in one flow means the process state can
				// no longer be trusted.
				logger.Error("flow loop failed, shutting down", "flow", flow.Name(), "error", err)
				cancel()
			}
		}(flow)
	}

	server := transport.NewServer(store, ws, registry, logger)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		logger.Error("HTTP server failed", "error", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}

	wg.Wait()
	logger.Info("watchdog stopped")
	return nil
}
