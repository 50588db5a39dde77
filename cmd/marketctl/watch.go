package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderScope/internal/cache"
	"orderScope/internal/config"
	"orderScope/internal/metrics"
	"orderScope/internal/model"
	"orderScope/internal/orders"
)

// snapshot is one watch tick's view of a market or of the catalog.
type snapshot struct {
	At      time.Time       `json:"at"`
	Market  *common.Address `json:"market,omitempty"`
	Block   uint64          `json:"block,omitempty"`
	Orders  int             `json:"orders,omitempty"`
	Active  int             `json:"active,omitempty"`
	Best    *model.Order    `json:"best,omitempty"`
	Markets []model.Market  `json:"markets,omitempty"`
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the catalog or one market and emit a snapshot per tick",
		RunE:  runWatch,
	}
	addCommonFlags(cmd.Flags())
	cmd.Flags().String("market", "", "marketplace address (default: whole catalog)")
	cmd.Flags().Duration("interval", 15*time.Second, "poll interval")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	var market *common.Address
	if raw, _ := cmd.Flags().GetString("market"); raw != "" {
		addr, err := config.ParseAddress(raw)
		if err != nil {
			return err
		}
		market = &addr
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.cfg.MetricsAddr != "" {
		server := &http.Server{Addr: s.cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()
		s.logger.Info("metrics listening", zap.String("addr", s.cfg.MetricsAddr))
	}

	w := &watcher{session: s, market: market, seq: cache.NewSequencer()}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.tick()
	for {
		select {
		case <-s.ctx.Done():
			w.wg.Wait()
			s.logger.Info("watch stopped")
			return nil
		case <-ticker.C:
			w.tick()
		}
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

type watcher struct {
	*session
	market *common.Address
	seq    *cache.Sequencer
	wg     sync.WaitGroup
}

func (w *watcher) key() string {
	if w.market != nil {
		return "watch:" + w.market.Hex()
	}
	return "watch:catalog"
}

// tick starts a fetch without waiting for the previous one. A slow fetch
// that finishes after a newer one has started is discarded.
func (w *watcher) tick() {
	ticket := w.seq.Begin(w.key())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		snap, err := w.fetch()
		if err != nil {
			w.logger.Warn("watch fetch failed", zap.Error(err))
			return
		}
		if !w.seq.Current(ticket) {
			w.logger.Debug("stale watch result discarded")
			return
		}
		if err := w.out.Put(snap); err != nil {
			w.logger.Warn("write snapshot", zap.Error(err))
		}
	}()
}

func (w *watcher) fetch() (snapshot, error) {
	now := time.Now().UTC()
	if w.market == nil {
		cat := w.reg.Catalog.Refresh(w.ctx)
		if cat.Err != nil {
			return snapshot{}, cat.Err
		}
		return snapshot{At: now, Markets: cat.Markets}, nil
	}

	w.reg.Orders.Invalidate(w.ctx, *w.market)
	book, err := w.reg.Orders.MarketOrders(w.ctx, *w.market)
	if err != nil {
		return snapshot{}, err
	}
	snap := snapshot{
		At:     now,
		Market: w.market,
		Block:  book.Block,
		Orders: len(book.Orders),
		Active: len(orders.ActiveOnly(book.Orders)),
	}
	if best, ok := orders.BestPremium(book.Orders); ok {
		snap.Best = &best
	}
	return snap, nil
}
