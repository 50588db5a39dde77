package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderScope/internal/config"
	"orderScope/internal/model"
	"orderScope/internal/orders"
)

func marketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markets",
		Short: "List deployed markets with TVL",
		RunE:  runMarkets,
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func runMarkets(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cat := s.reg.Catalog.Fetch(s.ctx)
	records := make([]interface{}, 0, len(cat.Markets))
	for _, m := range cat.Markets {
		records = append(records, m)
	}
	if err := s.out.Put(records...); err != nil {
		return err
	}
	s.logger.Info("markets listed", zap.Int("markets", len(cat.Markets)))
	return cat.Err
}

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List one market's order book",
		RunE:  runOrders,
	}
	addCommonFlags(cmd.Flags())
	cmd.Flags().String("market", "", "marketplace address")
	cmd.Flags().String("sort", string(orders.SortPremiumPerUnit), "sort key (amount, worth, premium, premium-percent, premium-per-unit)")
	cmd.Flags().String("dir", string(orders.Ascending), "sort direction (asc, desc, or empty for fetch order)")
	cmd.Flags().Bool("active", false, "only orders flagged active on chain")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func runOrders(cmd *cobra.Command, _ []string) error {
	rawMarket, _ := cmd.Flags().GetString("market")
	market, err := config.ParseAddress(rawMarket)
	if err != nil {
		return err
	}
	key, dir, err := sortFlags(cmd)
	if err != nil {
		return err
	}
	activeOnly, _ := cmd.Flags().GetBool("active")

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	book, err := s.reg.Orders.MarketOrders(s.ctx, market)
	if err != nil {
		return err
	}
	list := book.Orders
	if activeOnly {
		list = orders.ActiveOnly(list)
	}
	list = orders.Sort(list, key, dir)

	if err := s.out.Put(orderRecords(list)...); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("market", market.Hex()),
		zap.Uint64("block", book.Block),
		zap.Uint64("count", book.Count),
		zap.Int("orders", len(list)),
		zap.Int("failed_chunks", book.FailedChunks),
	}
	if best, ok := orders.BestPremium(book.Orders); ok {
		fields = append(fields, zap.String("best_order", best.OrderID.String()), zap.String("best_premium_per_unit", best.PremiumPerUnitFormatted))
	}
	s.logger.Info("order book read", fields...)
	return nil
}

func myOrdersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "my-orders",
		Short: "List one seller's orders across every market",
		RunE:  runMyOrders,
	}
	addCommonFlags(cmd.Flags())
	cmd.Flags().String("owner", "", "seller address (default: signer)")
	cmd.Flags().String("sort", "", "sort key")
	cmd.Flags().String("dir", "", "sort direction")
	return cmd
}

func runMyOrders(cmd *cobra.Command, _ []string) error {
	key, dir, err := sortFlags(cmd)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	owner, err := s.owner(cmd)
	if err != nil {
		return err
	}

	result := s.reg.Orders.OwnerOrders(s.ctx, owner)
	if result.CatalogErr != nil {
		s.logger.Warn("market catalog unavailable", zap.Error(result.CatalogErr))
	}
	for market, err := range result.Errors {
		s.logger.Warn("market skipped", zap.String("market", market.Hex()), zap.Error(err))
	}

	list := result.Orders
	if key != "" {
		list = orders.Sort(list, key, dir)
	}
	if err := s.out.Put(orderRecords(list)...); err != nil {
		return err
	}
	s.logger.Info("owner orders read",
		zap.String("owner", owner.Hex()),
		zap.Int("orders", len(list)),
		zap.Int("failed_markets", len(result.Errors)),
	)
	return nil
}

func balancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show wallet balances of the stable token and every market token",
		RunE:  runBalances,
	}
	addCommonFlags(cmd.Flags())
	cmd.Flags().String("owner", "", "wallet address (default: signer)")
	return cmd
}

func runBalances(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	owner, err := s.owner(cmd)
	if err != nil {
		return err
	}

	tokens := []common.Address{s.cfg.StableToken}
	for _, m := range s.reg.Catalog.Fetch(s.ctx).Markets {
		tokens = append(tokens, m.Token, m.UnderlyingToken)
	}

	wallet, err := s.reg.Balances.Wallet(s.ctx, owner, tokens)
	if err != nil {
		return err
	}
	records := make([]interface{}, 0, len(wallet))
	for _, w := range wallet {
		records = append(records, w)
	}
	return s.out.Put(records...)
}

func sortFlags(cmd *cobra.Command) (orders.SortKey, orders.Direction, error) {
	rawKey, _ := cmd.Flags().GetString("sort")
	rawDir, _ := cmd.Flags().GetString("dir")
	if rawKey == "" {
		return "", orders.DirectionNone, nil
	}
	key, err := orders.ParseSortKey(rawKey)
	if err != nil {
		return "", "", err
	}
	dir, err := orders.ParseDirection(rawDir)
	if err != nil {
		return "", "", fmt.Errorf("--dir: %w", err)
	}
	return key, dir, nil
}

func orderRecords(list []model.Order) []interface{} {
	records := make([]interface{}, 0, len(list))
	for _, o := range list {
		records = append(records, o)
	}
	return records
}
