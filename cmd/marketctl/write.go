package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderScope/internal/chains"
	"orderScope/internal/config"
	"orderScope/internal/workflow"
)

// outcome is the record written after a workflow finishes or fails.
type outcome struct {
	Run         string `json:"run"`
	Kind        string `json:"kind"`
	State       string `json:"state"`
	Transaction string `json:"transaction,omitempty"`
	Block       uint64 `json:"block,omitempty"`
	Explorer    string `json:"explorer,omitempty"`
	Error       string `json:"error,omitempty"`
}

func addWriteFlags(cmd *cobra.Command) {
	addCommonFlags(cmd.Flags())
	cmd.Flags().String("market", "", "marketplace address")
	cmd.Flags().Bool("yes", false, "send the transactions; without it only the plan is printed")
	_ = cmd.MarkFlagRequired("market")
}

func buyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy from an order, fully or partially",
		RunE:  runBuy,
	}
	addWriteFlags(cmd)
	cmd.Flags().String("order", "", "order id")
	cmd.Flags().String("amount", "", "market token amount; the full remaining amount selects buyFullOrder")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func runBuy(cmd *cobra.Command, _ []string) error {
	market, orderID, err := marketAndOrder(cmd)
	if err != nil {
		return err
	}
	amount, _ := cmd.Flags().GetString("amount")

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	owner, err := s.owner(cmd)
	if err != nil {
		return err
	}
	plan, err := s.reg.Planner.PlanBuy(s.ctx, owner, market, orderID, amount)
	if err != nil {
		return err
	}
	if err := s.out.Put(plan); err != nil {
		return err
	}
	if !plan.Funded() {
		return fmt.Errorf("insufficient balance for %d token(s)", len(plan.Shortfalls))
	}
	return s.execute(cmd, plan.Plan)
}

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "List market tokens for sale at a total stable price",
		RunE:  runCreate,
	}
	addWriteFlags(cmd)
	cmd.Flags().String("amount", "", "market token amount")
	cmd.Flags().String("price", "", "total price in the stable token")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func runCreate(cmd *cobra.Command, _ []string) error {
	rawMarket, _ := cmd.Flags().GetString("market")
	market, err := config.ParseAddress(rawMarket)
	if err != nil {
		return err
	}
	amount, _ := cmd.Flags().GetString("amount")
	price, _ := cmd.Flags().GetString("price")

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	owner, err := s.owner(cmd)
	if err != nil {
		return err
	}
	plan, err := s.reg.Planner.PlanCreate(s.ctx, owner, market, amount, price)
	if err != nil {
		return err
	}
	if err := s.out.Put(plan); err != nil {
		return err
	}
	if !plan.Funded() {
		return fmt.Errorf("insufficient market token balance")
	}
	return s.execute(cmd, plan.Plan)
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel one of your orders",
		RunE:  runCancel,
	}
	addWriteFlags(cmd)
	cmd.Flags().String("order", "", "order id")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func runCancel(cmd *cobra.Command, _ []string) error {
	market, orderID, err := marketAndOrder(cmd)
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
	plan, err := s.reg.Planner.PlanCancel(s.ctx, owner, market, orderID)
	if err != nil {
		return err
	}
	if err := s.out.Put(plan); err != nil {
		return err
	}
	return s.execute(cmd, plan.Plan)
}

// execute runs plan through a workflow controller when --yes is set.
func (s *session) execute(cmd *cobra.Command, plan workflow.Plan) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		s.logger.Info("dry run, pass --yes to send", zap.Stringer("kind", plan.Kind))
		return nil
	}
	ctrl, err := s.reg.Workflow(plan)
	if err != nil {
		return err
	}

	receipt, runErr := ctrl.Run(s.ctx)
	result := outcome{
		Run:   ctrl.ID(),
		Kind:  plan.Kind.String(),
		State: ctrl.State().String(),
	}
	if receipt != nil {
		result.Transaction = receipt.TxHash.Hex()
		result.Explorer = chains.ExplorerTxLink(s.cfg.ChainID, receipt.TxHash)
		if receipt.BlockNumber != nil {
			result.Block = receipt.BlockNumber.Uint64()
		}
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	if err := s.out.Put(result); err != nil {
		return err
	}
	return runErr
}

func marketAndOrder(cmd *cobra.Command) (common.Address, *big.Int, error) {
	rawMarket, _ := cmd.Flags().GetString("market")
	market, err := config.ParseAddress(rawMarket)
	if err != nil {
		return common.Address{}, nil, err
	}
	rawOrder, _ := cmd.Flags().GetString("order")
	orderID, err := config.ParseOrderID(rawOrder)
	if err != nil {
		return common.Address{}, nil, err
	}
	return market, orderID, nil
}
