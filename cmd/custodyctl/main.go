package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/congo-pay/custody/internal/account"
	"github.com/congo-pay/custody/internal/custody"
	"github.com/congo-pay/custody/internal/funding"
	"github.com/congo-pay/custody/internal/infra"
	"github.com/congo-pay/custody/internal/ledger"
	"github.com/congo-pay/custody/internal/logging"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "custodyctl",
	Short: "Operator CLI for multi-approver custody wallets",
	Long: `custodyctl talks directly to the custody PostgreSQL database.

It deploys wallets, funds addresses from a card, inspects wallets and
verifies the hash chained journal behind each of them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		}
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (env DATABASE_URL)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (env LOG_LEVEL)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "overall command timeout")
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(migrateCmd, deployCmd, fundCmd, depositCmd, showCmd, verifyCmd, reconcileCmd)
}

// env bundles the services a command operates on.
type env struct {
	pool     *pgxpool.Pool
	book     ledger.Ledger
	custody  *custody.Service
	accounts *account.Service
}

func openEnv(ctx context.Context) (*env, error) {
	pool, err := infra.NewPostgresPool(ctx, viper.GetString("database_url"))
	if err != nil {
		return nil, err
	}
	if err := infra.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger := logging.New(viper.GetString("log_level"), "text")
	book := ledger.NewPostgresLedger(pool)
	return &env{
		pool:     pool,
		book:     book,
		custody:  custody.NewService(book, custody.NewPostgresJournal(pool), nil, logger),
		accounts: account.NewService(book),
	}, nil
}

func (e *env) Close() {
	e.pool.Close()
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
}

// withEnv opens the database for the lifetime of one command.
func withEnv(run func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return run(ctx, e, cmd, args)
	}
}

// ── migrate ──────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(_ context.Context, _ *env, cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	}),
}

// ── deploy ───────────────────────────────────────────────────────────────────

var deployCmd = &cobra.Command{
	Use:   "deploy --approver <addr> [--approver <addr>...] --quorum <n>",
	Short: "Deploy a custody wallet",
	Long: `Deploy creates a wallet with a fixed approver set and quorum.

  custodyctl deploy --approver alice --approver bob --approver carol --quorum 2 \
      --deployer alice --deposit 1000`,
	Args: cobra.NoArgs,
	RunE: withEnv(runDeploy),
}

func init() {
	deployCmd.Flags().StringSlice("approver", nil, "approver address (repeatable)")
	deployCmd.Flags().Int("quorum", 0, "approvals required to execute a transfer")
	deployCmd.Flags().String("deployer", "", "address recorded as deployer and source of the initial deposit")
	deployCmd.Flags().Int64("deposit", 0, "initial deposit taken from the deployer's account")
	_ = deployCmd.MarkFlagRequired("approver")
	_ = deployCmd.MarkFlagRequired("quorum")
}

func runDeploy(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
	rawApprovers, _ := cmd.Flags().GetStringSlice("approver")
	quorum, _ := cmd.Flags().GetInt("quorum")
	rawDeployer, _ := cmd.Flags().GetString("deployer")
	deposit, _ := cmd.Flags().GetInt64("deposit")

	approvers, err := custody.ParseAddresses(rawApprovers)
	if err != nil {
		return err
	}
	var deployer custody.Address
	if rawDeployer != "" {
		if deployer, err = custody.ParseAddress(rawDeployer); err != nil {
			return err
		}
	}
	if deposit > 0 && deployer == "" {
		return errors.New("--deposit requires --deployer")
	}

	snap, err := e.custody.Deploy(ctx, custody.DeployInput{
		Deployer:       deployer,
		Approvers:      approvers,
		Quorum:         quorum,
		InitialDeposit: deposit,
	})
	if snap.ID != "" {
		printWallet(cmd, snap)
	}
	return err
}

// ── fund ─────────────────────────────────────────────────────────────────────

var fundCmd = &cobra.Command{
	Use:   "fund <address>",
	Short: "Credit an address from a card",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnv(runFund),
}

func init() {
	fundCmd.Flags().Int64("amount", 0, "amount in CFA")
	fundCmd.Flags().String("card", "", "card number")
	fundCmd.Flags().String("client-tx-id", "", "idempotency reference; random when empty")
	_ = fundCmd.MarkFlagRequired("amount")
	_ = fundCmd.MarkFlagRequired("card")
}

func runFund(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	amount, _ := cmd.Flags().GetInt64("amount")
	card, _ := cmd.Flags().GetString("card")
	ref, _ := cmd.Flags().GetString("client-tx-id")

	svc, err := funding.NewService(ctx, e.book, e.accounts, nil)
	if err != nil {
		return err
	}
	res, err := svc.CardIn(ctx, funding.CardInInput{Address: args[0], Amount: amount, CardNumber: card, ClientTxID: ref})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "transaction %s %s, balance %d\n", res.TransactionID, res.Status, res.AccountBalance)
	return nil
}

// ── deposit ──────────────────────────────────────────────────────────────────

var depositCmd = &cobra.Command{
	Use:   "deposit <wallet-id> <from-address> <amount>",
	Short: "Move funds from an address into a wallet",
	Args:  cobra.ExactArgs(3),
	RunE:  withEnv(runDeposit),
}

func runDeposit(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	from, err := custody.ParseAddress(args[1])
	if err != nil {
		return err
	}
	var amount int64
	if _, err := fmt.Sscan(args[2], &amount); err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}
	balance, err := e.custody.Deposit(ctx, args[0], from, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wallet %s balance %d\n", args[0], balance)
	return nil
}

// ── show ─────────────────────────────────────────────────────────────────────

var showCmd = &cobra.Command{
	Use:   "show <wallet-id>",
	Short: "Print a wallet and its transfers",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		snap, err := e.custody.Get(ctx, args[0])
		if err != nil {
			return err
		}
		printWallet(cmd, snap)
		return nil
	}),
}

func printWallet(cmd *cobra.Command, snap custody.Snapshot) {
	out := cmd.OutOrStdout()
	approvers := make([]string, 0, len(snap.Approvers))
	for _, a := range snap.Approvers {
		approvers = append(approvers, string(a))
	}
	fmt.Fprintf(out, "wallet     %s\n", snap.ID)
	fmt.Fprintf(out, "approvers  %s (quorum %d)\n", strings.Join(approvers, ", "), snap.Quorum)
	fmt.Fprintf(out, "balance    %d\n", snap.Balance)
	fmt.Fprintf(out, "journal    seq %d %s\n", snap.Head.Seq, snap.Head.Hash)
	if len(snap.Transfers) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAMOUNT\tRECIPIENT\tAPPROVALS\tSENT")
	for _, t := range snap.Transfers {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d/%d\t%t\n", t.ID, t.Amount, t.Recipient, t.Approvals, snap.Quorum, t.Sent)
	}
	_ = w.Flush()
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <wallet-id>",
	Short: "Check a wallet's journal hash chain",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		head, err := e.custody.Verify(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d events, head %s\n", head.Seq+1, head.Hash)
		return nil
	}),
}

// ── reconcile ────────────────────────────────────────────────────────────────

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare every wallet balance with its vault account",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
		if _, err := e.custody.RestoreAll(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
		drifts, err := custody.NewReconciler(e.custody, logging.Discard()).Run(ctx)
		if err != nil {
			return err
		}
		if len(drifts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "all wallets reconcile")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WALLET\tJOURNAL\tVAULT")
		for _, d := range drifts {
			fmt.Fprintf(w, "%s\t%d\t%d\n", d.WalletID, d.WalletBalance, d.VaultBalance)
		}
		_ = w.Flush()
		return fmt.Errorf("%d wallet(s) drifted", len(drifts))
	}),
}
