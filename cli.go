package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/p2pclouds/powledger/consensus"
	"github.com/p2pclouds/powledger/crypto"
	"github.com/p2pclouds/powledger/debug"
	"github.com/p2pclouds/powledger/protocol/params"
)

// newRootCmd wires every subcommand to one viper instance. Flags take
// precedence over POWLEDGER_* variables, which take precedence over the
// config file.
func newRootCmd() *cobra.Command {
	v := newViper()
	var configPath string

	root := &cobra.Command{
		Use:           "powledger",
		Short:         "Single-node proof-of-work ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v, configPath)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ./powledger.yaml)")
	pf.String("network", "mainnet", "network: mainnet, testnet or regtest")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")
	mustBind(v, "network", pf.Lookup("network"))
	mustBind(v, "log.level", pf.Lookup("log-level"))
	mustBind(v, "log.format", pf.Lookup("log-format"))

	root.AddCommand(
		newStartCmd(v),
		newGenesisCmd(v),
		newAddressCmd(v),
		newVersionCmd(),
	)
	return root
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func newStartCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("api", "127.0.0.1:8545", "API listen address, empty to disable")
	f.String("api-cookie", "", "write the API token to this file")
	f.Bool("mine", false, "start mining immediately")
	f.Int("threads", 1, "mining threads")
	f.String("reward-address", "", "address credited by mined blocks")
	f.String("reward-pubkey", "", "hex public key to derive the reward address from")
	f.Uint64("fee", 0, "amount withheld from each block reward")
	mustBind(v, "api.listen", f.Lookup("api"))
	mustBind(v, "api.cookie", f.Lookup("api-cookie"))
	mustBind(v, "mining.enabled", f.Lookup("mine"))
	mustBind(v, "mining.threads", f.Lookup("threads"))
	mustBind(v, "mining.reward_address", f.Lookup("reward-address"))
	mustBind(v, "mining.reward_pubkey", f.Lookup("reward-pubkey"))
	mustBind(v, "mining.fee", f.Lookup("fee"))
	return cmd
}

func runDaemon(ctx context.Context, cfg Config) error {
	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()
	debug.SetLogger(log)

	d, err := NewDaemon(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		d.Stop()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down", zap.String("reason", context.Cause(ctx).Error()))
	return d.Stop()
}

func newGenesisCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "genesis",
		Short: "Print the genesis block of the selected network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.ByName(v.GetString("network"))
			if err != nil {
				return err
			}
			g := consensus.GenesisBlock(p)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "network:     %s\n", p.Name)
			fmt.Fprintf(out, "hash:        %s\n", g.BlockHash())
			fmt.Fprintf(out, "merkle root: %s\n", g.Header.MerkleRoot)
			fmt.Fprintf(out, "timestamp:   %d\n", g.Header.Timestamp)
			fmt.Fprintf(out, "bits:        %08x\n", g.Header.Bits)
			return nil
		},
	}
}

func newAddressCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "address <pubkey-hex>",
		Short: "Derive a reward address from a public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.ByName(v.GetString("network"))
			if err != nil {
				return err
			}
			addr, err := crypto.AddressFromPubKeyHex(args[0], p.AddressVersion)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "powledger %s\n", Version)
		},
	}
}
