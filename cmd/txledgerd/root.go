package main

import (
	"github.com/spf13/cobra"

	"github.com/pushchain/txledger/txledger/constant"
)

const flagHome = "home"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "txledgerd",
		Short:         "Custodial EVM transaction ledger daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(flagHome, constant.DefaultNodeHome, "Node home directory")

	InitRootCmd(rootCmd) // add subcommands like `start` and `version`

	return rootCmd
}
