package main

import (
	"log"
	"time"

	"github.com/spf13/cobra"
)

var (
	// 全局配置
	configPath string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "queuectl",
		Short: "Operate queuekit backends from the command line",
		Long: `queuectl pushes, pops and inspects jobs and keys on the backend
described by a queuekit YAML configuration, and can serve the HTTP facade
or run a consuming worker.`,
		SilenceUsage: true,
	}

	// 全局标志
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "queuekit.yaml", "configuration file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "operation timeout")

	// 添加子命令
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(popCmd())
	rootCmd.AddCommand(peekCmd())
	rootCmd.AddCommand(lenCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(incrCmd())
	rootCmd.AddCommand(consumeCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
