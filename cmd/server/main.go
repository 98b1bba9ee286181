// Package main 是应用程序的入口点。
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "line-smart",
		Short: "LINE 智能助手：带对话记忆、意图路由与工具调用的 LINE bot",
		// 不带子命令时启动 webhook 服务
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")

	root.AddCommand(
		newServeCmd(&configPath),
		newAskCmd(&configPath),
		newStatsCmd(&configPath),
	)
	return root
}
