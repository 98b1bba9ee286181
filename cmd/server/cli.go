package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"line-smart-go/pkg/log"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newAskCmd 让一条消息走完整的对话编排，便于本地调试。
func newAskCmd(configPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "以指定用户身份发送一条消息并打印回复",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return errors.New("message must not be empty")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			now := time.Now()
			reply := a.chat.ProcessMessage(cmd.Context(), userID, text, now)
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", a.chat.SessionKey(userID, now), reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli-user", "LINE user id")
	return cmd
}

// newStatsCmd 打印用户的会话统计。
func newStatsCmd(configPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "打印用户的会话数与消息数",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			stats, err := a.chat.Stats(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to aggregate stats: %w", err)
			}
			out, err := json.MarshalIndent(map[string]interface{}{
				"userId":  userID,
				"backend": a.store.Backend(),
				"stats":   stats,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "LINE user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
