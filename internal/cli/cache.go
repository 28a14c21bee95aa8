package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/voicebatch/internal/infra/redis"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the shared audio cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached payload from redis",
	Run:   runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheClear(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if !cfg.UsesRedis() {
		slog.Error("cache clear requires redis.url")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	n, err := redisclient.NewAudioCache(client).Clear(context.Background())
	if err != nil {
		slog.Error("Failed to clear cache", "removed", n, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d cached payloads\n", n)
}
