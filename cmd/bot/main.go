package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"linksave/internal/bot"
	"linksave/internal/config"
	"linksave/internal/logger"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}

	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		logger.L().Error("command failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "linksave",
		Short: "Telegram bot that turns social media links into media messages",
		Long: `linksave resolves links to posts on X/Twitter, TikTok, Instagram, Bluesky
and YouTube Shorts, sends their media back to the chat and caches deliveries.
Links no provider understands go through yt-dlp.

Configuration comes from the environment (or a .env file):
  BOT_TOKEN, ALLOWED_CHATS, ADMIN_IDS, PROXY, MAX_DOWNLOAD_MB, MAX_DURATION_SEC,
  CACHE_DIR, CACHE_DSN, TEMP_DIR, YTDLP_PATH, FFMPEG_PATH, ...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
	root.AddCommand(resolveCmd(), cacheCmd())
	return root
}

func runBot(cmd *cobra.Command, _ []string) error {
	log := logger.L()
	cfg := config.Load(log)
	ctx := cmd.Context()

	a, err := build(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error("failed to create bot", zap.Error(err))
		return err
	}
	log.Info("bot authorized", zap.String("username", api.Self.UserName))

	sender := bot.NewSender(api, log)
	b := bot.New(api, cfg, sender, a.manager(sender), log)

	if err := a.cleanup(ctx); err != nil {
		log.Warn("startup cleanup failed", zap.Error(err))
	}
	go a.cleanupLoop(ctx)

	b.Run(ctx)
	return nil
}
