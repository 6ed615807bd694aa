package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"stego_chat/internal/service/app"
	"stego_chat/internal/utils/log"

	"go.uber.org/zap"
)

func main() {
	serverURL := flag.String("server", "http://localhost:9090", "chat server base URL")
	to := flag.String("to", "", "user to chat with on start")
	download := flag.String("download", "downloads", "directory for received files")
	logPath := flag.String("log", filepath.Join(os.TempDir(), "stego_chat_client.log"), "log file")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("usage: client [flags] <username>")
	}
	username := flag.Arg(0)

	// the terminal belongs to the UI
	if _, err := log.Init(log.Config{Level: "info", Path: *logPath, Quiet: true}); err != nil {
		log.Fatal("init logger failed", zap.Error(err))
	}
	defer log.Sync()

	api, err := app.NewAPI(*serverURL)
	if err != nil {
		log.Fatal("bad server url", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := app.NewApp(api, username, *download)
	if err := c.Run(ctx, *to); err != nil {
		log.Error("client exited", zap.Error(err))
	}
}
