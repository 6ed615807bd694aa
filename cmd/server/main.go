package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"stego_chat/internal/config"
	"stego_chat/internal/daemon"

	"go.uber.org/fx"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	initConfig := flag.Bool("init", false, "write a default config with fresh secrets and exit")
	flag.Parse()

	if *initConfig {
		if err := writeDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(daemon.Module(cfg)).Run()
}

func writeDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	master := make([]byte, 32)
	secret := make([]byte, 24)
	if _, err := rand.Read(master); err != nil {
		return err
	}
	if _, err := rand.Read(secret); err != nil {
		return err
	}

	cfg := config.Default()
	cfg.Keys.MasterKey = base64.StdEncoding.EncodeToString(master)
	cfg.Codec.Secret = hex.EncodeToString(secret)
	return config.Save(path, cfg)
}
