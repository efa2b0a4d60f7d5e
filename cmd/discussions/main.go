package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.sr.ht/~taiite/discussions"
)

func main() {
	var configPath string
	var envPath string
	var nickname string
	var debug bool
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
	flag.StringVar(&envPath, "env", "", "path to a dotenv file holding secrets")
	flag.StringVar(&nickname, "nickname", "", "nick name/display name to use")
	flag.BoolVar(&debug, "debug", false, "log raw protocol data")
	flag.Parse()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load the environment file at %q: %s\n", envPath, err)
			os.Exit(1)
			return
		}
	}

	if configPath == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			panic(err)
		}
		configPath = path.Join(configDir, "discussions", "discussions.scfg")
	}

	loadConfig := func() (discussions.Config, error) {
		cfg, err := discussions.LoadConfigFile(configPath)
		if err != nil {
			return cfg, err
		}
		cfg.Debug = cfg.Debug || debug
		if nickname != "" {
			cfg.Nick = nickname
		}
		return cfg, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load the required configuration file at %q: %s\n", configPath, err)
		os.Exit(1)
		return
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("failed to serve metrics", "addr", cfg.Metrics, "err", err)
			}
		}()
	}

	app := discussions.NewApp(logger, reg)
	prompt := discussions.NewPrompt(app, os.Stdout)
	app.Attach(prompt.PrintEvent)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	params := make(chan discussions.Params, 1)
	params <- cfg.Params()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				cfg, err := loadConfig()
				if err != nil {
					logger.Error("failed to reload the configuration", "path", configPath, "err", err)
					continue
				}
				logger.Info("configuration reloaded", "path", configPath)
				params <- cfg.Params()
			case syscall.SIGUSR1:
				app.Reset()
			}
		}
	}()

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			err := prompt.HandleInput(sc.Text())
			if errors.Is(err, discussions.ErrQuit) {
				// let the server close the connection after QUIT
				if s := app.Session(); s != nil {
					select {
					case <-s.Done():
					case <-time.After(2 * time.Second):
					}
				}
				break
			} else if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
		cancel()
	}()

	app.Run(ctx, params)
}
