package main

import (
	"flag"
	"os"

	"lsmkv"
	"lsmkv/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine's YAML config file")
	flag.Parse()

	conf, err := lsmkv.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	engine, err := lsmkv.Open(conf)
	if err != nil {
		logger.Error("failed to open engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	logger.Info("lsmkv engine ready", "dir", conf.Dir)
}
