// Command casield runs the audio sample worker as a long-lived process.
package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"casiel/internal/config"
	"casiel/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	envPath := flag.String("env-file", "", "Dotenv file loaded before configuration")
	logLevel := flag.String("log-level", "", "Override logging.level")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("load env file: %v", err)
	}
	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("casield: %v", err)
	}
}
