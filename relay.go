package main

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cli "github.com/neboloop/relay/cmd/relay"
	"github.com/neboloop/relay/internal/config"
)

//go:embed etc/relay.yaml
var embeddedConfig []byte

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	c, err := config.LoadFromBytes(embeddedConfig)
	if err != nil {
		fmt.Printf("Failed to load embedded config: %v\n", err)
		os.Exit(1)
	}

	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		c, err = config.LoadFile(path)
		if err != nil {
			fmt.Printf("Failed to load config %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	if err := cli.SetupRootCmd(&c).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
