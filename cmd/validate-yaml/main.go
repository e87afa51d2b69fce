package main

import (
	"fmt"
	"os"

	"github.com/blockedby/tg-forwarder/internal/config"
)

// Runs the real config parser against candidate files, so validation
// catches semantic problems (missing keywords, bad ids), not just syntax.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: validate-yaml <config.yaml> [...]")
		os.Exit(0)
	}

	failed := false
	for _, path := range os.Args[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", path, err)
			failed = true
			continue
		}
		cfg, err := config.Parse(data)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("OK   %s (%d sources, destination %d)\n", path, len(cfg.Sources), cfg.DestinationChatID)
	}

	if failed {
		os.Exit(1)
	}
}
