package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-forwarder/internal/config"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: tg-topics <chat_id>")
		fmt.Println("example: tg-topics -1001234567890")
		fmt.Println("\nchat ids come from `forwarder list-chats`")
		os.Exit(1)
	}

	chatID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil {
		fmt.Printf("error: invalid chat id: %v\n", err)
		os.Exit(1)
	}

	_ = godotenv.Load()
	settings := config.LoadSettings()
	_ = logger.Init(settings.LogLevel, settings.LogFile)

	client, err := telegram.NewClientFromSettings(settings)
	if err != nil {
		fmt.Printf("error creating client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()
	fmt.Printf("fetching topics for %d...\n\n", chatID)

	topics, err := client.ListForumTopics(ctx, chatID, 100)
	if err != nil {
		fmt.Printf("error fetching topics: %v\n", err)
		os.Exit(1)
	}
	if len(topics) == 0 {
		fmt.Println("no topics found (is this a forum-type supergroup?)")
		os.Exit(0)
	}

	fmt.Printf("%-8s | %-40s\n", "id", "title")
	fmt.Println(strings.Repeat("-", 52))
	for _, topic := range topics {
		title := topic.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		fmt.Printf("%-8d | %-40s\n", topic.ID, title)
	}

	fmt.Println("\nto scan a specific topic, set topic_id on the source entry:")
	fmt.Println("  - chat_id:", chatID)
	fmt.Println("    topic_id: <id>")
}
