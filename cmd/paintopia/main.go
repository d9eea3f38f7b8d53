// Package main provides a CLI client for talking to the paintopia backend.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/ChenSRFurina/Paintopia/internal/chat"
	"github.com/ChenSRFurina/Paintopia/internal/config"
	"github.com/ChenSRFurina/Paintopia/internal/doodle"
	"github.com/ChenSRFurina/Paintopia/internal/recognition"
	"github.com/ChenSRFurina/Paintopia/internal/storybook"
)

type observerLogger struct{}

func (observerLogger) OnMessage(text string)    { log.Printf("WS message: %s", text) }
func (observerLogger) OnConnected()             { log.Printf("WS connected") }
func (observerLogger) OnDisconnected(err error) { log.Printf("WS disconnected: %v", err) }
func (observerLogger) OnReconnected()           { log.Printf("WS reconnected") }

func main() {
	server := flag.String("server", "", "backend base URL (overrides BASE_URL)")
	wsAddr := flag.String("ws", "", "recognition WebSocket URL (overrides WS_URL)")
	envFile := flag.String("env", "", "optional .env file to load")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			log.Fatalf("Failed to load env file: %v", err)
		}
	}
	cfg := config.Load()
	if *server != "" {
		cfg.BaseURL = *server
	}
	if *wsAddr != "" {
		cfg.WSURL = *wsAddr
	}

	ctx := context.Background()

	chatClient := chat.NewClient(cfg.BaseURL)
	storyClient := storybook.NewClient(cfg.BaseURL)
	doodleClient := doodle.NewClient(cfg.BaseURL)

	wsOpts := recognition.DefaultOptions()
	wsOpts.ReconnectInitial = cfg.ReconnectInitial
	wsOpts.ReconnectMax = cfg.ReconnectMax
	wsOpts.ReconnectAttempts = cfg.ReconnectAttempts
	wsClient := recognition.NewClient(cfg.WSURL, wsOpts)
	wsClient.SetObserver(observerLogger{})
	defer wsClient.Disconnect()

	chatClient.OnObserveCanvas(func(sessionID string) {
		fmt.Printf("\n[server asked to see the canvas, session %s]\n", sessionID)
	})

	fmt.Printf("Connecting to %s...\n", cfg.BaseURL)
	if err := chatClient.Ping(ctx); err != nil {
		log.Fatalf("Backend not reachable: %v", err)
	}

	session, err := chatClient.CreateSession(ctx)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	fmt.Printf("Session established: %s\n", session.ID)
	fmt.Println("\nType a message and press Enter to chat.")
	fmt.Println("Commands: /image <file>  /observe <file>  /story <file>  /ws <file>  /history  /health  /quit")
	fmt.Println()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		wsClient.Disconnect()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" {
			fmt.Println("Bye!")
			return
		}

		cmd, arg, _ := strings.Cut(input, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "/image":
			runImage(ctx, chatClient, session.ID, arg)
		case "/observe":
			runObserve(ctx, chatClient, session.ID, arg)
		case "/story":
			runStory(ctx, storyClient, arg)
		case "/ws":
			runRecognize(ctx, wsClient, arg)
		case "/history":
			runHistory(ctx, chatClient, session.ID)
		case "/health":
			if err := doodleClient.Health(ctx); err != nil {
				log.Printf("Health check failed: %v", err)
			} else {
				fmt.Println("Backend healthy")
			}
		default:
			resp, err := chatClient.SendText(ctx, session.ID, input)
			if err != nil {
				log.Printf("Send error: %v", err)
				continue
			}
			fmt.Printf("AI: %s\n", resp.Response)
		}
	}
}

func readImage(path string) ([]byte, bool) {
	if path == "" {
		fmt.Println("Usage: /<command> <image file>")
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Failed to read image: %v", err)
		return nil, false
	}
	return data, true
}

func runImage(ctx context.Context, c *chat.Client, sessionID, path string) {
	image, ok := readImage(path)
	if !ok {
		return
	}
	resp, err := c.AnalyzeImage(ctx, sessionID, image)
	if err != nil {
		log.Printf("Analyze error: %v", err)
		return
	}
	fmt.Printf("AI: %s\n", resp.Response)
	if resp.Analysis != "" {
		fmt.Printf("Analysis: %s\n", resp.Analysis)
	}
}

func runObserve(ctx context.Context, c *chat.Client, sessionID, path string) {
	image, ok := readImage(path)
	if !ok {
		return
	}
	resp, err := c.ObserveAndReply(ctx, sessionID, image)
	if err != nil {
		log.Printf("Observe error: %v", err)
		return
	}
	fmt.Printf("Vision: %s\n", resp.VisionDesc)
	fmt.Printf("AI: %s\n", resp.LLMReply)
	if resp.AudioData != "" {
		fmt.Printf("(audio reply attached, %d base64 chars)\n", len(resp.AudioData))
	}
}

func runStory(ctx context.Context, c *storybook.Client, path string) {
	image, ok := readImage(path)
	if !ok {
		return
	}
	fmt.Println("Generating storybook, this can take a while...")
	book, err := c.Generate(ctx, image)
	if err != nil {
		log.Printf("Storybook error: %v", err)
		return
	}
	fmt.Printf("《%s》 by %s, %d pages\n", book.Title, book.Author, book.TotalPages())
	for _, page := range book.Pages {
		fmt.Printf("  %d. %s: %s\n", page.Number, page.Title, page.Text)
	}
}

func runRecognize(ctx context.Context, c *recognition.Client, path string) {
	image, ok := readImage(path)
	if !ok {
		return
	}
	result, err := c.RecognizeImage(ctx, image)
	if err != nil {
		log.Printf("Recognition error: %v", err)
		return
	}
	fmt.Printf("Recognized: %s\n", result)
}

func runHistory(ctx context.Context, c *chat.Client, sessionID string) {
	items, err := c.FetchHistory(ctx, sessionID)
	if err != nil {
		log.Printf("History error: %v", err)
		return
	}
	if len(items) == 0 {
		fmt.Println("(empty)")
		return
	}
	for _, item := range items {
		fmt.Printf("[%s] %s: %s\n", item.Timestamp, item.Role, item.Content)
	}
}
