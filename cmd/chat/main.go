// Package main is the interactive terminal chat client.
//
// Usage:
//
//	chat                     start (or resume with -conversation) a chat
//	chat -list               list stored conversations
//	chat -delete <id>        delete one conversation
//	chat -delete-all         delete every conversation
//	chat -probe              check backend availability and exit
//
// During a streaming answer, Ctrl-C cancels the stream without exiting;
// the partial answer is discarded and never persisted.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-client/internal/backend"
	"github.com/capitalize-ai/assistant-client/internal/config"
	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/internal/service"
	"github.com/capitalize-ai/assistant-client/internal/store"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
	"github.com/capitalize-ai/assistant-client/pkg/tracing"
)

func main() {
	listFlag := flag.Bool("list", false, "list stored conversations")
	deleteFlag := flag.String("delete", "", "delete the conversation with this id")
	deleteAllFlag := flag.Bool("delete-all", false, "delete all conversations")
	probeFlag := flag.Bool("probe", false, "check backend availability and exit")
	convFlag := flag.String("conversation", "", "resume an existing conversation by id")
	flag.Parse()

	if err := run(*listFlag, *deleteFlag, *deleteAllFlag, *probeFlag, *convFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(list bool, deleteID string, deleteAll, probeOnly bool, conversationID string) error {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "assistant-client", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st, err := store.New(cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer st.Close()

	transport := backend.NewTransport(cfg.BackendURL, cfg.BackendToken, cfg.FirstByteTimeout, cfg.StreamTimeout, log)
	probe := backend.NewProbe(cfg.BackendURL, cfg.BackendToken, cfg.ProbeTimeout, log)

	conversations := service.NewConversationService(st, log)
	messages := service.NewMessageService(st, transport, probe, cfg.MaxHistoryTurns, cfg.ProbeCacheTTL, log)

	switch {
	case list:
		return listConversations(ctx, conversations)
	case deleteID != "":
		return conversations.Delete(ctx, deleteID)
	case deleteAll:
		return conversations.DeleteAll(ctx)
	case probeOnly:
		return printAvailability(messages.Probe(ctx))
	}

	return chat(ctx, conversations, messages, conversationID)
}

func listConversations(ctx context.Context, conversations *service.ConversationService) error {
	convs, err := conversations.List(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("no conversations")
		return nil
	}
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s  (%d messages, updated %s)\n",
			c.ID, title, len(c.Messages), c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func printAvailability(avail model.Availability) error {
	if avail.Online() {
		fmt.Printf("online (model: %s)\n", avail.Model)
		return nil
	}
	fmt.Printf("offline: %s\n", avail.Message)
	return nil
}

func chat(ctx context.Context, conversations *service.ConversationService, messages *service.MessageService, conversationID string) error {
	var conv *model.Conversation
	var err error

	if conversationID != "" {
		conv, err = conversations.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		for _, msg := range conv.Messages {
			printMessage(msg)
		}
	} else {
		conv, err = conversations.Create(ctx, "")
		if err != nil {
			return err
		}
		fmt.Printf("started conversation %s\n", conv.ID)
	}

	if avail := messages.Probe(ctx); !avail.Online() {
		fmt.Printf("warning: backend appears offline (%s); sending anyway may fail\n", avail.Message)
	}

	// Ctrl-C during a stream cancels that stream; at the prompt it exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		for range sigCh {
			if !messages.Cancel(conv.ID) {
				fmt.Println()
				os.Exit(0)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return nil
		}

		printed := 0
		msg, err := messages.Send(ctx, conv.ID, text, func(cumulative string) {
			fmt.Print(cumulative[printed:])
			printed = len(cumulative)
		})

		switch {
		case err == nil:
			fmt.Println()
			printSources(msg.Sources)
		case errors.Is(err, service.ErrCancelled):
			fmt.Println("\n(cancelled)")
		default:
			fmt.Printf("\n(failed: %v)\n", err)
		}
	}
}

func printMessage(msg model.Message) {
	switch msg.Sender {
	case model.SenderUser:
		fmt.Printf("> %s\n", msg.Text)
	case model.SenderAssistant:
		fmt.Println(msg.Text)
		printSources(msg.Sources)
	case model.SenderSystem:
		fmt.Printf("(%s)\n", msg.Text)
	}
}

func printSources(sources []model.Source) {
	for _, src := range sources {
		fmt.Printf("  [%s] %s (%.2f)\n", src.SourceID, src.DisplayName, src.RelevanceScore)
	}
}
