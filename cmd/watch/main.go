// Command watch is a headless dashboard client. It opens one session,
// mounts a notification feed and logs the ledger as it changes. Commands
// are read from stdin: more, unread, read <id>, readall, reconnect, quit.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/config"
	"github.com/cabdesk/dispatch-notify/internal/pkg/notifyapi"
	"github.com/cabdesk/dispatch-notify/internal/realtime"
	"github.com/go-chi/httplog/v3"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	logFormat := httplog.SchemaECS.Concise(true)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:       cfg.SlogLevel(),
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(slog.String("app", "dispatch-notify-watch"))

	if err := run(cfg, logger); err != nil {
		logger.Error("watch stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	selection, err := realtime.SelectScope(cfg.Client.Role, cfg.Client.Token)
	if err != nil {
		return fmt.Errorf("select scope: %w", err)
	}
	if !selection.Scope.HasCredential() {
		logger.Warn("CLIENT_TOKEN not set, push channel stays disconnected")
	}

	sess := realtime.NewSession(selection, realtime.Config{
		URL:            cfg.Client.PushURL,
		ReconnectDelay: cfg.Client.ReconnectDelay,
		MaxFailures:    cfg.Client.ReconnectMaxFailures,
	}, nil, logger)
	defer sess.Logout()

	api := notifyapi.NewClient(cfg.Client.APIURL, selection, notifyapi.WithPageSize(cfg.Client.PageSize))

	conn, release, err := sess.Acquire()
	if err != nil {
		return err
	}
	defer release()
	states, unwatch := conn.Watch()
	defer unwatch()

	feed, err := realtime.NewFeed(sess, api, logger)
	if err != nil {
		return err
	}
	defer feed.Close()

	logger.Info("watching notifications",
		"role", string(selection.Scope.Role),
		"stream", selection.Scope.StreamKey(),
		"push_url", cfg.Client.PushURL,
	)

	if selection.Scope.HasCredential() {
		if _, err := loadMore(ctx, feed); err != nil {
			logger.Warn("initial page failed", "error", err)
		}
		if err := withTimeout(ctx, feed.RefreshUnread); err != nil {
			logger.Warn("unread refresh failed", "error", err)
		}
	}

	commands := make(chan string)
	go readCommands(commands)

	for {
		select {
		case <-ctx.Done():
			return nil

		case change, ok := <-states:
			if !ok {
				return nil
			}
			attrs := []any{"from", change.From.String(), "to", change.To.String()}
			if change.Err != nil {
				attrs = append(attrs, "error", change.Err)
			}
			logger.Info("push state", attrs...)

		case <-feed.Changes():
			logSnapshot(logger, feed)

		case line, ok := <-commands:
			if !ok {
				return nil
			}
			if quit := handleCommand(ctx, logger, feed, conn, line); quit {
				return nil
			}
		}
	}
}

func handleCommand(ctx context.Context, logger *slog.Logger, feed *realtime.Feed, conn *realtime.Connection, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "more":
		var fetched bool
		fetched, err = loadMore(ctx, feed)
		if err == nil && !fetched {
			logger.Info("no more history", "has_more", feed.HasMore())
		}
	case "unread", "refresh":
		err = withTimeout(ctx, feed.RefreshUnread)
	case "read":
		if len(fields) < 2 {
			logger.Warn("usage: read <id>")
			return false
		}
		err = withTimeout(ctx, func(ctx context.Context) error {
			return feed.MarkRead(ctx, fields[1])
		})
	case "readall":
		err = withTimeout(ctx, feed.MarkAllRead)
	case "reconnect":
		conn.Reconnect()
	case "state":
		logger.Info("push state", "state", feed.ConnectionState().String())
	case "quit", "exit":
		return true
	default:
		logger.Warn("unknown command", "command", fields[0])
	}

	if err != nil {
		logger.Warn("command failed", "command", fields[0], "error", err)
	}
	return false
}

func loadMore(ctx context.Context, feed *realtime.Feed) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return feed.LoadMore(ctx)
}

func withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return fn(ctx)
}

func logSnapshot(logger *slog.Logger, feed *realtime.Feed) {
	snap := feed.Snapshot()
	if snap.Empty() {
		logger.Info("no notifications")
		return
	}

	logger.Info("ledger",
		"unread", snap.UnreadCount,
		"loaded", len(snap.Items),
		"total", snap.Total,
		"online", feed.ConnectionState().Online(),
	)
	for _, item := range snap.Items {
		mark := " "
		if !item.Read {
			mark = "*"
		}
		fmt.Printf("%s %s  %-9s %s  %s\n", mark, item.CreatedAt.Local().Format("Jan 02 15:04"), item.Category, item.ID, item.Title)
	}
}

func readCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
