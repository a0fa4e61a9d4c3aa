package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"docchat.io/chat-client/internal/api"
	"docchat.io/chat-client/internal/auth"
	"docchat.io/chat-client/internal/config"
	"docchat.io/chat-client/internal/core"
	"docchat.io/chat-client/internal/logger"
	"github.com/fatih/color"
	"go.uber.org/zap"
)

// app is one client session: config, logger and a Store wired to the API.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	gw    *auth.StaticGateway
	store *core.Store
	out   io.Writer
}

func newApp(out io.Writer, opts ...core.StoreOption) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("no token configured: set DOCCHAT_TOKEN or token in the config file")
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	gw := auth.NewStaticGateway(cfg.Token, cfg.UserID, func(reason error) {
		fmt.Fprintln(os.Stderr, color.RedString("session expired: %v. Obtain a new token and try again.", reason))
	})

	client := api.NewClient(cfg.APIURL, cfg.Timeout, api.WithLogger(log))
	directory := core.NewDirectoryService(client, log)
	messages := core.NewMessageService(client, directory, log)
	docs := core.NewDocumentService(client, cfg.DocCacheTTL, log)

	return &app{
		cfg:   cfg,
		log:   log,
		gw:    gw,
		store: core.NewStore(gw, directory, messages, docs, log, opts...),
		out:   out,
	}, nil
}

func (a *app) close() {
	a.log.Sync()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

var (
	userLabel        = color.New(color.FgCyan, color.Bold).SprintFunc()
	botLabel         = color.New(color.FgGreen, color.Bold).SprintFunc()
	unconfirmedLabel = color.New(color.FgYellow).SprintFunc()
	dimmed           = color.New(color.Faint).SprintFunc()
)

func (a *app) printMessage(m core.Message) {
	label := botLabel("bot")
	if m.Sender == core.SenderUser {
		label = userLabel("you")
	}
	line := fmt.Sprintf("%s: %s", label, m.Text)
	if m.Unconfirmed {
		line += " " + unconfirmedLabel("(not delivered)")
	}
	fmt.Fprintln(a.out, line)
}

func (a *app) printChats(chats []core.ChatSession, activeID int64) {
	if len(chats) == 0 {
		fmt.Fprintln(a.out, dimmed("no chats"))
		return
	}
	for _, c := range chats {
		marker := " "
		if c.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(a.out, "%s %6d  %-40s %s\n", marker, c.ID, c.Name, dimmed(fmt.Sprintf("%d messages", len(c.Messages))))
	}
}

func (a *app) printDocuments(docs []core.Document, selected *core.DocumentRef) {
	if len(docs) == 0 {
		fmt.Fprintln(a.out, dimmed("no documents"))
		return
	}
	for _, d := range docs {
		marker := " "
		if selected != nil && selected.ID == d.ID {
			marker = "*"
		}
		uploaded := ""
		if !d.UploadedAt.IsZero() {
			uploaded = d.UploadedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(a.out, "%s %6d  %-50s %s\n", marker, d.ID, d.Filename, dimmed(uploaded))
	}
}
