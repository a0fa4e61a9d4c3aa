package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"docchat.io/chat-client/internal/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const replHelp = `commands:
  /chats              list chats
  /use <id>           switch to a chat
  /new [name]         create a chat
  /rename <name>      rename the current chat
  /rm                 delete the current chat
  /clear              leave the current chat; the next message starts a new one
  /docs               list documents
  /doc <id>           answer from a document (turns document mode on)
  /general            turn document mode off
  /upload <path>      upload a document
  /quit               exit
anything else is sent to the current chat`

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				r := &repl{app: a}
				return r.run(cmd.Context(), cmd.InOrStdin())
			})
		},
	}
}

// repl sends in the background, so the user can switch chats while a reply
// is pending; the reply lands in the chat it was sent to.
type repl struct {
	*app
	mu      sync.Mutex // serializes terminal output
	pending sync.WaitGroup
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	if err := r.store.Refresh(ctx); err != nil {
		return err
	}
	r.printf("%d chats. /help for commands.\n", len(r.store.Snapshot().Chats))

	scanner := bufio.NewScanner(in)
	for {
		r.printf("%s ", r.prompt())
		if !scanner.Scan() {
			break
		}
		quit, err := r.handle(ctx, strings.TrimSpace(scanner.Text()))
		if err != nil {
			r.printf("%s\n", unconfirmedLabel("error: "+err.Error()))
		}
		if quit || ctx.Err() != nil {
			break
		}
	}
	r.pending.Wait()
	return scanner.Err()
}

func (r *repl) prompt() string {
	st := r.store.Snapshot()
	p := "(no chat)"
	if chat, ok := st.Chat(st.ActiveChatID); ok {
		p = chat.Name
	}
	if st.DocumentMode {
		doc := "no document"
		if st.SelectedDocument != nil {
			doc = st.SelectedDocument.Filename
		}
		p += " [" + doc + "]"
	}
	return p + ">"
}

// splitCommand splits "/name rest of line" into "name" and "rest of line".
func splitCommand(line string) (name, arg string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	name, arg, isCmd := splitCommand(line)
	if !isCmd {
		r.send(ctx, line)
		return false, nil
	}

	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help":
		r.printf("%s\n", replHelp)
	case "chats":
		if err := r.store.LoadChats(ctx); err != nil {
			return false, err
		}
		st := r.store.Snapshot()
		r.mu.Lock()
		r.printChats(st.Chats, st.ActiveChatID)
		r.mu.Unlock()
	case "use":
		id, err := parseID(arg)
		if err != nil {
			return false, err
		}
		if err := r.store.SelectChat(ctx, id); err != nil {
			return false, err
		}
		r.mu.Lock()
		for _, m := range r.store.Snapshot().ActiveMessages {
			r.printMessage(m)
		}
		r.mu.Unlock()
	case "new":
		chat, err := r.store.CreateChat(ctx, arg)
		if err != nil {
			return false, err
		}
		r.printf("created chat %d\n", chat.ID)
	case "rename":
		st := r.store.Snapshot()
		if !st.HasActiveChat() {
			return false, errors.New("no current chat")
		}
		return false, r.store.RenameChat(ctx, st.ActiveChatID, arg)
	case "rm":
		st := r.store.Snapshot()
		if !st.HasActiveChat() {
			return false, errors.New("no current chat")
		}
		return false, r.store.DeleteChat(ctx, st.ActiveChatID)
	case "clear":
		r.store.ClearSelection()
	case "docs":
		docs, err := r.store.ListDocuments(ctx)
		if err != nil {
			return false, err
		}
		r.mu.Lock()
		r.printDocuments(docs, r.store.Snapshot().SelectedDocument)
		r.mu.Unlock()
	case "doc":
		id, err := parseID(arg)
		if err != nil {
			return false, err
		}
		if !r.store.Snapshot().DocumentMode {
			r.store.SetDocumentMode(true)
		}
		return false, r.store.SelectDocument(ctx, id)
	case "general":
		r.store.SetDocumentMode(false)
	case "upload":
		f, err := os.Open(arg)
		if err != nil {
			return false, err
		}
		defer f.Close()
		stored, err := r.store.UploadDocument(ctx, filepath.Base(arg), f)
		if err != nil {
			return false, err
		}
		r.printf("uploaded as %s\n", stored)
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		res, err := r.store.Send(ctx, text)
		if errors.Is(err, core.ErrSendInFlight) {
			r.printf("%s\n", unconfirmedLabel("still waiting for the previous reply in this chat"))
			return
		}
		if err != nil {
			r.log.Debug("send failed", zap.Error(err))
			r.printf("%s\n", unconfirmedLabel("not delivered: "+err.Error()))
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if st := r.store.Snapshot(); st.ActiveChatID != res.ChatID {
			fmt.Fprintf(r.out, "%s ", dimmed(fmt.Sprintf("[chat %d]", res.ChatID)))
		}
		r.printMessage(res.Reply)
	}()
}
