package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docchat.io/chat-client/internal/auth"
	"docchat.io/chat-client/internal/config"
	"github.com/spf13/cobra"
)

// withApp builds the session for a command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func newChatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.store.LoadChats(cmd.Context()); err != nil {
					return err
				}
				st := a.store.Snapshot()
				a.printChats(st.Chats, st.ActiveChatID)
				return nil
			})
		},
	}
}

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [name]",
		Short: "Create a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				chat, err := a.store.CreateChat(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "created chat %d %q\n", chat.ID, chat.Name)
				return nil
			})
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <chat-id> <new name>",
		Short: "Rename a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				if err := a.store.LoadChats(cmd.Context()); err != nil {
					return err
				}
				if err := a.store.RenameChat(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
					return err
				}
				chat, _ := a.store.Snapshot().Chat(id)
				fmt.Fprintf(a.out, "chat %d is now %q\n", id, chat.Name)
				return nil
			})
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <chat-id>",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				if err := a.store.LoadChats(cmd.Context()); err != nil {
					return err
				}
				if err := a.store.DeleteChat(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "deleted chat %d\n", id)
				return nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <chat-id>",
		Short: "Print a chat's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				if err := a.store.LoadChats(cmd.Context()); err != nil {
					return err
				}
				if err := a.store.SelectChat(cmd.Context(), id); err != nil {
					return err
				}
				for _, m := range a.store.Snapshot().ActiveMessages {
					a.printMessage(m)
				}
				return nil
			})
		},
	}
}

func newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List uploaded documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				docs, err := a.store.ListDocuments(cmd.Context())
				if err != nil {
					return err
				}
				a.printDocuments(docs, nil)
				return nil
			})
		},
	}
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document; the server indexes it before answering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withApp(cmd, func(a *app) error {
				stored, err := a.store.UploadDocument(cmd.Context(), filepath.Base(args[0]), f)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "uploaded as %s\n", stored)
				return nil
			})
		},
	}
}

func newAskCmd() *cobra.Command {
	var chatID, docID int64
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Send one question and print the reply",
		Long: "Send one question. Without --chat a new chat named after the question is created. " +
			"With --doc the question is answered from that document.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				if chatID > 0 {
					if err := a.store.LoadChats(ctx); err != nil {
						return err
					}
					if err := a.store.SelectChat(ctx, chatID); err != nil {
						return err
					}
				}
				if docID > 0 {
					a.store.SetDocumentMode(true)
					if err := a.store.SelectDocument(ctx, docID); err != nil {
						return err
					}
				}

				res, err := a.store.Send(ctx, strings.Join(args, " "))
				if res != nil && res.Created {
					fmt.Fprintln(a.out, dimmed(fmt.Sprintf("new chat %d", res.ChatID)))
				}
				if err != nil {
					return err
				}
				a.printMessage(res.Reply)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "chat id to send to")
	cmd.Flags().Int64Var(&docID, "doc", 0, "document id to answer from")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token for the stub server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			token, err := auth.GenerateJWT(cfg.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user id for the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
