package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Napageneral/crosstalk/internal/config"
	"github.com/Napageneral/crosstalk/internal/contacts"
	"github.com/Napageneral/crosstalk/internal/dispatch"
	"github.com/Napageneral/crosstalk/internal/imessage"
	"github.com/Napageneral/crosstalk/internal/live"
	"github.com/Napageneral/crosstalk/internal/merge"
	"github.com/Napageneral/crosstalk/internal/platform"
	"github.com/Napageneral/crosstalk/internal/resolve"
	"github.com/Napageneral/crosstalk/internal/telegram"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"

	jsonOutput   bool
	platformFlag string
	limitFlag    int
	fullOutput   bool
	confirmSend  bool
)

// previewLen truncates message bodies for list output; --full disables it.
const previewLen = 120

func main() {
	rootCmd := &cobra.Command{
		Use:   "crosstalk",
		Short: "Read and send messages across iMessage and Telegram",
		Long: `Crosstalk reads the local Messages (chat.db) and Telegram (postbox)
stores on this Mac, merges chats and messages across both platforms,
and can send on either one using the accounts already logged in.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(contactsCmd())
	rootCmd.AddCommand(chatsCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

// app wires the adapters from config. Stores open lazily; building an app
// does no I/O beyond reading the config file.
type app struct {
	cfg      *config.Config
	book     *contacts.Book
	messages *imessage.Store
	telegram *telegram.Store
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	book := contacts.Open(cfg.Messages.ContactsDir)
	return &app{
		cfg:      cfg,
		book:     book,
		messages: imessage.NewStore(cfg.Messages.ChatDB, book),
		telegram: telegram.NewStore(cfg.Telegram.Container),
	}, nil
}

func (a *app) close() {
	a.telegram.Close()
}

func (a *app) adapters() []platform.Adapter {
	return []platform.Adapter{a.messages, a.telegram}
}

func (a *app) adapter(id platform.ID) platform.Adapter {
	for _, ad := range a.adapters() {
		if ad.Platform() == id {
			return ad
		}
	}
	return nil
}

func restriction() (platform.ID, error) {
	return platform.Parse(platformFlag)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
				return
			}
			fmt.Printf("crosstalk %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Look up address book contacts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "search NAME",
		Short: "Search contacts by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			people, err := a.book.Search(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				type personJSON struct {
					Name   string   `json:"name"`
					Phones []string `json:"phones,omitempty"`
					Emails []string `json:"emails,omitempty"`
				}
				out := make([]personJSON, 0, len(people))
				for _, p := range people {
					out = append(out, personJSON{Name: p.DisplayName(), Phones: p.Phones, Emails: p.Emails})
				}
				printJSON(out)
				return nil
			}
			if len(people) == 0 {
				fmt.Printf("No contacts match %q\n", args[0])
				return nil
			}
			for _, p := range people {
				fmt.Println(p.DisplayName())
				for _, phone := range p.Phones {
					fmt.Printf("  %s\n", platform.FormatPhone(phone))
				}
				for _, email := range p.Emails {
					fmt.Printf("  %s\n", email)
				}
			}
			return nil
		},
	})
	return cmd
}

func chatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List and find chats across platforms",
	}

	recent := &cobra.Command{
		Use:   "recent",
		Short: "List recent chats, most recent activity first",
		RunE: func(cmd *cobra.Command, args []string) error {
			restrict, err := restriction()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			chats, errs := merge.New(a.adapters()...).RecentChats(cmd.Context(), restrict, limitFlag)
			reportPartialErrors(errs)
			printChats(chats)
			return nil
		},
	}

	find := &cobra.Command{
		Use:   "find QUERY",
		Short: "Find chats by name, handle, username, or phone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			restrict, err := restriction()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			chats, errs := merge.New(a.adapters()...).FindChats(cmd.Context(), restrict, args[0])
			reportPartialErrors(errs)
			printChats(chats)
			return nil
		},
	}

	for _, c := range []*cobra.Command{recent, find} {
		c.Flags().StringVarP(&platformFlag, "platform", "p", "", "Limit to one platform (messages|telegram)")
		c.Flags().IntVarP(&limitFlag, "limit", "n", 20, "Maximum results")
	}
	cmd.AddCommand(recent, find)
	return cmd
}

func readCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read IDENTIFIER",
		Short: "Read recent messages from one chat",
		Long: `Read resolves IDENTIFIER (a contact name, phone number, @username, or
peer id) to exactly one chat and prints its recent messages in
chronological order. Ambiguous identifiers list every candidate instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			restrict, err := restriction()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			target, err := resolve.New(a.adapters()...).ResolveOne(cmd.Context(), args[0], restrict)
			if err != nil {
				return err
			}
			msgs, err := a.adapter(target.Platform).ReadMessages(cmd.Context(), target.Chat.Identifier, limitFlag)
			if err != nil {
				return err
			}
			printMessages(msgs, fullOutput)
			return nil
		},
	}
	cmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "Limit to one platform (messages|telegram)")
	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "Maximum messages")
	cmd.Flags().BoolVar(&fullOutput, "full", false, "Print full message bodies without truncation")
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search message bodies across platforms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			restrict, err := restriction()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			msgs, errs := merge.New(a.adapters()...).Search(cmd.Context(), restrict, args[0], limitFlag)
			reportPartialErrors(errs)
			printMessages(msgs, fullOutput)
			return nil
		},
	}
	cmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "Limit to one platform (messages|telegram)")
	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 50, "Maximum results")
	cmd.Flags().BoolVar(&fullOutput, "full", false, "Print full message bodies without truncation")
	return cmd
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send IDENTIFIER BODY",
		Short: "Send a message (dry run unless --confirm)",
		Long: `Send resolves IDENTIFIER to exactly one destination and sends BODY to
it. Without --confirm this is a dry run: the resolved platform,
destination, and body are printed and nothing is transmitted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			restrict, err := restriction()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			target, err := resolve.New(a.adapters()...).ResolveOne(cmd.Context(), args[0], restrict)
			if err != nil {
				return err
			}

			d := dispatch.New(a.cfg.Send.Timeout(), a.adapters()...)
			res := d.Dispatch(cmd.Context(), dispatch.Request{Target: target, Body: args[1]}, confirmSend)

			if jsonOutput {
				type resultJSON struct {
					State    string `json:"state"`
					Platform string `json:"platform"`
					To       string `json:"to"`
					Chat     string `json:"chat"`
					Body     string `json:"body"`
					Error    string `json:"error,omitempty"`
				}
				out := resultJSON{
					State:    string(res.State),
					Platform: string(res.Platform),
					To:       res.To.String(),
					Chat:     target.Chat.Name(),
					Body:     res.Body,
				}
				if res.Err != nil {
					out.Error = res.Err.Error()
				}
				printJSON(out)
				if res.Err != nil {
					os.Exit(1)
				}
				return nil
			}

			switch res.State {
			case dispatch.StateDryRun:
				fmt.Printf("Dry run (use --confirm to send):\n")
				fmt.Printf("  platform: %s\n", res.Platform)
				fmt.Printf("  to:       %s (%s)\n", target.Chat.Name(), res.To)
				fmt.Printf("  body:     %s\n", res.Body)
			case dispatch.StateSent:
				fmt.Printf("Sent to %s (%s) via %s\n", target.Chat.Name(), res.To, res.Platform)
			case dispatch.StateFailed:
				return res.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "Limit to one platform (messages|telegram)")
	cmd.Flags().BoolVar(&confirmSend, "confirm", false, "Actually send instead of dry run")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Per-platform message and chat counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			restrict, err := restriction()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			counts, errs := merge.New(a.adapters()...).Stats(cmd.Context(), restrict)
			reportPartialErrors(errs)
			if jsonOutput {
				printJSON(counts)
				return nil
			}
			for _, c := range counts {
				fmt.Printf("%-10s %d messages, %d chats\n", c.Platform, c.Messages, c.Chats)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "Limit to one platform (messages|telegram)")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print new Messages activity as it arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watermark, err := a.messages.LatestRowID(ctx)
			if err != nil {
				return err
			}

			return live.Watch(ctx, live.Options{
				ChatDBPath: a.cfg.Messages.ChatDB,
				Debounce:   2 * time.Second,
				Logf: func(format string, args ...any) {
					fmt.Fprintf(os.Stderr, format+"\n", args...)
				},
				Poll: func(ctx context.Context) error {
					msgs, next, err := a.messages.MessagesAfter(ctx, watermark)
					if err != nil {
						return err
					}
					watermark = next
					for _, m := range msgs {
						if jsonOutput {
							printJSON(messageJSON(m, true))
							continue
						}
						fmt.Printf("[%s] %s — %s: %s\n",
							m.Timestamp.Local().Format("15:04:05"), m.ChatName, m.Sender, m.Text)
					}
					return nil
				},
			})
		},
	}
	return cmd
}

type chatOut struct {
	Platform     string `json:"platform"`
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	LastActivity string `json:"last_activity,omitempty"`
}

func printChats(chats []platform.Chat) {
	if jsonOutput {
		out := make([]chatOut, 0, len(chats))
		for _, c := range chats {
			o := chatOut{
				Platform:   string(c.Platform),
				Identifier: c.Identifier,
				Name:       c.Name(),
			}
			if !c.LastActivity.IsZero() {
				o.LastActivity = c.LastActivity.Local().Format(time.RFC3339)
			}
			out = append(out, o)
		}
		printJSON(out)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats found")
		return
	}
	for _, c := range chats {
		when := ""
		if !c.LastActivity.IsZero() {
			when = c.LastActivity.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-10s %-16s %-30s %s\n", c.Platform, when, truncate(c.Name(), 30), c.Identifier)
	}
}

type msgOut struct {
	Platform  string `json:"platform"`
	Chat      string `json:"chat"`
	Sender    string `json:"sender"`
	FromMe    bool   `json:"from_me"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Edited    bool   `json:"edited,omitempty"`
}

func messageJSON(m platform.Message, full bool) msgOut {
	text := m.Text
	if !full {
		text = truncate(text, previewLen)
	}
	return msgOut{
		Platform:  string(m.Platform),
		Chat:      m.ChatName,
		Sender:    m.Sender,
		FromMe:    m.FromMe,
		Timestamp: m.Timestamp.Local().Format(time.RFC3339),
		Text:      text,
	}
}

func printMessages(msgs []platform.Message, full bool) {
	if jsonOutput {
		out := make([]msgOut, 0, len(msgs))
		for _, m := range msgs {
			o := messageJSON(m, full)
			o.Edited = m.Edited
			out = append(out, o)
		}
		printJSON(out)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages")
		return
	}
	for _, m := range msgs {
		text := m.Text
		if !full {
			text = truncate(text, previewLen)
		}
		edited := ""
		if m.Edited {
			edited = " (edited)"
		}
		fmt.Printf("[%s] %s — %s: %s%s\n",
			m.Timestamp.Local().Format("2006-01-02 15:04"), m.ChatName, m.Sender, text, edited)
	}
}

// reportPartialErrors prints per-platform failures from a merged query to
// stderr; the successful platform's results still go to stdout.
func reportPartialErrors(errs []error) {
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := strings.ToValidUTF8(s[:n], "")
	return cut + "…"
}

func fail(err error) {
	if jsonOutput {
		printJSON(map[string]any{"ok": false, "error": err.Error()})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
