package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawlink/internal/chat"
	"github.com/nextlevelbuilder/clawlink/internal/config"
	"github.com/nextlevelbuilder/clawlink/internal/events"
	"github.com/nextlevelbuilder/clawlink/internal/gateway"
	"github.com/nextlevelbuilder/clawlink/internal/sessions"
)

var (
	promptStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	toolStyle      = lipgloss.NewStyle().Faint(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	noticeStyle    = lipgloss.NewStyle().Faint(true).Italic(true)
)

func chatCmd() *cobra.Command {
	var (
		message    string
		sessionKey string
		agentName  string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent through the gateway",
		Long: `Chat with an agent interactively or send a one-shot message.

Examples:
  clawlink chat                       # interactive REPL
  clawlink chat -m "What time is it?" # one-shot message
  clawlink chat -s main:cli:dm:local  # continue a session`,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(loadConfig(), agentName, message, sessionKey)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key (default: last active)")
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent name")
	return cmd
}

func runChat(cfg *config.Config, agentName, message, sessionKey string) {
	if agentName == "" {
		agentName = cfg.Chat.Agent
	}
	agentID := config.NormalizeAgentID(agentName)

	opts, _, err := clientOptions(cfg)
	if err != nil {
		fatalf("%v", err)
	}

	ctx := context.Background()
	client, res, err := gateway.Redial(ctx, opts)
	if err != nil {
		var pr *gateway.PairingRequiredError
		if errors.As(err, &pr) {
			fmt.Fprintf(os.Stderr, "This device is not paired yet.\nPairing code: %s\nRun \"clawlink pair\" for approval instructions.\n", pr.Code)
			os.Exit(1)
		}
		fatalf("connect: %v", err)
	}
	defer client.Close()

	keys := openKeyStore(cfg)
	dir, err := sessions.NewDirectory(keys, cfg.UserScope)
	if err != nil {
		fatalf("%v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	listed, err := client.ListSessions(callCtx)
	cancel()
	if err != nil {
		fatalf("sessions.list: %v", err)
	}
	dir.Reconcile(toServerSessions(listed))

	if sessionKey == "" {
		sessionKey = dir.ActiveKey()
	} else {
		dir.SetActive(sessionKey)
	}

	rec := chat.New(cfg.CoalesceInterval())
	defer rec.Close()
	activateSession(ctx, client, dir, rec, sessionKey)

	fmt.Fprintf(os.Stderr, "Connected (role %s, server %s)\nSession: %s\n",
		res.Role, res.Server.Name, sessionKey)

	normalized := make(chan events.StreamEvent, 64)
	go func() {
		defer close(normalized)
		for ev := range client.Events() {
			if se, ok := events.Normalize(ev); ok {
				normalized <- se
			}
		}
	}()

	if message != "" {
		runOneShot(ctx, client, rec, agentID, message, normalized)
		return
	}

	// Long-running session: pick up log-level edits without restarting.
	if watcher, werr := config.NewWatcher(resolveConfigPath()); werr == nil {
		watcher.OnChange(func(updated *config.Config) {
			if flagLogLevel == "" {
				logLevel.Set(parseLogLevel(updated.LogLevel))
			}
		})
		if werr := watcher.Start(); werr == nil {
			defer watcher.Stop()
		}
	}

	runREPL(ctx, client, dir, rec, agentID, normalized)
}

// activateSession switches the reconstructor to a session, seeding it
// from the history cache or an on-demand chat.history fetch.
func activateSession(ctx context.Context, client *gateway.Client, dir *sessions.Directory, rec *chat.Reconstructor, key string) {
	dir.SetActive(key)
	if history, ok := dir.CachedHistory(key); ok {
		rec.SetActiveSession(key, history)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	wire, err := client.ChatHistory(callCtx, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, noticeStyle.Render("history unavailable: "+err.Error()))
		rec.SetActiveSession(key, nil)
		return
	}
	history := make([]chat.Message, 0, len(wire))
	for _, m := range wire {
		history = append(history, chat.Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: time.UnixMilli(m.Timestamp),
		})
	}
	dir.CacheHistory(key, history)
	rec.SetActiveSession(key, history)
}

func toServerSessions(listed []gateway.SessionInfo) []sessions.ServerSession {
	out := make([]sessions.ServerSession, 0, len(listed))
	for _, s := range listed {
		out = append(out, sessions.ServerSession{
			Key:          s.Key,
			DisplayName:  s.DisplayName,
			UpdatedAt:    time.UnixMilli(s.UpdatedAt),
			InputTokens:  s.InputTokens,
			OutputTokens: s.OutputTokens,
		})
	}
	return out
}

// runOneShot sends one message and prints the finalized reply.
func runOneShot(ctx context.Context, client *gateway.Client, rec *chat.Reconstructor, agentID, message string, normalized <-chan events.StreamEvent) {
	rec.AppendUser(message)
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	res, err := client.SendChat(callCtx, gateway.ChatSendParams{
		SessionKey: rec.ActiveSession(),
		Message:    message,
		AgentID:    agentID,
	})
	cancel()
	if err != nil {
		fatalf("chat.send: %v", err)
	}
	rec.BeginRun(res.RunID)

	for {
		select {
		case se, ok := <-normalized:
			if !ok {
				fatalf("connection lost: %v", client.Err())
			}
			rec.Handle(se)
			if se.Kind == events.ChatFinal {
				msgs := rec.Messages()
				if len(msgs) > 0 {
					fmt.Println(msgs[len(msgs)-1].Content)
				}
				return
			}
		case n := <-rec.Notices():
			printNotice(n)
			return
		case <-client.Done():
			fatalf("connection lost: %v", client.Err())
		}
	}
}

// runREPL is the interactive loop: stdin lines, coalesced snapshots,
// and notices multiplexed in one goroutine.
func runREPL(ctx context.Context, client *gateway.Client, dir *sessions.Directory, rec *chat.Reconstructor, agentID string, normalized <-chan events.StreamEvent) {
	fmt.Fprintln(os.Stderr, `Type "exit" to quit, "/help" for commands.`)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	printedLive := "" // live text already written
	prompt := func() { fmt.Print(promptStyle.Render("you> ")) }
	prompt()

	flushLive := func(live string) {
		tail, reprint := liveDiff(printedLive, live)
		if reprint {
			fmt.Print("\n" + assistantStyle.Render(tail))
		} else if tail != "" {
			fmt.Print(assistantStyle.Render(tail))
		}
		printedLive = live
	}

	knownMessages := len(rec.Messages())

	for {
		select {
		case line, ok := <-lines:
			if !ok || line == "exit" || line == "quit" {
				fmt.Fprintln(os.Stderr, "bye")
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				prompt()
			case strings.HasPrefix(line, "/"):
				handleSlash(ctx, client, dir, rec, agentID, line)
				knownMessages = len(rec.Messages())
				prompt()
			default:
				rec.AppendUser(line)
				knownMessages = len(rec.Messages())
				callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				res, err := client.SendChat(callCtx, gateway.ChatSendParams{
					SessionKey: rec.ActiveSession(),
					Message:    line,
					AgentID:    agentID,
				})
				cancel()
				if err != nil {
					fmt.Fprintln(os.Stderr, errorStyle.Render("send failed: "+err.Error()))
					prompt()
					continue
				}
				rec.BeginRun(res.RunID)
				printedLive = ""
			}

		case se, ok := <-normalized:
			if !ok {
				fmt.Fprintln(os.Stderr, errorStyle.Render("connection lost"))
				return
			}
			rec.Handle(se)

		case snap := <-rec.Updates():
			if snap.Live != "" {
				flushLive(snap.Live)
			}
			if n := len(snap.Messages); n > knownMessages {
				for _, m := range snap.Messages[knownMessages:] {
					if m.Role == "assistant" {
						// Live text was already streamed; close the line.
						if printedLive != "" {
							fmt.Println()
						} else {
							fmt.Println(assistantStyle.Render(m.Content))
						}
					}
				}
				knownMessages = n
				printedLive = ""
				if !snap.Loading {
					for _, tc := range snap.Tools {
						fmt.Fprintln(os.Stderr, toolStyle.Render(fmt.Sprintf("[tool %s: %s]", tc.Name, tc.Phase)))
					}
					prompt()
				}
			}

		case n := <-rec.Notices():
			printNotice(n)
			printedLive = ""
			prompt()

		case <-client.Done():
			fmt.Fprintln(os.Stderr, errorStyle.Render("connection lost: "+client.Err().Error()))
			return
		}
	}
}

// liveDiff computes what to print when the streamed text advances from
// prev to next. Whole-so-far snapshots normally extend the previous
// one, so only the tail is new; if next is not an extension of prev the
// whole text must be reprinted on a fresh line.
func liveDiff(prev, next string) (tail string, reprint bool) {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):], false
	}
	return next, true
}

func handleSlash(ctx context.Context, client *gateway.Client, dir *sessions.Directory, rec *chat.Reconstructor, agentID, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(os.Stderr, "/new  /sessions  /switch N  /rename NAME  /abort  exit")

	case "/new":
		e := dir.CreateLocal(agentID, "cli", "")
		rec.SetActiveSession(e.Key, nil)
		fmt.Fprintf(os.Stderr, "new session: %s\n", e.Key)

	case "/sessions":
		refreshSessions(ctx, client, dir)
		for i, e := range dir.List() {
			marker := " "
			if e.Key == dir.ActiveKey() {
				marker = "*"
			}
			pending := ""
			if e.Pending {
				pending = " (pending)"
			}
			fmt.Fprintf(os.Stderr, "%s %d: %s %s%s\n", marker, i+1, e.Key, e.DisplayName, pending)
		}

	case "/switch":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /switch N")
			return
		}
		idx, err := strconv.Atoi(fields[1])
		list := dir.List()
		if err != nil || idx < 1 || idx > len(list) {
			fmt.Fprintln(os.Stderr, "no such session")
			return
		}
		activateSession(ctx, client, dir, rec, list[idx-1].Key)
		fmt.Fprintf(os.Stderr, "switched to %s\n", list[idx-1].Key)

	case "/rename":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /rename NAME")
			return
		}
		name := strings.Join(fields[1:], " ")
		key := dir.ActiveKey()
		dir.RenameLocal(key, name)
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := client.PatchSession(callCtx, key, name)
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render("rename failed: "+err.Error()))
			return
		}
		dir.ConfirmRename(key)

	case "/abort":
		key := rec.ActiveSession()
		rec.Abort()
		go func() {
			callCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.AbortChat(callCtx, key, ""); err != nil {
				fmt.Fprintln(os.Stderr, noticeStyle.Render("abort request failed: "+err.Error()))
			}
		}()

	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", fields[0])
	}
}

func refreshSessions(ctx context.Context, client *gateway.Client, dir *sessions.Directory) {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	listed, err := client.ListSessions(callCtx)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("sessions.list failed: "+err.Error()))
		return
	}
	dir.Reconcile(toServerSessions(listed))
}

func printNotice(n chat.Notice) {
	switch n.Kind {
	case chat.NoticeAborted:
		fmt.Fprintln(os.Stderr, noticeStyle.Render("[run aborted]"))
	default:
		fmt.Fprintln(os.Stderr, errorStyle.Render("[agent error] "+n.Text))
	}
}
