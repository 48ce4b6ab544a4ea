package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatd/internal/config"
	"chatd/internal/session"
	"chatd/pkg/types"
)

// chatSession is the part of the session the REPL drives.
type chatSession interface {
	Snapshot() session.Snapshot
	Status() session.Status
	RequestModel(id string)
	Load(ctx context.Context) error
	SendMessage(ctx context.Context, text string, onDelta func(string)) (string, error)
	Interrupt() bool
	Reset()
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a local model in the terminal",
		Long: "Interactive chat against an in-process session.\n\n" +
			"Commands: /model <id>, /models, /reset, /status, /quit. Ctrl+C interrupts a reply.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, opts, o)
			if err != nil {
				return err
			}
			if strings.TrimSpace(opts.logLevel) == "" && os.Getenv(config.EnvLogLevel) == "" {
				log = log.Level(zerolog.WarnLevel)
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT)
			defer signal.Stop(sig)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-sig:
						// first Ctrl+C stops the reply, a second one while idle quits
						if !a.Interrupt() {
							cancel()
							return
						}
					}
				}
			}()
			return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), a, a.ListModels())
		},
	}
	addEngineFlags(cmd, o)
	f := cmd.Flags()
	f.StringVar(&o.historyDB, "history-db", "", "SQLite file recording completed exchanges (empty disables)")
	return cmd
}

// runChat reads lines from in until EOF, /quit or ctx is done.
func runChat(ctx context.Context, in io.Reader, out io.Writer, sess chatSession, models []types.Model) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if snap := sess.Snapshot(); snap.RequestedModel != "" && !snap.Ready {
		loadModel(ctx, out, sess, snap.RequestedModel)
	} else {
		fmt.Fprintln(out, statusBadge(sess.Status()))
	}

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, out, sess, models, line); quit {
				return nil
			}
			continue
		}
		_, err := sess.SendMessage(ctx, line, func(d string) { fmt.Fprint(out, d) })
		switch {
		case err == nil:
			fmt.Fprintln(out)
		case session.IsNotReady(err):
			fmt.Fprintln(out, "model is not loaded yet; pick one with /model <id>")
		default:
			fmt.Fprintln(out)
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func runCommand(ctx context.Context, out io.Writer, sess chatSession, models []types.Model, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true
	case "/reset":
		sess.Reset()
		fmt.Fprintln(out, "conversation cleared")
	case "/status":
		printStatus(out, sess.Snapshot())
	case "/models":
		_ = printModels(out, models)
	case "/model":
		if arg == "" {
			fmt.Fprintln(out, "usage: /model <id>")
			return false
		}
		sess.RequestModel(arg)
		loadModel(ctx, out, sess, arg)
	default:
		fmt.Fprintf(out, "unknown command %s\n", name)
	}
	return false
}

func loadModel(ctx context.Context, out io.Writer, sess chatSession, id string) {
	fmt.Fprintf(out, "%s %s\n", statusBadge(session.Status{Label: "Loading model", Color: session.StatusWarning}), id)
	if err := sess.Load(ctx); err != nil {
		fmt.Fprintln(out, "error:", err)
	}
	fmt.Fprintln(out, statusBadge(sess.Status()))
}

func printStatus(out io.Writer, snap session.Snapshot) {
	fmt.Fprintln(out, statusBadge(snap.Status))
	if snap.LoadedModel != "" {
		fmt.Fprintln(out, "model:", snap.LoadedModel)
	} else if snap.RequestedModel != "" {
		fmt.Fprintln(out, "requested:", snap.RequestedModel)
	}
	fmt.Fprintln(out, "messages:", len(snap.Conversation))
	if snap.Error != "" {
		fmt.Fprintln(out, "error:", snap.Error)
	}
}
