package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// errReported marks failures the view has already shown to the user.
var errReported = errors.New("reported")

type cli struct {
	configPath string
	verbose    bool
}

func processError(err error) {
	if !errors.Is(err, errReported) {
		fmt.Fprintln(os.Stderr, err.Error())
	}
	os.Exit(2)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		processError(err)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "fup",
		Short:         "Upload screenshots to a fup image host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", DefaultConfigPath(), "Configuration file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(c.uploadCommand())
	root.AddCommand(c.historyCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.keyCommand())
	return root
}

func (c *cli) logger(component string) *log.Logger {
	if !c.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "("+component+") ", log.LstdFlags)
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func (c *cli) uploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a capture (PNG, JPEG or GIF; stdin when omitted or -)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromStdin := len(args) == 0 || args[0] == "-"
			in := io.Reader(os.Stdin)
			if !fromStdin {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			capture, err := readCapture(in)
			if err != nil {
				return err
			}

			cfg, err := LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			history, err := NewHistory(cfg.History.Database, cfg.History.MaxCount, c.logger("history"))
			if err != nil {
				return err
			}
			defer history.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			view := NewTerminalView(os.Stdout, cfg.UiColor, isTTY(os.Stdout))
			uploader := NewUploader(capture, http.DefaultClient, history, NewSystemDesktop(c.logger("desktop")), view, c.logger("upload"))
			if err := uploader.Run(ctx, cfg.Upload(), cfg.CopyAndCloseAfterUpload); err != nil {
				return errReported
			}
			if !fromStdin && isTTY(os.Stdin) {
				view.Loop(os.Stdin)
			}
			return nil
		},
	}
}

func (c *cli) historyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the local upload history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List history entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := c.openHistory()
			if err != nil {
				return err
			}
			defer history.Close()
			entries, err := history.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				source, _, name := history.UnpackFileName(e.Name)
				fmt.Fprintf(out, "%s\t%s\t%s\t%d\n", e.Created.Format(time.RFC3339), source, name, e.Size)
			}
			return nil
		},
	})

	var output string
	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Write a history entry's PNG to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := c.openHistory()
			if err != nil {
				return err
			}
			defer history.Close()
			data, ok := history.Get(args[0])
			if !ok {
				return fmt.Errorf("no history entry %q", args[0])
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "", "Output file (stdout when empty)")
	cmd.AddCommand(get)
	return cmd
}

func (c *cli) openHistory() (*History, error) {
	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}
	return NewHistory(cfg.History.Database, cfg.History.MaxCount, c.logger("history"))
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a fup image host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			store, err := NewStore(cfg.Host.Database, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			retention := NewRetention(cfg, store)
			go retention.Run(ctx)

			host := NewHost(cfg, store, retention)
			srv := &http.Server{
				Addr:              cfg.Host.Listen,
				Handler:           host.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Println("Starting Server on", cfg.Host.Listen)
			if cfg.Host.TlsCert != "" {
				err = srv.ListenAndServeTLS(cfg.Host.TlsCert, cfg.Host.TlsKey)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
}

func (c *cli) keyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage image host upload keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME [KEY]",
		Short: "Register an upload key, generating one when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			store, err := NewStore(cfg.Host.Database, c.logger("store"))
			if err != nil {
				return err
			}
			defer store.Close()

			key := ""
			if len(args) > 1 {
				key = args[1]
			} else if key, err = generateKey(); err != nil {
				return err
			}
			if err := store.AddKey(args[0], key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})
	return cmd
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
