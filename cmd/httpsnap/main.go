package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourorg/httpsnap/internal/config"
	"github.com/yourorg/httpsnap/internal/logging"
	"github.com/yourorg/httpsnap/internal/report"
	"github.com/yourorg/httpsnap/internal/server"
	"github.com/yourorg/httpsnap/internal/store"
)

const defaultConfigContent = `viewer:
  base_url: "http://127.0.0.1:4280"
  on_encode_error: "drop"   # drop | plain

capture:
  max_body_bytes: 1048576

filter:
  ignore_extensions:
    - .js
    - .css
    - .png
    - .jpg
    - .gif
    - .svg
    - .woff
    - .woff2
    - .ico
    - .map
  ignore_paths:
    - /static/
    - /assets/
    - /favicon
  ignore_content_types:
    - text/css
    - image/*
    - font/*
    - application/javascript

sanitize:
  headers:
    - Authorization
    - Cookie
    - Set-Cookie
    - X-Api-Key
    - X-Auth-Token
    - Proxy-Authorization
  body_fields:
    - password
    - secret
    - token
    - api_key
    - access_token
    - refresh_token
    - credential
  replacement: "***REDACTED***"

server:
  host: "127.0.0.1"
  port: 4280
  max_payload_bytes: 8388608

log:
  level: "info"
  format: "auto"   # auto | text | json
  file: ""
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every command needs once flags are parsed.
type app struct {
	cfgPath string
	verbose bool
	debug   bool

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level := logging.ParseLevel(cfg.Log.Level)
	switch {
	case a.debug:
		level = slog.LevelDebug
	case a.verbose && level > slog.LevelInfo:
		level = slog.LevelInfo
	}
	a.cfg = cfg
	a.logger, a.closer = logging.New(logging.Config{
		Level:  level,
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: cmd.ErrOrStderr(),
		File:   cfg.Log.File,
	})
	return nil
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	if err := a.cfg.ValidateStore(); err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "httpsnap",
		Short:         "Capture HTTP transactions and share them as viewer links",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "init", "encode", "decode":
				return nil
			}
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable verbose output")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug output")

	root.AddCommand(newInitCmd())
	root.AddCommand(newFetchCmd(a))
	root.AddCommand(newImportCmd(a))
	root.AddCommand(newEncodeCmd())
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newShowCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newDeleteCmd(a))

	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.httpsnap directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseDir, err := config.Dir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "httpsnap.db")
			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", dbPath)
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{Use: "serve", Short: "Start the local viewer", RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("host") {
			a.cfg.Server.Host = host
		}
		if cmd.Flags().Changed("port") {
			a.cfg.Server.Port = port
		}
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		srv, err := server.New(a.cfg, st, a.logger)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(a.cfg.Addr())
	}}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", 4280, "server port")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{Use: "list", Short: "List all sessions", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		sessions, err := st.ListSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSOURCE\tLABEL\tHOST\tCAPTURES\tSTATUS\tCREATED")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Source, s.Label, s.Host, s.CaptureCount, s.Status, s.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	}}
}

func newShowCmd(a *app) *cobra.Command {
	var session, captureID string
	cmd := &cobra.Command{Use: "show", Short: "Show session details or one capture", RunE: func(cmd *cobra.Command, args []string) error {
		if session == "" && captureID == "" {
			return errors.New("one of --session or --capture is required")
		}
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		out := cmd.OutOrStdout()

		if captureID != "" {
			c, err := st.GetCapture(captureID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, c.Rendered)
			return nil
		}

		sess, err := st.GetSession(session)
		if err != nil {
			return err
		}
		caps, err := st.GetCaptures(sess.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s  %s  %s  (%d captures)\n", sess.ID, sess.Source, sess.Host, sess.Status, sess.CaptureCount)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tID\tMETHOD\tPATH\tSTATUS\tMS\tREQ BODY\tRESP BODY")
		for _, c := range caps {
			status := fmt.Sprint(c.StatusCode)
			if c.Failed {
				status = "failed"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n", c.Seq, c.ID, c.Method, c.Path, status, c.DurationMs, c.RequestBodyState, c.ResponseBodyState)
		}
		return tw.Flush()
	}}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&captureID, "capture", "", "capture id; prints the rendered snapshot")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var session, outDir string
	var formats []string
	cmd := &cobra.Command{Use: "export", Short: "Export a session as markdown and/or OpenAPI", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		sess, err := st.GetSession(session)
		if err != nil {
			return err
		}
		caps, err := st.GetCaptures(sess.ID)
		if err != nil {
			return err
		}
		dir := filepath.Join(outDir, sess.ID)
		for _, f := range formats {
			switch strings.ToLower(strings.TrimSpace(f)) {
			case "markdown", "md":
				err = report.RenderMarkdown(sess, caps, dir, a.cfg.Viewer.BaseURL)
			case "openapi":
				if err = report.RenderOpenAPI(sess, caps, dir); err == nil {
					for _, problem := range report.ValidateOpenAPI(filepath.Join(dir, "openapi.yaml")) {
						a.logger.Warn("openapi validation", "problem", problem)
					}
				}
			default:
				err = fmt.Errorf("unknown format %q", f)
			}
			if err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "exported to", dir)
		return nil
	}}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&outDir, "out", "./output", "output directory")
	cmd.Flags().StringSliceVar(&formats, "format", []string{"markdown", "openapi"}, "formats to write (markdown, openapi)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{Use: "delete", Short: "Delete session", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.DeleteSession(session); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", session)
		return nil
	}}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
