package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/httpsnap/internal/capture"
	"github.com/yourorg/httpsnap/internal/encode"
	"github.com/yourorg/httpsnap/internal/filter"
	"github.com/yourorg/httpsnap/internal/har"
	"github.com/yourorg/httpsnap/internal/store"
	"github.com/yourorg/httpsnap/internal/viewer"
	"github.com/yourorg/httpsnap/pkg/types"
)

func newFetchCmd(a *app) *cobra.Command {
	var method, data, label string
	var headers []string
	var save, showBody, noFilter bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Perform one request through the capture transport and print its viewer link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			u, err := url.Parse(target)
			if err != nil || u.Host == "" {
				return fmt.Errorf("invalid url %q", target)
			}

			opts := []viewer.Option{viewer.WithLogger(a.logger), viewer.WithSanitize(a.cfg.Sanitize)}
			if save {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				sess, err := st.CreateSession(types.SourceLive, label, u.Host)
				if err != nil {
					return err
				}
				defer func() { _ = st.UpdateSessionStatus(sess.ID, store.StatusClosed) }()
				opts = append(opts, viewer.WithStore(st, sess.ID))
			}
			mgr := viewer.New(a.cfg.Viewer, opts...)
			transport := &capture.Transport{
				Manager:      mgr,
				MaxBodyBytes: a.cfg.Capture.MaxBodyBytes,
			}
			if !noFilter {
				transport.Skip = filter.SkipFunc(a.cfg.Filter)
			}
			client := &http.Client{Transport: transport}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			var body io.Reader
			if data != "" {
				body = strings.NewReader(data)
			}
			req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, body)
			if err != nil {
				return err
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, want Name: value", h)
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			out := cmd.OutOrStdout()
			resp, doErr := client.Do(req)
			if doErr == nil {
				if showBody {
					_, _ = io.Copy(out, resp.Body)
					fmt.Fprintln(out)
				} else {
					_, _ = io.Copy(io.Discard, resp.Body)
				}
				_ = resp.Body.Close()
			}

			switch e := mgr.Last(); {
			case e == nil:
				a.logger.Warn("nothing captured", "url", target)
			case e.URL != "":
				fmt.Fprintln(out, e.URL)
			default:
				fmt.Fprintln(out, e.Rendered)
			}
			return doErr
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "request method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header, Name: value (repeatable)")
	cmd.Flags().BoolVar(&save, "save", false, "store the capture in a new live session")
	cmd.Flags().StringVar(&label, "label", "", "session label when --save is set")
	cmd.Flags().BoolVar(&showBody, "body", false, "print the response body")
	cmd.Flags().BoolVar(&noFilter, "no-filter", false, "capture even requests the filter would skip")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var harPath, label string
	var noFilter bool
	cmd := &cobra.Command{Use: "import", Short: "Import HAR into database", RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := har.ParseRecords(harPath)
		if err != nil {
			return err
		}
		snaps := make([]*capture.Snapshot, len(recs))
		started := make(map[*capture.Snapshot]time.Time, len(recs))
		for i, r := range recs {
			snaps[i] = r.Snapshot
			started[r.Snapshot] = r.Started
		}
		if !noFilter {
			snaps = filter.Apply(snaps, a.cfg.Filter)
		}
		if len(snaps) == 0 {
			return errors.New("no entries left to import")
		}

		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		sess, err := st.CreateSession(types.SourceHAR, label, hostOf(snaps[0].RequestURL()))
		if err != nil {
			return err
		}
		mgr := viewer.New(a.cfg.Viewer,
			viewer.WithLogger(a.logger),
			viewer.WithSanitize(a.cfg.Sanitize),
			viewer.WithStore(st, sess.ID))
		for _, s := range snaps {
			mgr.LogAt(s, started[s])
		}

		stored, err := st.GetSession(sess.ID)
		if err != nil {
			return err
		}
		a.logger.Info("har imported", "file", harPath, "entries", len(recs), "kept", len(snaps), "stored", stored.CaptureCount)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d entries into %s\n", stored.CaptureCount, len(recs), sess.ID)
		return nil
	}}
	cmd.Flags().StringVar(&harPath, "har", "", "HAR file path")
	cmd.Flags().StringVar(&label, "label", "", "session label")
	cmd.Flags().BoolVar(&noFilter, "no-filter", false, "keep static assets and retried 5xx entries")
	_ = cmd.MarkFlagRequired("har")
	return cmd
}

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode [FILE]",
		Short: "Compress and URL-safe encode text from FILE or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			out, err := encode.Encode(in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode PAYLOAD|URL",
		Short: "Decode an encoded payload or viewer link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := args[0]
			if i := strings.Index(payload, viewer.RoutePrefix); i >= 0 {
				payload = payload[i+len(viewer.RoutePrefix):]
			}
			payload, _, _ = strings.Cut(payload, "?")
			out, err := encode.Decode(strings.TrimSpace(payload))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	b, err := os.ReadFile(args[0])
	return string(b), err
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
