/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cloudwego/ticketflow/internal/app"
	"github.com/cloudwego/ticketflow/internal/config"
	"github.com/cloudwego/ticketflow/internal/log"
	"github.com/cloudwego/ticketflow/internal/utils"
	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/cloudwego/ticketflow/llm/mcp"
	"github.com/cloudwego/ticketflow/version"
)

const Usage = `ticketflow <Action> [Flags]
Action:
   run          process one ticket given by --subject and --description
   samples      process the built-in sample tickets concurrently
   interactive  read tickets from stdin until 'quit'
   mcp          run as a MCP server exposing the resolve_ticket tool over stdio
   version      print the version of ticketflow
`

type options struct {
	config      string
	verbose     bool
	metricsAddr string
	parallel    int
	json        bool
	subject     string
	description string
}

func main() {
	flags := pflag.NewFlagSet("ticketflow", pflag.ExitOnError)

	var opts options
	flagHelp := flags.BoolP("help", "h", false, "Show help message.")
	flags.StringVarP(&opts.config, "config", "c", "", "Config file path (default: "+config.DefaultPath+" if present).")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose mode.")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090.")
	flags.IntVar(&opts.parallel, "parallel", 0, "Max tickets processed concurrently (default: workflow.parallelism).")
	flags.BoolVar(&opts.json, "json", false, "Print results as JSON.")
	flags.StringVarP(&opts.subject, "subject", "s", "", "Ticket subject (run).")
	flags.StringVarP(&opts.description, "description", "d", "", "Ticket description (run).")

	flags.Usage = func() {
		fmt.Fprint(os.Stderr, Usage)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		os.Exit(1)
	}
	action := strings.ToLower(os.Args[1])
	flags.Parse(os.Args[2:])
	if *flagHelp {
		flags.Usage()
		os.Exit(0)
	}

	if action == "version" {
		fmt.Fprintf(os.Stdout, "%s\n", version.Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, action, opts); err != nil {
		log.Error("%s failed: %v\n", action, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, action string, opts options) error {
	switch action {
	case "run", "samples", "interactive", "mcp":
	default:
		return fmt.Errorf("unknown action %q, see --help", action)
	}
	if action == "run" && (strings.TrimSpace(opts.subject) == "" || strings.TrimSpace(opts.description) == "") {
		return errors.New("--subject and --description are required")
	}

	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLogLevel(lvl)
	}
	if opts.verbose {
		log.SetLogLevel(log.DebugLevel)
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.parallel > 0 {
		cfg.Workflow.Parallelism = opts.parallel
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, a.Metrics.Handler())
		defer shutdown()
	}

	switch action {
	case "run":
		rec, err := a.Engine.Run(ctx, opts.subject, opts.description)
		if err != nil {
			return err
		}
		return printRecord(os.Stdout, rec, opts.json)

	case "samples":
		results, err := a.RunBatch(ctx, app.SampleTickets(), cfg.Workflow.Parallelism)
		for i, r := range results {
			fmt.Fprintf(os.Stdout, "\n=== Sample %d: %s ===\n", i+1, r.Ticket.Subject)
			if r.Err != nil {
				fmt.Fprintf(os.Stdout, "error: %v\n", r.Err)
				continue
			}
			if perr := printRecord(os.Stdout, r.Record, opts.json); perr != nil {
				return perr
			}
		}
		return err

	case "interactive":
		return interactive(ctx, a.Engine, os.Stdin, os.Stdout, opts.json)

	case "mcp":
		svr := mcp.NewServer(mcp.ServerOptions{
			ServerName:    "ticketflow",
			ServerVersion: version.Version,
			Verbose:       opts.verbose,
			Runner:        a.Engine,
		})
		return svr.ServeStdio()
	}
	return nil
}

func serveMetrics(addr string, h http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server: %v", err)
		}
	}()
	log.Info("serving metrics on %s/metrics", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func interactive(ctx context.Context, e *workflow.Engine, in io.Reader, out io.Writer, asJSON bool) error {
	scanner := bufio.NewScanner(in)
	ask := func(prompt string) (string, bool) {
		for {
			fmt.Fprint(out, prompt)
			if !scanner.Scan() {
				return "", false
			}
			line := strings.TrimSpace(scanner.Text())
			if strings.EqualFold(line, "quit") {
				return "", false
			}
			if line != "" {
				return line, true
			}
			fmt.Fprintln(out, "Please enter a value, or 'quit' to exit.")
		}
	}

	fmt.Fprintln(out, "Support ticket assistant. Type 'quit' to exit.")
	for ctx.Err() == nil {
		subject, ok := ask("Ticket Subject: ")
		if !ok {
			break
		}
		description, ok := ask("Ticket Description: ")
		if !ok {
			break
		}
		rec, err := e.Run(ctx, subject, description)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := printRecord(out, rec, asJSON); err != nil {
			return err
		}
	}
	fmt.Fprintln(out, "Goodbye!")
	return scanner.Err()
}

func printRecord(w io.Writer, rec *workflow.Record, asJSON bool) error {
	if asJSON {
		js, err := utils.MarshalJSONIndent(rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, js)
		return err
	}
	status := "RESOLVED"
	if rec.Escalated {
		status = "ESCALATED"
	}
	fmt.Fprintf(w, "Ticket:   %s\n", rec.TicketID)
	fmt.Fprintf(w, "Category: %s\n", rec.Category)
	fmt.Fprintf(w, "Status:   %s after %d attempt(s)\n", status, rec.AttemptCount)
	if rec.Errors.Any() {
		fmt.Fprintf(w, "Errors:   %s\n", strings.Join(rec.Errors.List(), "; "))
	}
	fmt.Fprintf(w, "\nResponse:\n%s\n", rec.FinalResponse)
	if rec.Escalated && rec.EscalationMessage != "" {
		fmt.Fprintf(w, "\nEscalation note:\n%s\n", rec.EscalationMessage)
	}
	return nil
}
