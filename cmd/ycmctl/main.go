// Package main is the ycmctl command line client for a ycmd server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/pretty"
	"golang.org/x/term"

	"github.com/dshills/ycmd/internal/config"
	"github.com/dshills/ycmd/internal/logging"
	"github.com/dshills/ycmd/internal/ycmd"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		logLevel   string
		line       int
		col        int
		newName    string
		apply      bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.IntVar(&line, "line", 1, "1-based line number")
	flag.IntVar(&col, "col", 1, "1-based byte column number")
	flag.StringVar(&newName, "rename-to", "", "New name for the rename command")
	flag.BoolVar(&apply, "apply", false, "Apply the first fix-it and print the result")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ycmctl - command line client for a ycmd code-intelligence server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: ycmctl [options] <command> [file]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  serve               Keep a server session running until interrupted\n")
		fmt.Fprintf(os.Stderr, "  health              Check that the server starts and responds\n")
		fmt.Fprintf(os.Stderr, "  complete <file>     Completion candidates at -line/-col\n")
		fmt.Fprintf(os.Stderr, "  goto <file>         Definition target at -line/-col\n")
		fmt.Fprintf(os.Stderr, "  type <file>         Type of the expression at -line/-col\n")
		fmt.Fprintf(os.Stderr, "  doc <file>          Documentation for the symbol at -line/-col\n")
		fmt.Fprintf(os.Stderr, "  fixit <file>        Fix-its at -line/-col (use -apply to apply)\n")
		fmt.Fprintf(os.Stderr, "  rename <file>       Rename the symbol at -line/-col to -rename-to\n")
		fmt.Fprintf(os.Stderr, "  parse <file>        Parse the file and print diagnostics\n")
		fmt.Fprintf(os.Stderr, "  debug <file>        Server debug report for the file's completer\n")
		fmt.Fprintf(os.Stderr, "  version             Show version information\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return 2
	}
	command := flag.Arg(0)

	if command == "version" {
		fmt.Printf("ycmctl %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading configuration: %v\n", err)
		return 1
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Output: os.Stderr,
		Prefix: "ycmctl",
	})

	client := ycmd.New(cfg,
		ycmd.WithLogger(log),
		ycmd.WithPrompter(terminalPrompter{}),
	)

	if command == "serve" {
		if err := serve(client, configPath, log); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
		client.Close()
	}()

	if err := client.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: starting server: %v\n", err)
		return 1
	}
	defer client.Close()

	if err := dispatch(ctx, client, command, line, col, newName, apply); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// serve keeps a server session alive until interrupted. When a config
// file is given its changes restart the session with the new settings.
func serve(client *ycmd.Client, configPath string, log *logging.Logger) error {
	ctx := context.Background()
	if err := client.Open(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	// client is reassigned on restart; close whichever is current.
	defer func() { client.Close() }()
	log.Info("session running; press ctrl-c to stop")

	restart := make(chan config.Config, 1)
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(cfg config.Config) {
			select {
			case restart <- cfg:
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("watching %s: %w", configPath, err)
		}
		defer watcher.Close()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-signals:
			return nil
		case cfg := <-restart:
			log.Info("configuration changed, restarting session")
			client.Close()
			client = ycmd.New(cfg,
				ycmd.WithLogger(log),
				ycmd.WithPrompter(terminalPrompter{}),
			)
			if err := client.Open(ctx); err != nil {
				return fmt.Errorf("restarting server: %w", err)
			}
		}
	}
}

func dispatch(ctx context.Context, client *ycmd.Client, command string, line, col int, newName string, apply bool) error {
	if command == "health" {
		if err := client.Healthy(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}

	if flag.NArg() < 2 {
		return fmt.Errorf("%s requires a file argument", command)
	}
	path, err := openFile(ctx, client, flag.Arg(1))
	if err != nil {
		return err
	}

	switch command {
	case "complete":
		res, err := client.Completions(ctx, path, line, col)
		if err != nil {
			return err
		}
		for _, c := range res.Completions {
			if c.Kind != "" {
				fmt.Printf("%s\t%s\n", c.InsertionText, c.Kind)
			} else {
				fmt.Println(c.InsertionText)
			}
		}
		return nil

	case "goto":
		locs, err := client.GoTo(ctx, path, line, col)
		if err != nil {
			return err
		}
		for _, loc := range locs {
			fmt.Printf("%s:%d:%d\n", loc.FilePath, loc.LineNum, loc.ColumnNum)
		}
		return nil

	case "type":
		msg, err := client.GetType(ctx, path, line, col)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil

	case "doc":
		msg, err := client.GetDoc(ctx, path, line, col)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil

	case "fixit":
		fixits, err := client.FixIts(ctx, path, line, col)
		if err != nil {
			return err
		}
		if len(fixits) == 0 {
			fmt.Println("no fix-its available")
			return nil
		}
		if apply {
			if err := client.ApplyFixIt(fixits[0]); err != nil {
				return err
			}
			buf, _ := client.Buffer(path)
			fmt.Print(buf.Contents())
			return nil
		}
		for i, f := range fixits {
			fmt.Printf("%d: %s (%d chunks)\n", i+1, f.Text, len(f.Chunks))
		}
		return nil

	case "rename":
		if newName == "" {
			return errors.New("rename requires -rename-to")
		}
		fixits, err := client.RefactorRename(ctx, path, line, col, newName)
		if err != nil {
			return err
		}
		for _, f := range fixits {
			for _, c := range f.Chunks {
				fmt.Printf("%s:%d:%d -> %q\n",
					c.Range.Start.FilePath, c.Range.Start.LineNum, c.Range.Start.ColumnNum, c.ReplacementText)
			}
		}
		return nil

	case "parse":
		// openFile already parsed the file and printed its diagnostics.
		fmt.Println(client.ParseStatus(path))
		return nil

	case "debug":
		res, err := client.DebugInfo(ctx, path)
		if err != nil {
			return err
		}
		printJSON(res.Payload)
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// openFile loads a file into a buffer, registers it, and waits for the
// initial parse so semantic requests are not refused as busy.
func openFile(ctx context.Context, client *ycmd.Client, arg string) (string, error) {
	path, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	buf := ycmd.NewLineBuffer(path, filetypesFor(path), string(data))
	if err := client.OpenBuffer(buf); err != nil {
		return "", err
	}

	parsed := make(chan ycmd.ParseResult, 1)
	client.OnParseResult(func(r ycmd.ParseResult) {
		if r.FilePath == path {
			select {
			case parsed <- r:
			default:
			}
		}
	})
	if err := client.NotifyReady(ctx, path); err != nil {
		return "", err
	}

	select {
	case r := <-parsed:
		for _, d := range r.Diagnostics {
			fmt.Fprintf(os.Stderr, "%s:%d:%d: %s: %s\n",
				d.Location.FilePath, d.Location.LineNum, d.Location.ColumnNum,
				strings.ToLower(d.Kind), d.Text)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return path, nil
}

// filetypesFor maps a file extension to server filetype identifiers.
func filetypesFor(path string) []string {
	switch filepath.Ext(path) {
	case ".go":
		return []string{"go"}
	case ".c", ".h":
		return []string{"c"}
	case ".cc", ".cpp", ".cxx", ".hpp":
		return []string{"cpp"}
	case ".py":
		return []string{"python"}
	case ".js":
		return []string{"javascript"}
	case ".ts":
		return []string{"typescript"}
	case ".rs":
		return []string{"rust"}
	default:
		return []string{"general"}
	}
}

// printJSON pretty-prints a raw JSON payload to stdout.
func printJSON(payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	os.Stdout.Write(pretty.Pretty(payload))
}

// terminalPrompter asks on the controlling terminal whether to trust an
// extra-conf file. Without a terminal it declines.
type terminalPrompter struct{}

func (terminalPrompter) ConfirmExtraConf(path string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "ignoring extra configuration %s (no terminal to confirm)\n", path)
		return false, nil
	}

	fmt.Fprintf(os.Stderr, "Load extra configuration %s? [y/N] ", path)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
