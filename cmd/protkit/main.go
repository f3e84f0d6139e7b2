package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/db"
	"github.com/hpungsan/protkit/internal/mcp"
	"github.com/hpungsan/protkit/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"normalize": true, "analyze": true,
	"add": true, "set": true, "remove": true, "list": true,
	"clear": true, "example": true, "import": true,
	"predict": true, "process": true, "status": true,
	"affinity": true, "binding": true,
	"download": true, "bundle": true, "export": true,
	"sessions": true, "serve": true,
	"help": true,
}

// commandArg returns the first argument after global flags.
func commandArg() string {
	for _, arg := range os.Args[1:] {
		if arg == "--verbose" {
			continue
		}
		return arg
	}
	return ""
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	arg := commandArg()
	if arg == "" {
		return false // No args → MCP server
	}
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	arg := commandArg()
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isVerbose reports whether --verbose appears before the command.
func isVerbose() bool {
	return len(os.Args) > 1 && os.Args[1] == "--verbose"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___  ___  ___ _____ _  _____ _____
  | _ \| _ \/ _ \_   _| |/ /_ _|_   _|
  |  _/|   / (_) || | | ' < | |  | |
  |_|  |_|_\\___/ |_| |_|\_\___| |_|

  Protein properties and structure predictions

  Usage: protkit <command> [options]
         protkit --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil)
		if err := app.RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".protkit")

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	// The working directory .env wins over ~/.protkit/.env
	if err := config.LoadDotEnv(cwd); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	db.ConfigurePool(database, cfg)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(database, cfg)
		if err := app.RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", commandArg())
		fmt.Fprintf(os.Stderr, "Run 'protkit --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown disabled_tools: %s (valid: %s)\n",
			strings.Join(unknown, ", "), strings.Join(mcp.AllToolNames(), ", "))
	}

	// Stdout carries the MCP protocol, so protocol logs go to stderr
	var logOut io.Writer = io.Discard
	if isVerbose() {
		logOut = os.Stderr
	}
	runner := ops.NewRunner(cfg, log.New(logOut, "protkit: ", log.LstdFlags))

	// MCP server mode (default)
	if err := mcp.Run(database, cfg, runner, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
