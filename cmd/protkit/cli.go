package main

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/db"
	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/ops"
	"github.com/hpungsan/protkit/internal/sequence"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
	"github.com/hpungsan/protkit/internal/web"
)

// maxInputBytes bounds sequence input read from stdin.
const maxInputBytes = 4 << 20

// env carries the dependencies shared by all commands.
type env struct {
	db     *sql.DB
	cfg    *config.Config
	runner *ops.Runner
}

// SlotView is one slot in command output.
type SlotView struct {
	Slot  int        `json:"slot"`
	Input string     `json:"input"`
	Task  tasks.Task `json:"task"`
}

// SessionView is the state of a session after a command.
type SessionView struct {
	Session  string             `json:"session"`
	Mode     string             `json:"mode"`
	Slots    []SlotView         `json:"slots"`
	Counts   tasks.Counts       `json:"counts"`
	Cycle    *ops.ProcessOutput `json:"cycle,omitempty"`
	Analysis *session.Analysis  `json:"analysis,omitempty"`
}

// sessionFlag returns the --session flag shared by the session commands.
func sessionFlag() cli.Flag {
	return &cli.StringFlag{Name: "session", Aliases: []string{"s"}, Value: session.DefaultName, Usage: "Session name"}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config) *cli.App {
	e := &env{db: db, cfg: cfg}

	app := &cli.App{
		Name:    "protkit",
		Usage:   "Protein property calculator and structure prediction sessions",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "Log prediction protocol steps to stderr"},
		},
		Before: func(c *cli.Context) error {
			var logger *log.Logger
			if c.Bool("verbose") {
				logger = log.New(os.Stderr, "protkit: ", log.LstdFlags)
			}
			e.runner = ops.NewRunner(e.cfg, logger)
			return nil
		},
		Commands: []*cli.Command{
			normalizeCmd(),
			analyzeCmd(e),
			addCmd(e),
			setCmd(e),
			removeCmd(e),
			listCmd(e),
			clearCmd(e),
			exampleCmd(e),
			importCmd(e),
			predictCmd(e),
			processCmd(e),
			statusCmd(e),
			affinityCmd(e),
			bindingCmd(e),
			downloadCmd(e),
			bundleCmd(e),
			exportCmd(e),
			sessionsCmd(e),
			serveCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// normalizeCmd creates the normalize command.
func normalizeCmd() *cli.Command {
	return &cli.Command{
		Name:      "normalize",
		Usage:     "Normalize protein input to one-letter residues (reads stdin when no argument)",
		ArgsUsage: "[input]",
		Action: func(c *cli.Context) error {
			raw, err := inputArg(c, 0)
			if err != nil {
				return outputError(err)
			}
			seq := sequence.Normalize(raw)
			return outputJSON(map[string]any{
				"sequence":  seq,
				"length":    len(seq),
				"accession": sequence.IsAccession(seq),
			})
		},
	}
}

// analyzeCmd creates the analyze command.
func analyzeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Compute protein properties for one input (reads stdin when no argument)",
		ArgsUsage: "[input]",
		Action: func(c *cli.Context) error {
			raw, err := inputArg(c, 0)
			if err != nil {
				return outputError(err)
			}
			out, err := ops.Analyze(c.Context, e.runner, raw)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// addCmd creates the add command.
func addCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add a sequence slot (empty slot when no input is given)",
		ArgsUsage: "[input]",
		Flags:     []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			raw := ""
			if c.NArg() > 0 || stdinHasData() {
				var err error
				if raw, err = inputArg(c, 0); err != nil {
					return outputError(err)
				}
			}
			return e.runSession(c, func(s *session.State) error {
				if raw == "" {
					s.AppendEmpty()
				} else {
					s.AddSequence(raw)
				}
				return nil
			})
		},
	}
}

// setCmd creates the set command.
func setCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Replace the input of a slot",
		ArgsUsage: "<slot> [input]",
		Flags:     []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			idx, err := slotArg(c)
			if err != nil {
				return outputError(err)
			}
			raw, err := inputArg(c, 1)
			if err != nil {
				return outputError(err)
			}
			return e.runSession(c, func(s *session.State) error {
				return s.SetSequence(idx, raw)
			})
		},
	}
}

// removeCmd creates the remove command.
func removeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a slot (the first slot cannot be removed)",
		ArgsUsage: "<slot>",
		Flags:     []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			idx, err := slotArg(c)
			if err != nil {
				return outputError(err)
			}
			return e.runSession(c, func(s *session.State) error {
				return s.RemoveSequence(idx)
			})
		},
	}
}

// listCmd creates the list command.
func listCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Show the slots of a session after processing pending predictions",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			return e.runSession(c, nil)
		},
	}
}

// clearCmd creates the clear command.
func clearCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Reset a session to one empty slot",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			return e.runSession(c, func(s *session.State) error {
				s.Clear()
				return nil
			})
		},
	}
}

// exampleCmd creates the example command.
func exampleCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "example",
		Usage: "Add human insulin as an example sequence",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			return e.runSession(c, func(s *session.State) error {
				s.AddSequence(sequence.ExampleInsulin)
				return nil
			})
		},
	}
}

// importCmd creates the import command.
func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Add every record of a FASTA file as a slot",
		ArgsUsage: "<path>",
		Flags:     []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("path is required"))
			}
			var out *ops.ImportOutput
			_, _, err := e.cycle(c, func(s *session.State) error {
				var err error
				out, err = ops.ImportFASTA(s, e.cfg, ops.ImportInput{Path: c.Args().First()})
				return err
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// predictCmd creates the predict command.
func predictCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "Submit one slot, or all slots, and run the predictions",
		ArgsUsage: "[slot]",
		Flags:     []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			all := c.NArg() == 0
			idx := 0
			if !all {
				var err error
				if idx, err = slotArg(c); err != nil {
					return outputError(err)
				}
			}
			return e.runSession(c, func(s *session.State) error {
				if all {
					_, err := ops.SubmitAll(s)
					return err
				}
				_, err := ops.Submit(s, idx)
				return err
			})
		},
	}
}

// processCmd creates the process command.
func processCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Run the predictions still pending in a session",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			_, out, err := e.cycle(c, nil)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show stored slot status without running predictions",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			name := c.String("session")
			if err := session.ValidateName(name); err != nil {
				return outputError(err)
			}
			s, err := db.GetSession(c.Context, e.db, session.NormalizeName(name))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(e.view(s, nil))
		},
	}
}

// affinityCmd creates the affinity command.
func affinityCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "affinity",
		Usage: "Similarity matrix over the predicted slots of a session",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			s, _, err := e.cycle(c, nil)
			if err != nil {
				return outputError(err)
			}
			out, err := ops.Affinity(s)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// bindingCmd creates the binding command.
func bindingCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "binding",
		Usage:     "Simulated binding affinity of two inputs",
		ArgsUsage: "<input1> <input2>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return outputError(errors.NewInvalidRequest("binding takes exactly two inputs"))
			}
			out, err := ops.Binding(c.Context, e.runner, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// downloadCmd creates the download command.
func downloadCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Write the predicted structure of a slot to a file",
		ArgsUsage: "<slot>",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output path (default: ~/.protkit/exports/<session>-<structure>)"},
		},
		Action: func(c *cli.Context) error {
			idx, err := slotArg(c)
			if err != nil {
				return outputError(err)
			}
			s, _, err := e.cycle(c, nil)
			if err != nil {
				return outputError(err)
			}
			out, err := ops.ExportStructure(s, e.cfg, ops.ExportInput{Path: c.String("output"), Slot: idx})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// bundleCmd creates the bundle command.
func bundleCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "bundle",
		Usage: "Write all predicted structures of a session to one file",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "pdb", Usage: "Bundle format: pdb|mmcif"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output path (default: ~/.protkit/exports/<session>-<bundle>)"},
		},
		Action: func(c *cli.Context) error {
			s, _, err := e.cycle(c, nil)
			if err != nil {
				return outputError(err)
			}
			out, err := ops.ExportBundle(s, e.cfg, ops.ExportInput{Path: c.String("output"), Format: c.String("format")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write properties and prediction status to an .xlsx workbook",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output path (default: ~/.protkit/exports/<session>-report-<time>.xlsx)"},
		},
		Action: func(c *cli.Context) error {
			var out *ops.ExportOutput
			_, _, err := e.cycle(c, func(s *session.State) error {
				var err error
				out, err = ops.ExportWorkbook(c.Context, e.runner, s, ops.ExportInput{Path: c.String("output")})
				return err
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// sessionsCmd creates the sessions command.
func sessionsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List stored sessions, or delete one",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "delete", Usage: "Delete the named session"},
		},
		Action: func(c *cli.Context) error {
			if name := c.String("delete"); name != "" {
				name = session.NormalizeName(name)
				if err := db.DeleteSession(c.Context, e.db, name); err != nil {
					return outputError(err)
				}
				return outputJSON(map[string]any{"deleted": true, "session": name})
			}
			items, err := db.ListSessions(c.Context, e.db)
			if err != nil {
				return outputError(err)
			}
			if items == nil {
				items = []db.SessionSummary{}
			}
			return outputJSON(map[string]any{"items": items})
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Port"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 1 || port > 65535 {
				return outputError(errors.NewInvalidRequest("port must be between 1 and 65535"))
			}
			srv := web.NewServer(e.db, e.cfg, e.runner, Version, c.String("bind"), port)
			if err := web.Run(srv); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// cycle runs one interaction cycle on the session named by --session.
func (e *env) cycle(c *cli.Context, fn func(s *session.State) error) (*session.State, *ops.ProcessOutput, error) {
	s, out, err := ops.Cycle(c.Context, e.db, e.runner, c.String("session"), fn)
	if err != nil {
		return nil, nil, err
	}
	return s, &out, nil
}

// runSession runs one cycle and prints the resulting session.
func (e *env) runSession(c *cli.Context, fn func(s *session.State) error) error {
	s, out, err := e.cycle(c, fn)
	if err != nil {
		return outputError(err)
	}
	return outputJSON(e.view(s, out))
}

func (e *env) view(s *session.State, out *ops.ProcessOutput) SessionView {
	s.Sync()
	v := SessionView{
		Session:  s.Name,
		Mode:     e.runner.Mode(),
		Slots:    make([]SlotView, len(s.Sequences)),
		Counts:   s.Tasks.Counts(),
		Cycle:    out,
		Analysis: s.Analysis,
	}
	for i, raw := range s.Sequences {
		task, _ := s.Tasks.Get(i)
		v.Slots[i] = SlotView{Slot: i, Input: raw, Task: task}
	}
	return v
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	pErr := errors.As(err)
	return cli.Exit(fmt.Sprintf("[%s] %s", pErr.Code, pErr.Message), 1)
}

// slotArg parses the first positional argument as a slot index.
func slotArg(c *cli.Context) (int, error) {
	if c.NArg() == 0 {
		return 0, errors.NewInvalidRequest("slot index is required")
	}
	idx, err := strconv.Atoi(c.Args().First())
	if err != nil || idx < 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid slot index %q", c.Args().First()))
	}
	return idx, nil
}

// inputArg returns the positional arguments from index i joined by
// newlines, or stdin when there are none.
func inputArg(c *cli.Context, i int) (string, error) {
	if args := c.Args().Slice(); len(args) > i {
		return strings.Join(args[i:], "\n"), nil
	}
	if !stdinHasData() {
		return "", errors.NewInvalidRequest("input is required as an argument or on stdin")
	}
	return readStdin(maxInputBytes)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("input exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}
