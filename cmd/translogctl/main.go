// Command translogctl is an operator-facing inspector for a translog
// directory: list generations, dump a snapshot as JSON lines, show current
// stats, or step through a snapshot interactively.
//
// Usage:
//
//	translogctl --dir <path> stats
//	translogctl --dir <path> list
//	translogctl --dir <path> dump
//	translogctl --dir <path> inspect
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/translog/pkg/fs"
	"github.com/calvinalkan/translog/pkg/translog"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "translogctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("translogctl", flag.ContinueOnError)
	flags.SetOutput(stderr)

	dir := flags.String("dir", "", "translog directory (required)")
	durability := flags.String("durability", "REQUEST", "durability policy: REQUEST or ASYNC")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if *dir == "" {
		return errors.New("--dir is required")
	}

	rest := flags.Args()
	if len(rest) == 0 {
		return errors.New("usage: translogctl --dir <path> {stats|list|dump|inspect}")
	}

	settings := translog.DefaultSettings()

	switch *durability {
	case "REQUEST":
		settings.Durability = translog.DurabilityRequest
	case "ASYNC":
		settings.Durability = translog.DurabilityAsync
	default:
		return fmt.Errorf("unrecognized --durability %q", *durability)
	}

	m, err := translog.Open(translog.ModeRecover, *dir, fs.NewReal(), translog.WithSettings(settings))
	if err != nil {
		return fmt.Errorf("opening %s: %w", *dir, err)
	}

	defer func() { _ = m.Close() }()

	switch rest[0] {
	case "stats":
		return cmdStats(m, stdout)
	case "list":
		return cmdList(*dir, stdout)
	case "dump":
		return cmdDump(m, stdout)
	case "inspect":
		return cmdInspect(m, stdout)
	default:
		return fmt.Errorf("unknown command: %s", rest[0])
	}
}

func cmdStats(m *translog.Manager, stdout io.Writer) error {
	s := m.Stats()

	fmt.Fprintf(stdout, "generation:              %d\n", s.Generation)
	fmt.Fprintf(stdout, "operations:               %d\n", s.NumOps)
	fmt.Fprintf(stdout, "size (bytes):             %d\n", s.SizeInBytes)
	fmt.Fprintf(stdout, "uncommitted operations:   %d\n", s.UncommittedOps)
	fmt.Fprintf(stdout, "uncommitted size (bytes): %d\n", s.UncommittedSizeInBytes)
	fmt.Fprintf(stdout, "oldest file age:          %s\n", s.EarliestLastModifiedAge)

	return nil
}

func cmdList(dir string, stdout io.Writer) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, e := range entries {
		fmt.Fprintln(stdout, e.Name())
	}

	return nil
}

// dumpRecord is the JSON-lines shape emitted by dump/inspect, describing an
// operation generically since [translog.Operation] has no exported fields.
type dumpRecord struct {
	Kind string `json:"kind"`
	Text string `json:"describe"`
}

func cmdDump(m *translog.Manager, stdout io.Writer) error {
	snap, err := m.NewSnapshot()
	if err != nil {
		return err
	}

	defer func() { _ = snap.Close() }()

	enc := json.NewEncoder(stdout)

	for {
		op, err := snap.Next()
		if errors.Is(err, translog.ErrSnapshotExhausted) {
			return nil
		}

		if err != nil {
			return err
		}

		if err := enc.Encode(dumpRecord{Kind: op.Kind().String(), Text: fmt.Sprintf("%v", op)}); err != nil {
			return err
		}
	}
}

// cmdInspect runs an interactive liner-based REPL that steps through a
// snapshot one operation at a time, in the spirit of the teacher's sloty
// REPL.
func cmdInspect(m *translog.Manager, stdout io.Writer) error {
	snap, err := m.NewSnapshot()
	if err != nil {
		return err
	}

	defer func() { _ = snap.Close() }()

	line := liner.NewLiner()
	defer func() { _ = line.Close() }()

	line.SetCtrlCAborts(true)

	fmt.Fprintln(stdout, "translogctl inspect - step through a snapshot one operation at a time")
	fmt.Fprintln(stdout, "commands: n/next, q/quit")

	for {
		input, err := line.Prompt("translogctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		cmd := strings.ToLower(strings.TrimSpace(input))
		line.AppendHistory(input)

		switch cmd {
		case "q", "quit", "exit":
			return nil
		case "n", "next", "":
			op, err := snap.Next()
			if errors.Is(err, translog.ErrSnapshotExhausted) {
				fmt.Fprintln(stdout, "(snapshot exhausted)")
				continue
			}

			if err != nil {
				return err
			}

			fmt.Fprintf(stdout, "%s: %v\n", op.Kind(), op)
		default:
			fmt.Fprintf(stdout, "unknown command: %s\n", cmd)
		}
	}
}
