package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/AnneHtowardshaway/rust-study/pkg/evaluator"
)

const cliToolVersion = "rust-study 0.0.0-dev"

type cliOptions struct {
	trace bool
	quiet bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	opts, remaining, err := parseGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(remaining) == 0 {
		printUsage()
		return 1
	}

	switch remaining[0] {
	case "--help", "-h", "help":
		printUsage()
		return 0
	case "--version", "-V", "version":
		fmt.Fprintln(os.Stdout, cliToolVersion)
		return 0
	case "run":
		return runLesson(remaining[1:], opts, false)
	case "check":
		return runLesson(remaining[1:], opts, true)
	case "lower":
		return runLower(remaining[1:], opts)
	case "repl":
		return runRepl(remaining[1:], opts)
	case "lessons":
		return runLessons(remaining[1:], opts)
	default:
		if looksLikePathCandidate(remaining[0]) {
			return runLesson(remaining, opts, false)
		}
		fmt.Fprintf(os.Stderr, "unknown command %q\n", remaining[0])
		printUsage()
		return 1
	}
}

// parseGlobalFlags pulls --trace and --quiet out of args wherever they appear
// before a `--` separator.
func parseGlobalFlags(args []string) (cliOptions, []string, error) {
	var opts cliOptions
	remaining := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			remaining = append(remaining, args[i+1:]...)
			break
		}
		switch {
		case arg == "--trace":
			opts.trace = true
		case arg == "--quiet" || arg == "-q":
			opts.quiet = true
		case strings.HasPrefix(arg, "--trace=") || strings.HasPrefix(arg, "--quiet="):
			return opts, nil, fmt.Errorf("%s does not take a value", arg[:strings.IndexByte(arg, '=')])
		default:
			remaining = append(remaining, arg)
		}
	}
	return opts, remaining, nil
}

// evaluatorOptions wires --trace to a console logger on stderr.
func (o cliOptions) evaluatorOptions() []evaluator.Option {
	if !o.trace {
		return nil
	}
	return []evaluator.Option{evaluator.WithLogger(newTraceLogger(os.Stderr))}
}

func newTraceLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true, PartsExclude: []string{zerolog.TimestampFieldName}}).
		Level(zerolog.TraceLevel)
}
