// Command traceguard is the policy engine's CLI: three thin,
// single-purpose subcommands, each wired to one pkg/policy call, in the
// shape of the teacher's cmd/auditor, cmd/govexplain and cmd/approvals
// binaries (a flag.FlagSet per subcommand, a switch in main dispatching to
// a cmdXxx function, Fprintln(os.Stderr, ...)+os.Exit(1) on error).
//
//	traceguard check   <policy.trc> <trace.json>   batch analysis; exit 1 if any unhandled violation
//	traceguard explain <policy.trc> <trace.json>   like check, plus localization ranges and field dumps
//	traceguard monitor <policy.trc> <trace.json>   replay one event at a time, printing only new violations
package main

import (
	"fmt"
	"os"

	"traceguard/internal/logging"
)

func main() {
	args := logging.Init(os.Args[1:])

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	command, rest := args[0], args[1:]

	var err error
	switch command {
	case "check":
		err = cmdCheck(rest)
	case "explain":
		err = cmdExplain(rest)
	case "monitor":
		err = cmdMonitor(rest)
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "traceguard: unknown command %q\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "traceguard: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: traceguard <command> [flags] <policy.trc> <trace.json>

Commands:
  check    <policy.trc> <trace.json>   Run a policy once against a trace
  explain  <policy.trc> <trace.json>   Like check, with localization detail
  monitor  <policy.trc> <trace.json>   Replay the trace incrementally

Environment:
  TRACEGUARD_LOG_LEVEL    debug, info, warn, or error (default info)
  TRACEGUARD_REPORT_DSN   violation store DSN: a sqlite file path, or a
                          postgres://... URL (unset disables persistence)
  LOCAL_POLICY            1 forces local-heuristic detectors, bypassing
                          any LLM-backed detector (spec §6)
  ANTHROPIC_API_KEY       enables the LLM-backed detectors`)
}
