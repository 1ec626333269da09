package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/modelbench/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		cmdTUI(nil)
		return
	}

	switch os.Args[1] {
	case "tui":
		cmdTUI(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "compare":
		cmdCompare(os.Args[2:])
	case "estimate":
		cmdEstimate(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	case "keys":
		cmdKeys(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "config-import":
		cmdConfigImport(os.Args[2:])
	case "install-service":
		cmdInstallService()
	case "uninstall-service":
		cmdUninstallService()
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: modelbench [command] [options]

Commands:
  tui                Open the interactive comparer (default)
  serve              Run the JSON API server
  stop               Stop a running server
  status             Show server status and the last day's totals
  compare            Send a prompt to the selected models and print the results
  estimate           Print the token count and per-model prompt cost
  history            List past comparisons (history show <id>, history clear)
  keys               Manage the API key (status|set|delete)
  init-config        Generate default config file
  config-export      Export current config to a TOML file
  config-import      Import config from a TOML file
  install-service    Install the server as a launchd user agent (macOS)
  uninstall-service  Remove the launchd user agent
  version            Print version information
  help               Show this help message

Options:
  --config <file>    Use an explicit config file (all commands that load config)
  --foreground, -f   Log to the console as well (with 'serve')
  --models a,b       Compare only these model ids (with 'compare'); updates the saved selection
  --json             Print JSON instead of text (with 'compare', 'estimate', 'history')

The prompt for 'compare' and 'estimate' is taken from the arguments, or from
stdin when none are given.`)
}
