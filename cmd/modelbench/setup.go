package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/allaspectsdev/modelbench/internal/config"
	"github.com/allaspectsdev/modelbench/internal/daemon"
)

// cliFlags are the options shared by the subcommands. Unrecognised
// arguments are returned as positional args.
type cliFlags struct {
	configPath string
	foreground bool
	asJSON     bool
	models     []string
	limit      int
	args       []string
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--foreground" || a == "-f":
			f.foreground = true
		case a == "--json":
			f.asJSON = true
		case a == "--config" || a == "--models" || a == "--limit":
			if i+1 >= len(args) {
				return f, fmt.Errorf("%s requires a value", a)
			}
			i++
			if err := f.set(a, args[i]); err != nil {
				return f, err
			}
		case strings.HasPrefix(a, "--config=") || strings.HasPrefix(a, "--models=") || strings.HasPrefix(a, "--limit="):
			name, val, _ := strings.Cut(a, "=")
			if err := f.set(name, val); err != nil {
				return f, err
			}
		case a == "--":
			f.args = append(f.args, args[i+1:]...)
			return f, nil
		default:
			f.args = append(f.args, a)
		}
	}
	return f, nil
}

func (f *cliFlags) set(name, val string) error {
	switch name {
	case "--config":
		f.configPath = val
	case "--models":
		for _, id := range strings.Split(val, ",") {
			if id = strings.TrimSpace(id); id != "" {
				f.models = append(f.models, id)
			}
		}
	case "--limit":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid --limit %q", val)
		}
		f.limit = n
	}
	return nil
}

func mustParseFlags(args []string) cliFlags {
	f, err := parseFlags(args)
	if err != nil {
		fatalf("%v", err)
	}
	return f
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("error loading config: %v", err)
	}
	return cfg
}

// promptText joins args, or reads stdin when there are none.
func promptText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdServe(args []string) {
	f := mustParseFlags(args)
	cfg := loadConfig(f.configPath)
	if err := daemon.Run(cfg, f.foreground); err != nil {
		fatalf("error: %v", err)
	}
}

func cmdStop() {
	cfg := loadConfig("")
	if err := daemon.Stop(cfg); err != nil {
		fatalf("error stopping server: %v", err)
	}
	fmt.Println("modelbench stopped")
}

func cmdStatus() {
	cfg := loadConfig("")
	if err := daemon.Status(cfg); err != nil {
		fatalf("%v", err)
	}
}

func cmdInitConfig() {
	path, err := config.InitConfig()
	if err != nil {
		fatalf("error generating config: %v", err)
	}
	fmt.Printf("Config written to %s\n", path)
}

func cmdInstallService() {
	cfg := loadConfig("")
	if err := daemon.InstallService(cfg.Server.DataDir); err != nil {
		fatalf("error installing service: %v", err)
	}
	fmt.Println("Service installed successfully")
}

func cmdUninstallService() {
	if err := daemon.UninstallService(); err != nil {
		fatalf("error removing service: %v", err)
	}
	fmt.Println("Service removed")
}

func cmdConfigExport(args []string) {
	path := "modelbench-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	loadConfig("")
	if err := config.ExportConfig(path); err != nil {
		fatalf("error exporting config: %v", err)
	}
	fmt.Printf("Config exported to %s\n", path)
}

func cmdConfigImport(args []string) {
	if len(args) == 0 {
		fatalf("usage: modelbench config-import <file>")
	}
	loadConfig("")
	if err := config.ImportConfig(args[0]); err != nil {
		fatalf("error importing config: %v", err)
	}
	fmt.Printf("Config imported from %s\n", args[0])
}
