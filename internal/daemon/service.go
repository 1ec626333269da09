package daemon

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const launchdLabel = "dev.allaspects.modelbench"

// launchdPlistTemplate runs `modelbench serve --foreground` as a macOS user
// agent.
const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ProgramPath}}</string>
        <string>serve</string>
        <string>--foreground</string>
    </array>

    <key>WorkingDirectory</key>
    <string>{{.DataDir}}</string>

    <key>KeepAlive</key>
    <true/>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.DataDir}}/modelbench.out.log</string>

    <key>StandardErrorPath</key>
    <string>{{.DataDir}}/modelbench.err.log</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>5</integer>
</dict>
</plist>
`

var plistTmpl = template.Must(template.New("plist").Parse(launchdPlistTemplate))

type plistData struct {
	Label       string
	ProgramPath string
	DataDir     string
}

func renderPlist(w io.Writer, programPath, dataDir string) error {
	return plistTmpl.Execute(w, plistData{
		Label:       launchdLabel,
		ProgramPath: programPath,
		DataDir:     dataDir,
	})
}

func plistPath(homeDir string) string {
	return filepath.Join(homeDir, "Library", "LaunchAgents", launchdLabel+".plist")
}

// InstallService writes a launchd plist for the API server to
// ~/Library/LaunchAgents and loads it with launchctl.
func InstallService(dataDir string) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("determining executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolving executable symlinks: %w", err)
	}

	path := plistPath(homeDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plist file %s: %w", path, err)
	}
	if err := renderPlist(f, execPath, dataDir); err != nil {
		f.Close()
		return fmt.Errorf("writing plist: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing plist file: %w", err)
	}
	fmt.Printf("Plist written to %s\n", path)

	_ = exec.Command("launchctl", "unload", path).Run()

	load := exec.Command("launchctl", "load", path)
	load.Stdout = os.Stdout
	load.Stderr = os.Stderr
	if err := load.Run(); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}

	fmt.Printf("Service %s loaded via launchctl\n", launchdLabel)
	return nil
}

// UninstallService unloads and removes the plist written by InstallService.
func UninstallService() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	path := plistPath(homeDir)

	_ = exec.Command("launchctl", "unload", path).Run()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist %s: %w", path, err)
	}
	return nil
}
