package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"shopbot/internal/config"
)

const (
	launchdLabel = "com.shopbot.server"
	systemdUnit  = "shopbot.service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove shopbot serve as a user service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write the launchd plist or systemd unit that runs 'shopbot serve'",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			path, body, err := serviceFile(runtime.GOOS, execPath, config.ExpandPath(resolveConfigPath()))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service installed: %s\n%s", path, serviceHint(runtime.GOOS, path))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _, err := serviceFile(runtime.GOOS, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service uninstalled: %s\n", path)
			return nil
		},
	})
	return cmd
}

// serviceFile returns where the service definition lives on goos and its
// rendered contents.
func serviceFile(goos, execPath, cfgPath string) (string, string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	r := strings.NewReplacer(
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{LABEL}}", launchdLabel,
		"{{LOG}}", filepath.Join(home, ".shopbot", "logs", "shopbot.log"),
	)
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), r.Replace(launchdTemplate), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), r.Replace(systemdTemplate), nil
	default:
		return "", "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func serviceHint(goos, path string) string {
	if goos == "darwin" {
		return fmt.Sprintf("To start: launchctl load %s\nTo stop:  launchctl unload %s\n", path, path)
	}
	return "To start:  systemctl --user start shopbot\nTo enable: systemctl --user enable shopbot\n"
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=Shopbot product discovery API
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
