// ABOUTME: Entry point for the almond-matrix bridge
// ABOUTME: Connects Matrix rooms to the Almond assistant through almond-gateway

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

const banner = `
       _                           _                        _        _
  __ _| |_ __ ___   ___  _ __   __| |      _ __ ___   __ _| |_ _ __(_)_  __
 / _' | | '_ ' _ \ / _ \| '_ \ / _' |_____| '_ ' _ \ / _' | __| '__| \ \/ /
| (_| | | | | | | | (_) | | | | (_| |_____| | | | | | (_| | |_| |  | |>  <
 \__,_|_|_| |_| |_|\___/|_| |_|\__,_|     |_| |_| |_|\__,_|\__|_|  |_/_/\_\
`

// getConfigPath returns the path to the matrix bridge config file.
// Priority: ALMOND_MATRIX_CONFIG env var > XDG_CONFIG_HOME/almond/matrix-bridge.toml > ~/.config/almond/matrix-bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("ALMOND_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "matrix-bridge.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "almond", "matrix-bridge.toml")
}

// getDataPath returns the path to the almond data directory.
// Priority: XDG_DATA_HOME/almond > ~/.local/share/almond
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "almond")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	dataPath := getDataPath()

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Username:   %s\n", cfg.Matrix.Username)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:    %s\n", cfg.Gateway.URL)
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	if cfg.Gateway.Token == "" {
		yellow.Println("    ! gateway.token not set; the gateway must run without auth")
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Crypto setup needs the device ID from login
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" {
		cryptoMgr, err := SetupCrypto(ctx, bridge.matrix, bridge.UserID(), cfg.Matrix.RecoveryKey, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	logger.Info("starting bridge")
	return bridge.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()
	reader := bufio.NewReader(os.Stdin)

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	ask := func(question, defaultVal string) string {
		green.Print("    ▶ ")
		if defaultVal != "" {
			fmt.Printf("%s [%s]: ", question, defaultVal)
		} else {
			fmt.Printf("%s: ", question)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return defaultVal
		}
		return answer
	}

	homeserver := ask("Matrix homeserver URL", "https://matrix.org")
	username := ask("Matrix username", "")
	password := ask("Matrix password", "")
	recoveryKey := ask("Matrix recovery key (optional, for E2EE)", "")
	gatewayURL := ask("Gateway URL", "http://localhost:8080")
	token := ask("Gateway token (from almond-gateway bootstrap)", "${ALMOND_TOKEN}")
	prefix := ask("Command prefix (optional, e.g. '!almond ')", "")

	content := renderInitConfig(homeserver, username, password, recoveryKey, gatewayURL, token, prefix)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Start almond-gateway")
	fmt.Println("    2. Run: almond-matrix")
	fmt.Println()

	return nil
}

func renderInitConfig(homeserver, username, password, recoveryKey, gatewayURL, token, prefix string) string {
	var b strings.Builder
	b.WriteString("# almond-matrix bridge configuration\n")
	b.WriteString("# Generated by almond-matrix init\n\n")

	b.WriteString("[matrix]\n")
	fmt.Fprintf(&b, "homeserver = %q\n", homeserver)
	fmt.Fprintf(&b, "username = %q\n", username)
	fmt.Fprintf(&b, "password = %q\n", password)
	if recoveryKey != "" {
		fmt.Fprintf(&b, "recovery_key = %q\n", recoveryKey)
	}

	b.WriteString("\n[gateway]\n")
	fmt.Fprintf(&b, "url = %q\n", gatewayURL)
	if token != "" {
		fmt.Fprintf(&b, "token = %q\n", token)
	}
	b.WriteString("timeout = \"2m\"\n")

	b.WriteString("\n[bridge]\n")
	b.WriteString("# Only respond in these rooms (empty = all joined rooms)\n")
	b.WriteString("allowed_rooms = []\n")
	b.WriteString("# Require messages start with this prefix (empty = respond to all)\n")
	fmt.Fprintf(&b, "command_prefix = %q\n", prefix)
	b.WriteString("# Send typing indicator while Almond is thinking\n")
	b.WriteString("typing_indicator = true\n")

	b.WriteString("\n[logging]\n")
	b.WriteString("level = \"info\"\n")
	return b.String()
}
