// ABOUTME: Entry point for almond-gateway, the Almond assistant conversation server
// ABOUTME: Provides serve, init, bootstrap, health, converse and authorize commands

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/almond-gateway/internal/config"
	"github.com/2389/almond-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _                           _
  __ _| |_ __ ___   ___  _ __   __| |
 / _' | | '_ ' _ \ / _ \| '_ \ / _' |
| (_| | | | | | | | (_) | | | | (_| |
 \__,_|_|_| |_| |_|\___/|_| |_|\__,_|  gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: ALMOND_CONFIG env var > XDG_CONFIG_HOME/almond/gateway.yaml > ~/.config/almond/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ALMOND_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "almond", "gateway.yaml")
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

// getTokenPath returns where bootstrap saves the owner token.
func getTokenPath() string {
	return filepath.Join(filepath.Dir(getConfigPath()), "token")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: almond-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the gateway server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  bootstrap --name NAME  Create initial principal and token")
		fmt.Println("  health                 Check gateway health")
		fmt.Println("  converse TEXT          Send one utterance to the assistant")
		fmt.Println("  authorize              Print the Almond authorization URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "converse":
		err = runConverse(ctx, os.Args[2:])
	case "authorize":
		err = runAuthorize()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Almond:    %s (%s)\n", cfg.Almond.Host, cfg.Almond.Type)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API authentication disabled (no auth.jwt_secret)")
	}

	fmt.Println()

	logger.Info("starting almond-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"almond_type", cfg.Almond.Type,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := gatewayURL(cfg) + "/health/ready"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// converseArgs is the parsed command line of the converse command.
type converseArgs struct {
	conversationID string
	text           string
}

func parseConverseArgs(args []string) (converseArgs, error) {
	var out converseArgs
	var words []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--conversation" || arg == "-c":
			if i+1 >= len(args) {
				return out, fmt.Errorf("--conversation requires a value")
			}
			out.conversationID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--conversation="):
			out.conversationID = strings.TrimPrefix(arg, "--conversation=")
		case arg == "--":
			words = append(words, args[i+1:]...)
			i = len(args)
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			return out, fmt.Errorf("unknown flag: %s", arg)
		default:
			words = append(words, arg)
		}
	}

	out.text = strings.TrimSpace(strings.Join(words, " "))
	if out.text == "" {
		return out, fmt.Errorf("usage: almond-gateway converse [--conversation ID] TEXT")
	}
	return out, nil
}

// runConverse sends one utterance through the running gateway's HTTP API.
// The bearer token comes from ALMOND_TOKEN or the file written by bootstrap.
func runConverse(ctx context.Context, args []string) error {
	parsed, err := parseConverseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	body, err := json.Marshal(gateway.ProcessRequest{
		Text:           parsed.text,
		ConversationID: parsed.conversationID,
		Frontend:       "cli",
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL(cfg)+"/api/conversation/process", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := loadToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, e.Error)
	}

	var out gateway.ProcessResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Println(out.Speech)
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "conversation: %s\n", out.ConversationID)
	return nil
}

// runAuthorize prints the URL that starts the OAuth2 flow for an oauth2 entry.
func runAuthorize() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Almond.Type != config.TypeOAuth2 {
		return fmt.Errorf("almond.type is %q; authorization is only needed for oauth2", cfg.Almond.Type)
	}

	fmt.Println("Open this URL in a browser to connect your Almond account:")
	fmt.Println()
	color.New(color.FgCyan).Printf("  %s%s\n", gatewayURL(cfg), config.AuthorizePath)
	fmt.Println()
	fmt.Printf("Almond will redirect back to %s\n", cfg.Almond.RedirectURL)
	return nil
}

// gatewayURL returns the base URL the gateway is reachable on.
func gatewayURL(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimSuffix(cfg.Server.BaseURL, "/")
	}
	return "http://" + cfg.Server.HTTPAddr
}

func loadToken() string {
	if token := os.Getenv("ALMOND_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(getTokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
