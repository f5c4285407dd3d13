// ABOUTME: First-run commands for almond-gateway: interactive init and bootstrap
// ABOUTME: Writes the config file, creates the first API principal and its token

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/almond-gateway/internal/auth"
	"github.com/2389/almond-gateway/internal/config"
	"github.com/2389/almond-gateway/internal/store"
)

// bootstrapTokenTTL is how long the token minted by bootstrap stays valid.
const bootstrapTokenTTL = 30 * 24 * time.Hour

// parseNameFlag reads --name from the bootstrap arguments.
// Supports both "--name value" and "--name=value" formats.
func parseNameFlag(args []string) (string, error) {
	var displayName string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return "", fmt.Errorf("--name requires a value")
			}
			displayName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			displayName = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "-n="):
			displayName = strings.TrimPrefix(arg, "-n=")
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return "", fmt.Errorf("--name flag is required")
	}
	if len(displayName) > 100 {
		return "", fmt.Errorf("display name exceeds maximum length of 100 characters")
	}
	return displayName, nil
}

// generateSecret returns a random base64 JWT secret.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// writeBootstrapConfig writes a minimal config for a locally installed Almond.
func writeBootstrapConfig(path, dbPath, jwtSecret string) error {
	content := fmt.Sprintf(`# almond-gateway configuration
# Generated by almond-gateway bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

almond:
  # "local" talks to an Almond on this machine; switch to "oauth2" and
  # add client_id, client_secret and server.base_url for the hosted service.
  type: "local"
  host: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret, config.DefaultLocalHost)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// createOwner creates the first principal and signs a token for it.
// It refuses to run once any principal exists.
func createOwner(ctx context.Context, principals store.PrincipalStore, verifier *auth.JWTVerifier, displayName string) (*store.Principal, string, error) {
	count, err := principals.CountPrincipals(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("checking principals: %w", err)
	}
	if count > 0 {
		return nil, "", fmt.Errorf("bootstrap already complete: %d principal(s) exist", count)
	}

	p := &store.Principal{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		Status:      store.PrincipalStatusApproved,
		CreatedAt:   time.Now().UTC(),
	}
	if err := principals.CreatePrincipal(ctx, p); err != nil {
		return nil, "", fmt.Errorf("creating principal: %w", err)
	}

	token, err := verifier.Generate(p.ID, bootstrapTokenTTL)
	if err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	return p, token, nil
}

// runBootstrap performs first-time setup of the gateway:
// it creates the config (with a random JWT secret) if missing,
// then the first principal and a token for CLI tools and frontends.
func runBootstrap(ctx context.Context, args []string) error {
	displayName, err := parseNameFlag(args)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dbPath := filepath.Join(getDataPath(), "gateway.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secret, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		if err := writeBootstrapConfig(configPath, dbPath, secret); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	principal, token, err := createOwner(ctx, s, verifier, displayName)
	if err != nil {
		return err
	}
	green.Printf("  ✓ Created principal: %s\n", displayName)

	tokenPath := getTokenPath()
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Principal")
	cyan.Println("  ---------")
	fmt.Printf("  ID:           %s\n", principal.ID)
	fmt.Printf("  Display Name: %s\n", principal.DisplayName)
	fmt.Printf("  Status:       %s\n", principal.Status)
	fmt.Printf("  Token:        %s (expires %s)\n", tokenPath, time.Now().Add(bootstrapTokenTTL).Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    almond-gateway serve             # start the gateway")
	fmt.Println("    almond-gateway converse hello    # say hello to Almond")
	if cfg.Almond.Type == config.TypeOAuth2 {
		fmt.Println("    almond-gateway authorize         # connect your Almond account")
	}
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("almond-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "External base URL (needed for oauth2)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Almond Configuration ---")
	almondType := strings.ToLower(prompt(reader, "Almond type (oauth2/local)", config.TypeLocal))
	var host, clientID, clientSecret string
	switch almondType {
	case config.TypeOAuth2:
		host = prompt(reader, "Almond host", config.DefaultOAuth2Host)
		clientID = prompt(reader, "OAuth2 client ID", "")
		clientSecret = prompt(reader, "OAuth2 client secret", "${ALMOND_CLIENT_SECRET}")
	case config.TypeLocal:
		host = prompt(reader, "Almond host", config.DefaultLocalHost)
	default:
		return fmt.Errorf("almond type must be oauth2 or local, got %q", almondType)
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "almond-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# almond-gateway configuration\n")
	cfg.WriteString("# Generated by almond-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	if baseURL != "" {
		cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("almond:\n")
	cfg.WriteString(fmt.Sprintf("  type: %q\n", almondType))
	cfg.WriteString(fmt.Sprintf("  host: %q\n", host))
	if almondType == config.TypeOAuth2 {
		cfg.WriteString(fmt.Sprintf("  client_id: %q\n", clientID))
		cfg.WriteString(fmt.Sprintf("  client_secret: %q\n", clientSecret))
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("http_client:\n")
	cfg.WriteString("  timeout: \"60s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// May contain the OAuth2 client secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  almond-gateway bootstrap --name \"Your Name\"   # enable API auth")
	fmt.Println("  almond-gateway serve")

	return nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
