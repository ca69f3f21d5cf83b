package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/postgres"
)

// keys manages service API keys.
//
// Usage:
//
//	keys init
//	keys create  --description "my-app" [--rate-limit 60] [--expires-in 720h]
//	keys revoke  --key <raw-key>
//	keys list
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	validator := apikey.NewValidator(db)
	ctx := context.Background()

	switch args[0] {
	case "init":
		cmdInit(ctx, validator, cfg.Auth)
	case "create":
		cmdCreate(ctx, validator, args[1:])
	case "revoke":
		cmdRevoke(ctx, validator, args[1:])
	case "list":
		cmdList(ctx, validator)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdInit(ctx context.Context, v *apikey.Validator, auth config.AuthConfig) {
	if auth.ServiceKey == "" {
		if err := v.EnsureSchema(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Tables created. SERVICE_API_KEY is not set, no default key added.")
		return
	}

	added, err := v.Bootstrap(ctx, auth.ServiceKey, auth.RateLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Tables created.")
	if added {
		fmt.Println("Default service API key has been added to the database.")
	} else {
		fmt.Println("Default service API key already exists.")
	}
}

func cmdCreate(ctx context.Context, v *apikey.Validator, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	description := fs.String("description", "", "what the key is for")
	rateLimit := fs.Int("rate-limit", 60, "requests per rate-limit window")
	expiresIn := fs.String("expires-in", "", "expiry duration, e.g. 720h (optional)")
	fs.Parse(args)

	if *description == "" {
		fmt.Fprintln(os.Stderr, "error: --description is required")
		os.Exit(1)
	}

	var expiresAt *time.Time
	if *expiresIn != "" {
		d, err := time.ParseDuration(*expiresIn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --expires-in: %v\n", err)
			os.Exit(1)
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	if err := v.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create schema: %v\n", err)
		os.Exit(1)
	}
	key, err := v.CreateKey(ctx, *description, *rateLimit, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("API key created. It cannot be retrieved again.")
	fmt.Println()
	fmt.Printf("  Key:         %s\n", key)
	fmt.Printf("  Description: %s\n", *description)
	fmt.Printf("  Rate Limit:  %d req/window\n", *rateLimit)
	if expiresAt != nil {
		fmt.Printf("  Expires:     %s\n", expiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("  Expires:     never")
	}
}

func cmdRevoke(ctx context.Context, v *apikey.Validator, args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	key := fs.String("key", "", "raw api key to revoke")
	fs.Parse(args)

	if *key == "" {
		fmt.Fprintln(os.Stderr, "error: --key is required")
		os.Exit(1)
	}

	if err := v.RevokeKey(ctx, *key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to revoke key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("API key revoked.")
}

func cmdList(ctx context.Context, v *apikey.Validator) {
	keys, err := v.ListKeys(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list keys: %v\n", err)
		os.Exit(1)
	}

	if len(keys) == 0 {
		fmt.Println("No active API keys.")
		return
	}

	fmt.Printf("%-8s  %-30s  %-10s  %s\n", "ID", "Description", "Rate Limit", "Expires")
	fmt.Println("--------  ------------------------------  ----------  -------------------------")
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-8s  %-30s  %-10d  %s\n", k.ID, k.Description, k.RateLimit, expires)
	}
	fmt.Printf("\nTotal: %d active key(s)\n", len(keys))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: keys <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  init     Create the api_keys table and add SERVICE_API_KEY")
	fmt.Fprintln(os.Stderr, "  create   Create a new API key")
	fmt.Fprintln(os.Stderr, "  revoke   Revoke an existing API key")
	fmt.Fprintln(os.Stderr, "  list     List all active API keys")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, `  keys init`)
	fmt.Fprintln(os.Stderr, `  keys create --description "partner app" --rate-limit 120 --expires-in 720h`)
	fmt.Fprintln(os.Stderr, `  keys revoke --key "qa_abc123..."`)
	fmt.Fprintln(os.Stderr, `  keys list`)
}
