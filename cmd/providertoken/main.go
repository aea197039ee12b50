package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"mediagen/internal/infra"
	"mediagen/internal/infra/credentials"
	"mediagen/internal/providers"
)

// keyEnv names the environment variable each provider's key falls back to.
var keyEnv = map[string]string{
	providers.ProviderGemini:    "GEMINI_API_KEY",
	providers.ProviderQwen:      "QWEN_API_KEY",
	providers.ProviderReplicate: "REPLICATE_API_TOKEN",
}

type tokenStore interface {
	SetToken(ctx context.Context, provider, token string, props map[string]any) error
}

func main() {
	_ = godotenv.Load()
	var (
		keyFlag      string
		providerFlag string
	)
	flag.StringVar(&keyFlag, "key", "", "API key for the selected provider (falls back to environment)")
	flag.StringVar(&providerFlag, "provider", providers.ProviderGemini, "provider to configure (gemini, qwen or replicate)")
	flag.Parse()

	provider, key, err := resolveKey(providerFlag, keyFlag, os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providertoken").Str("provider", provider).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if err := persist(ctx, store, provider, key); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s API key stored successfully\n", strings.ToUpper(provider))
}

func resolveKey(providerFlag, keyFlag string, getenv func(string) string) (string, string, error) {
	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	if provider == "" {
		provider = providers.ProviderGemini
	}
	env, ok := keyEnv[provider]
	if !ok {
		return "", "", fmt.Errorf("unsupported provider %q", providerFlag)
	}
	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(getenv(env))
	}
	if key == "" {
		return "", "", fmt.Errorf("%s API key is required via -key or %s", strings.ToUpper(provider), env)
	}
	return provider, key, nil
}

func persist(ctx context.Context, store tokenStore, provider, key string) error {
	props := map[string]any{"source": "cli", "stored_at": time.Now().UTC().Format(time.RFC3339)}
	if err := store.SetToken(ctx, provider, key, props); err != nil {
		return fmt.Errorf("failed to persist %s api key: %w", provider, err)
	}
	return nil
}
