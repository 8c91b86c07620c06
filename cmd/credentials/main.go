package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/infra/credentials"
)

const usage = `usage: credentials <add|list|remove> [-provider gemini|whisk] [-role default|upload|generation] [-token value]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	action := os.Args[1]

	fs := flag.NewFlagSet(action, flag.ExitOnError)
	providerFlag := fs.String("provider", string(domain.ProviderGemini), "credential provider")
	roleFlag := fs.String("role", "", "credential role (gemini uses default; whisk uses upload or generation)")
	tokenFlag := fs.String("token", "", "secret value (falls back to CREDENTIAL_TOKEN)")
	_ = fs.Parse(os.Args[2:])

	provider := domain.Provider(strings.ToLower(strings.TrimSpace(*providerFlag)))
	switch provider {
	case domain.ProviderGemini, domain.ProviderWhisk:
	default:
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", *providerFlag)
		os.Exit(2)
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(*roleFlag)))
	if role == "" {
		role = domain.RoleDefault
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "credentials").Str("provider", string(provider)).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "prepare table: %v\n", err)
		os.Exit(1)
	}

	token := strings.TrimSpace(*tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("CREDENTIAL_TOKEN"))
	}

	switch action {
	case "add":
		if token == "" {
			fmt.Fprintln(os.Stderr, "token is required via -token or CREDENTIAL_TOKEN")
			os.Exit(2)
		}
		if err := store.Add(ctx, provider, role, token); err != nil {
			fmt.Fprintf(os.Stderr, "add credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s/%s credential %s stored\n", provider, role, domain.Credential(token).Preview())
	case "remove":
		removed, err := store.Remove(ctx, provider, role, token)
		if err != nil {
			fmt.Fprintf(os.Stderr, "remove credential: %v\n", err)
			os.Exit(1)
		}
		if !removed {
			fmt.Fprintln(os.Stderr, "no matching credential")
			os.Exit(1)
		}
		fmt.Printf("%s/%s credential %s removed\n", provider, role, domain.Credential(token).Preview())
	case "list":
		records, err := store.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list credentials: %v\n", err)
			os.Exit(1)
		}
		for _, rec := range records {
			if rec.Provider != provider {
				continue
			}
			fmt.Printf("%s\t%s\t%s\n", rec.Provider, rec.Role, rec.Token.Preview())
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}
