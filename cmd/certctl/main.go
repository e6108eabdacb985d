// certctl is the operational CLI for the certmint service. Every subcommand
// except migrate talks to the HTTP API with an API key; migrate connects to
// PostgreSQL directly so the schema can be applied before the server starts.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"certmint/internal/platform/config"
	"certmint/internal/platform/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	subcommand := os.Args[1]
	args := os.Args[2:]
	switch subcommand {
	case "issue":
		return runIssue(ctx, args)
	case "verify":
		return runVerify(ctx, args)
	case "search":
		return runSearch(ctx, args)
	case "deactivate":
		return runDeactivate(ctx, args)
	case "update-dates":
		return runUpdateDates(ctx, args)
	case "history":
		return runHistory(ctx, args)
	case "stats":
		return runStats(ctx, args)
	case "resync":
		return runResync(ctx, args)
	case "purge-history":
		return runPurgeHistory(ctx, args)
	case "migrate":
		return runMigrate(ctx, args)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: certctl <subcommand> [flags]

Subcommands:
  issue          Issue a certificate for a domain
  verify         Check a certificate against its validity window
  search         Find certificates by domain substring or tax-id
  deactivate     Deactivate an active certificate
  update-dates   Amend a certificate's validity window
  history        Show a certificate's audit trail
  stats          Show issuance statistics
  resync         Rebuild the JSON artifact mirror
  purge-history  Delete audit entries older than a retention window
  migrate        Apply the database schema

Server subcommands read CERTMINT_SERVER and CERTMINT_API_KEY when --server
and --api-key are not set.

Run 'certctl <subcommand> --help' for subcommand flags.
`)
}

// connFlags registers the connection flags shared by every server
// subcommand.
func connFlags(flags *flag.FlagSet) (server, apiKey *string) {
	server = flags.String("server", envOr("CERTMINT_SERVER", "http://localhost:8080"), "base URL of the certmint server")
	apiKey = flags.String("api-key", os.Getenv("CERTMINT_API_KEY"), "API key as principal:secret")
	return server, apiKey
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func runIssue(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("issue", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	var (
		domain    string
		taxID     string
		validFrom string
		validTo   string
		users     int
	)
	flags.StringVar(&domain, "domain", "", "domain the certificate covers (required)")
	flags.StringVar(&taxID, "tax-id", "", "10 or 12 digit tax number (required)")
	flags.StringVar(&validFrom, "valid-from", "", "first valid day, YYYY-MM-DD (required)")
	flags.StringVar(&validTo, "valid-to", "", "last valid day, YYYY-MM-DD (required)")
	flags.IntVar(&users, "users", 0, "licensed user count (required)")
	flags.Parse(args)

	if domain == "" || taxID == "" || validFrom == "" || validTo == "" || users == 0 {
		flags.Usage()
		return fmt.Errorf("--domain, --tax-id, --valid-from, --valid-to, and --users are required")
	}

	body := map[string]any{
		"domain":     domain,
		"taxId":      taxID,
		"validFrom":  validFrom,
		"validTo":    validTo,
		"usersCount": users,
	}
	var out map[string]any
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodPost, "/api/v1/certificates", body, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runVerify(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("verify", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	flags.Parse(args)

	id := flags.Arg(0)
	if id == "" {
		flags.Usage()
		return fmt.Errorf("certificate id argument required")
	}

	var out map[string]any
	path := "/api/v1/certificates/" + url.PathEscape(id) + "/verify"
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodPost, path, nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runSearch(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("search", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	var (
		domain     string
		taxID      string
		activeOnly bool
	)
	flags.StringVar(&domain, "domain", "", "domain substring to match")
	flags.StringVar(&taxID, "tax-id", "", "exact tax number to match")
	flags.BoolVar(&activeOnly, "active-only", false, "only return active certificates")
	flags.Parse(args)

	if (domain == "") == (taxID == "") {
		flags.Usage()
		return fmt.Errorf("exactly one of --domain or --tax-id is required")
	}

	query := url.Values{}
	if domain != "" {
		query.Set("domain", domain)
	} else {
		query.Set("taxId", taxID)
	}
	if activeOnly {
		query.Set("activeOnly", "true")
	}

	var out map[string]any
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodGet, "/api/v1/certificates?"+query.Encode(), nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runDeactivate(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("deactivate", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	flags.Parse(args)

	id := flags.Arg(0)
	if id == "" {
		flags.Usage()
		return fmt.Errorf("certificate id argument required")
	}

	var out map[string]any
	path := "/api/v1/certificates/" + url.PathEscape(id) + "/deactivate"
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodPost, path, nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runUpdateDates(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("update-dates", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	var (
		validFrom string
		validTo   string
	)
	flags.StringVar(&validFrom, "valid-from", "", "new first valid day, YYYY-MM-DD (required)")
	flags.StringVar(&validTo, "valid-to", "", "new last valid day, YYYY-MM-DD (required)")
	flags.Parse(args)

	id := flags.Arg(0)
	if id == "" {
		flags.Usage()
		return fmt.Errorf("certificate id argument required")
	}
	if validFrom == "" || validTo == "" {
		flags.Usage()
		return fmt.Errorf("--valid-from and --valid-to are required")
	}

	body := map[string]any{
		"validFrom": validFrom,
		"validTo":   validTo,
	}
	var out map[string]any
	path := "/api/v1/certificates/" + url.PathEscape(id) + "/dates"
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodPatch, path, body, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runHistory(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("history", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	flags.Parse(args)

	id := flags.Arg(0)
	if id == "" {
		flags.Usage()
		return fmt.Errorf("certificate id argument required")
	}

	var out map[string]any
	path := "/api/v1/certificates/" + url.PathEscape(id) + "/history"
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runStats(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("stats", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	flags.Parse(args)

	var out map[string]any
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runResync(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("resync", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	flags.Parse(args)

	var out map[string]any
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodPost, "/api/v1/admin/resync", nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runPurgeHistory(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("purge-history", flag.ExitOnError)
	server, apiKey := connFlags(flags)
	retention := flags.Duration("retention", 0, "delete audit entries older than this, e.g. 2160h (required)")
	flags.Parse(args)

	if *retention <= 0 {
		flags.Usage()
		return fmt.Errorf("--retention is required")
	}

	query := url.Values{}
	query.Set("retention", retention.String())

	var out map[string]any
	if err := newAPIClient(*server, *apiKey).call(ctx, http.MethodPost, "/api/v1/admin/history/purge?"+query.Encode(), nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runMigrate(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	var dsn string
	flags.StringVar(&dsn, "dsn", os.Getenv("CERTMINT_POSTGRES_DSN"), "PostgreSQL connection string")
	flags.Parse(args)

	if dsn == "" {
		flags.Usage()
		return fmt.Errorf("--dsn or CERTMINT_POSTGRES_DSN is required")
	}

	db, err := postgres.Open(config.PostgresConfig{DSN: dsn})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	fmt.Println("schema up to date")
	return nil
}
