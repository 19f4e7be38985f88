package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/whisperprint/internal/api"
	"github.com/hazyhaar/whisperprint/internal/auth"
	"github.com/hazyhaar/whisperprint/internal/config"
	"github.com/hazyhaar/whisperprint/internal/db"
	"github.com/hazyhaar/whisperprint/internal/engine"
	"github.com/hazyhaar/whisperprint/internal/llm"
	"github.com/hazyhaar/whisperprint/internal/mcp"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "fingerprint":
		cmdFingerprint(os.Args[2:])
	case "identify":
		cmdIdentify(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "version":
		fmt.Printf("whisperprint %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`whisperprint — invisible document fingerprinting

Usage:
  whisperprint serve [--config config.toml] [--addr :8080]
  whisperprint fingerprint --recipient ID [--config config.toml] [--in FILE] [--out FILE]
  whisperprint identify [--config config.toml] [--in FILE]
  whisperprint mcp [--config config.toml]
  whisperprint version
  whisperprint help

Commands:
  serve        Start the HTTP server
  fingerprint  Mark a document for a recipient (reads stdin unless --in)
  identify     Trace a leaked document back to its recipient
  mcp          Serve the MCP tools over stdio
  version      Print version
  help         Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	eng := newEngine(cfg, database)
	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
	apiHandler := api.New(eng, database, a, version)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	log.Printf("whisperprint %s listening on %s", version, cfg.Server.Addr)
	log.Printf("database: %s", cfg.Database.Path)

	if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdFingerprint(args []string) {
	fs := flag.NewFlagSet("fingerprint", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	recipient := fs.String("recipient", "", "recipient identifier (required)")
	inPath := fs.String("in", "", "input file (default stdin)")
	outPath := fs.String("out", "", "output file (default stdout)")
	fs.Parse(args)

	if *recipient == "" {
		log.Fatal("--recipient is required")
	}

	_, database, eng := setup(*configPath)
	defer database.Close()

	text := readInput(*inPath)
	doc, err := eng.CreateFingerprintedDocument(context.Background(), text, *recipient, "", "cli")
	if err != nil {
		log.Fatalf("fingerprinting: %v", err)
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(doc.MarkedText), 0o644); err != nil {
			log.Fatalf("writing output: %v", err)
		}
	} else {
		fmt.Print(doc.MarkedText)
	}
	fmt.Fprintf(os.Stderr, "fingerprinted for %s (token %s)\n", *recipient, doc.IdentityToken)
}

func cmdIdentify(args []string) {
	fs := flag.NewFlagSet("identify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	inPath := fs.String("in", "", "input file (default stdin)")
	fs.Parse(args)

	_, database, eng := setup(*configPath)
	defer database.Close()

	text := readInput(*inPath)
	match, err := eng.IdentifyLeakedDocument(context.Background(), text, "cli")
	if err != nil {
		log.Fatalf("identifying: %v", err)
	}
	if match == nil {
		fmt.Println("no recipient identified")
		os.Exit(1)
	}
	fmt.Printf("recipient: %s (via %s)\n", match.RecipientID, match.Via)
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	_, database, eng := setup(*configPath)
	defer database.Close()

	srv := mcp.NewServer(eng)
	if err := srv.Run(context.Background(), &sdkmcp.StdioTransport{}); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

func setup(configPath string) (*config.Config, *db.DB, *engine.Engine) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	return cfg, database, newEngine(cfg, database)
}

func newEngine(cfg *config.Config, database *db.DB) *engine.Engine {
	opts := []engine.Option{engine.WithVariantCount(cfg.LLM.ParaphraseVariants)}
	if client := llm.NewFromConfig(cfg.LLM); len(client.Providers()) > 0 {
		opts = append(opts, engine.WithParaphraser(client))
	}
	return engine.New(database, opts...)
}

func readInput(path string) string {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("reading input: %v", err)
		}
		return string(data)
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatalf("reading stdin: %v", err)
	}
	return string(data)
}
