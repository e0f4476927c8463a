package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-tracker/internal/categorize"
	"github.com/zombor/expense-tracker/internal/receipt"
	"github.com/zombor/expense-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("expense-tracker")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "expense-tracker.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./data", "Storage directory path")
		modelDir     = fs.StringLong("model-dir", "./models", "Directory holding the trained category classifier")
		categories   = fs.StringLong("categories", "", "YAML file with category keywords (defaults to the built-in set)")
		ocrEngine    = fs.StringLong("ocr-engine", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		tesseractCmd = fs.StringLong("tesseract-cmd", "", "Path to the tesseract binary (or set TESSERACT_CMD env var)")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		jwtSecret    = fs.StringLong("jwt-secret", "", "HS256 secret for bearer tokens (empty disables auth)")
		enableAI     = fs.BoolLongDefault("enable-ai-categorization", true, "Suggest categories for uploaded receipts")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize OCR engine based on type
	var engine scanning.Engine
	switch *ocrEngine {
	case "tesseract":
		cmd := *tesseractCmd
		if cmd == "" {
			cmd = os.Getenv("TESSERACT_CMD")
		}
		slog.Info("Initializing tesseract engine...", "cmd", cmd)
		engine = scanning.NewTesseract(cmd)
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini engine...", "model", *geminiModel)
		engine, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", *ollamaURL, "model", *ollamaModel)
		engine, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR engine", "engine", *ocrEngine, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	scanner := scanning.NewExtractor(scanning.NewPreprocessor(scanning.DefaultPreprocessOptions()), engine)
	defer scanner.Close()

	// Initialize classifier
	taxonomy := categorize.DefaultTaxonomy()
	if *categories != "" {
		taxonomy, err = categorize.LoadTaxonomy(*categories)
		if err != nil {
			slog.Error("Failed to load categories", "path", *categories, "error", err)
			os.Exit(1)
		}
	}
	classifier := categorize.NewHolder(categorize.Load(taxonomy, *modelDir))

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	expenseService := receipt.NewService(db, scanner, store, classifier, receipt.Options{
		ModelDir: *modelDir,
		EnableAI: *enableAI,
	})

	auth := receipt.NewAuthenticator(*jwtSecret)
	if !auth.Enabled() {
		slog.Warn("No JWT secret configured, all requests act as the local user", "user", receipt.LocalUser)
	}
	server := receipt.NewServer(expenseService, auth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
