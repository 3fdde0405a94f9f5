package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"pawsistant/internal/config"
	"pawsistant/internal/embedding"
	"pawsistant/internal/helper"
	"pawsistant/internal/index"
	"pawsistant/internal/parser"
	"pawsistant/internal/rag"
	"pawsistant/internal/server"
)

const usage = `usage: pawsistant <command> [flags]

commands:
  ingest   load chunked_*.html files and build the index
  chat     interactive chat in the terminal
  serve    run the HTTP chat API
  query    print the chunks retrieved for a question
  export   write an encrypted snapshot of the index
  import   restore an index from an exported snapshot
  config   init | reset the config file
`

func main() {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "ingest":
		ingest(ctx, args)
	case "chat":
		chat(ctx, args)
	case "serve":
		serve(ctx, args)
	case "query":
		query(ctx, args)
	case "export":
		export(ctx, args)
	case "import":
		importCmd(ctx, args)
	case "config":
		configCmd(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)
	log.Debug().Str("path", path).Msg("Loaded config")
	return cfg
}

func newSettings(cfg *config.Config) index.Settings {
	device, err := embedding.ResolveDevice(cfg.Embedding.Device)
	if err != nil {
		log.Fatal().Err(err).Msg("Error selecting device")
	}
	embedder, err := embedding.NewEmbedder(&cfg.Embedding, device)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	return index.SettingsFromConfig(cfg, embedder)
}

func buildIndex(ctx context.Context, cfg *config.Config, chunkDir, path string) {
	chunks, err := parser.LoadChunks(chunkDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading chunks")
	}
	log.Info().Int("chunks", len(chunks)).Str("dir", chunkDir).Msg("Loaded chunks")

	idx, err := index.Build(ctx, newSettings(cfg), chunks, path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building index")
	}
	idx.Close()
}

// ensureIndex builds the index from the chunk directory when none exists yet.
func ensureIndex(ctx context.Context, cfg *config.Config, path string) {
	if index.Exists(path) {
		return
	}
	log.Info().Str("path", path).Msg("No index found, building one")
	buildIndex(ctx, cfg, cfg.Data.ChunkDir, path)
}

func ingest(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to the config file")
	dir := fs.String("dir", "", "Directory of chunked_*.html files (default from config)")
	path := fs.String("index", "", "Index directory (default from config)")
	dryRun := fs.Bool("dry-run", false, "Print the chunks, do not build the index")
	force := fs.Bool("force", false, "Rebuild even if the index exists")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *dir == "" {
		*dir = cfg.Data.ChunkDir
	}
	if *path == "" {
		*path = cfg.Index.Dir
	}

	if *dryRun {
		chunks, err := parser.LoadChunks(*dir)
		if err != nil {
			log.Fatal().Err(err).Msg("Error loading chunks")
		}
		helper.PrettyPrint(os.Stdout, chunks)
		log.Info().Int("chunks", len(chunks)).Msg("Dry run, index not built")
		return
	}

	if index.Exists(*path) && !*force {
		log.Info().Str("path", *path).Msg("Index already exists, use -force to rebuild")
		return
	}
	buildIndex(ctx, cfg, *dir, *path)
}

func chat(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to the config file")
	path := fs.String("index", "", "Index directory (default from config)")
	model := fs.String("model", "", "LLM provider: claude, gpt or ollama (default from config)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *path == "" {
		*path = cfg.Index.Dir
	}
	if *model != "" {
		cfg.LLM.Active = *model
	}
	ensureIndex(ctx, cfg, *path)

	engine, err := rag.CreateChatEngine(ctx, cfg, *path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating chat engine")
	}
	defer engine.Close()

	if err := rag.RunInteractive(ctx, engine, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Chat ended with error")
	}
}

func serve(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to the config file")
	addr := fs.String("addr", "", "Listen address (default from config)")
	path := fs.String("index", "", "Index directory (default from config)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *addr == "" {
		*addr = cfg.Server.Addr
	}
	if *path == "" {
		*path = cfg.Index.Dir
	}
	ensureIndex(ctx, cfg, *path)

	idx, err := index.Load(ctx, newSettings(cfg), *path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading index")
	}
	defer idx.Close()

	srv := server.New(cfg, idx, server.HostedModels(cfg))
	if err := srv.Run(ctx, *addr); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func query(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to the config file")
	path := fs.String("index", "", "Index directory (default from config)")
	q := fs.String("q", "", "Question to retrieve context for")
	k := fs.Int("k", 0, "Number of chunks (default from config)")
	fs.Parse(args)

	if strings.TrimSpace(*q) == "" {
		log.Fatal().Msg("Please provide a question using the -q flag")
	}
	cfg := loadConfig(*configPath)
	if *path == "" {
		*path = cfg.Index.Dir
	}
	if *k <= 0 {
		*k = cfg.Chat.TopK
	}

	idx, err := index.Load(ctx, newSettings(cfg), *path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading index")
	}
	defer idx.Close()

	matches, err := idx.Query(ctx, *q, *k)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", *q)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, m := range matches {
		fmt.Printf("[%.3f] %s\n%s\n\n", m.Similarity, m.Document.Source(), m.Document.Content)
	}
}

func export(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to the config file")
	path := fs.String("index", "", "Index directory (default from config)")
	out := fs.String("out", "", "Snapshot file to write (default <collection>.chromem in the working dir)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *path == "" {
		*path = cfg.Index.Dir
	}

	idx, err := index.Load(ctx, newSettings(cfg), *path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading index")
	}
	defer idx.Close()

	if *out == "" {
		if *out, err = idx.ExportPath("."); err != nil {
			log.Fatal().Err(err).Msg("Error exporting index")
		}
	}

	if err := idx.Export(ctx, *out); err != nil {
		log.Fatal().Err(err).Msg("Error exporting index")
	}
	log.Info().Str("file", *out).Msg("Exported index")
}

func importCmd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to the config file")
	path := fs.String("index", "", "Index directory (default from config)")
	in := fs.String("in", "", "Snapshot file written by export")
	fs.Parse(args)

	if *in == "" {
		log.Fatal().Msg("Please provide a snapshot using the -in flag")
	}
	cfg := loadConfig(*configPath)
	if *path == "" {
		*path = cfg.Index.Dir
	}

	idx, err := index.Import(ctx, newSettings(cfg), *in, *path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error importing index")
	}
	defer idx.Close()
	log.Info().Str("path", idx.Path()).Int("documents", idx.Manifest().Documents).Msg("Imported index")
}

func configCmd(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to the config file")
	fs.Parse(args)

	switch fs.Arg(0) {
	case "init":
		if _, err := os.Stat(*configPath); err == nil {
			log.Fatal().Str("path", *configPath).Msg("Config already exists, use reset to overwrite")
		}
		if err := config.Save(*configPath, config.Default()); err != nil {
			log.Fatal().Err(err).Msg("Error writing config")
		}
	case "reset":
		if err := config.Reset(*configPath); err != nil {
			log.Fatal().Err(err).Msg("Error resetting config")
		}
	default:
		log.Fatal().Msg("usage: pawsistant config [-config path] init|reset")
	}
	log.Info().Str("path", *configPath).Msg("Config written")
}
