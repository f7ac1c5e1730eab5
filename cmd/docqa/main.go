package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/helper"
	"docqa/internal/llm"
	"docqa/internal/models"
	"docqa/internal/normalizer"
	"docqa/internal/rag"
	"docqa/internal/store"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	_ = godotenv.Load()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to a document file to ingest")
	ingestURL := flag.String("url", "", "URL of a page to ingest")
	query := flag.String("query", "", "Question to answer from the knowledge base")
	stream := flag.Bool("stream", false, "Stream the answer instead of waiting for the whole response")
	topK := flag.Int("topk", 0, "Override how many chunks to retrieve")
	list := flag.Bool("list", false, "List ingested sources")
	deleteID := flag.String("delete", "", "Delete the source with this id")
	clear := flag.Bool("clear", false, "Remove every source from the knowledge base")
	status := flag.Bool("status", false, "Show system status")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	ctx := context.Background()
	r := buildRAG(ctx, cfg)

	switch {
	case *filePath != "":
		ingestFile(ctx, r, *filePath)
	case *ingestURL != "":
		res, err := r.IngestURL(ctx, *ingestURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Error ingesting url")
		}
		fmt.Printf("Ingested %s as source %s (%d chunks)\n", *ingestURL, res.Source.ID, res.ChunkCount)
	case *query != "":
		answerQuery(ctx, r, *query, rag.QueryOptions{TopK: *topK}, *stream)
	case *list:
		infos, err := r.ListSources(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Error listing sources")
		}
		helper.PrettyPrint(infos)
	case *deleteID != "":
		removed, err := r.DeleteSource(ctx, *deleteID)
		if err != nil {
			log.Fatal().Err(err).Msg("Error deleting source")
		}
		if removed {
			fmt.Printf("Deleted source %s\n", *deleteID)
		} else {
			fmt.Printf("Source %s not found\n", *deleteID)
		}
	case *clear:
		removed, err := r.ClearKnowledgeBase(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Error clearing knowledge base")
		}
		fmt.Printf("Removed %d sources\n", removed)
	case *status:
		st, err := r.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Error fetching status")
		}
		helper.PrettyPrint(st)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func buildRAG(ctx context.Context, cfg *config.Config) *rag.RAG {
	var (
		s   store.Store
		err error
	)
	switch cfg.Store.Backend {
	case "postgres":
		s, err = store.NewPostgresStore(ctx, &cfg.Store)
	default:
		s, err = store.NewChromemStore(cfg.Store.Path, cfg.Store.Collection)
	}
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Error opening vector store")
	}

	embedder, err := embedding.NewOllamaGateway(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	generator, err := llm.NewOllamaClient(&cfg.GenLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing generation client")
	}

	return rag.NewRAG(s, embedder, generator, normalizer.New(cfg), cfg)
}

func ingestFile(ctx context.Context, r *rag.RAG, path string) {
	kind, err := normalizer.KindForName(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error detecting file type")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading file")
	}
	res, err := r.IngestFile(ctx, path, data, kind)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting file")
	}
	fmt.Printf("Ingested %s as source %s (%d chunks)\n", path, res.Source.ID, res.ChunkCount)
}

func answerQuery(ctx context.Context, r *rag.RAG, question string, opts rag.QueryOptions, streaming bool) {
	fmt.Printf("Question: %s\n\n", question)

	if streaming {
		stream, err := r.QueryStream(ctx, question, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("Error querying")
		}
		for frag := range stream.Fragments() {
			fmt.Print(frag)
		}
		if err := stream.Err(); err != nil {
			log.Fatal().Err(err).Msg("Error streaming answer")
		}
		fmt.Println()
		printCitations(stream.Citations)
		return
	}

	answer, err := r.Query(ctx, question, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}
	fmt.Printf("%s\n", answer.Text)
	printCitations(answer.Citations)
}

func printCitations(citations []models.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for _, c := range citations {
		fmt.Printf("  - %s (%s, similarity %.3f)\n", c.Name, c.SourceID, c.Similarity)
	}
}
