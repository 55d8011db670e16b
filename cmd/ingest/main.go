package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"LimedAI/models"
	"LimedAI/pkg/config"
	"LimedAI/pkg/embedding"
	"LimedAI/pkg/logger"
	"LimedAI/pkg/textutil"
	"LimedAI/pkg/vector"

	"gopkg.in/yaml.v3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type manifest struct {
	Textbooks []manifestEntry `yaml:"textbooks"`
}

type manifestEntry struct {
	Title       string `yaml:"title"`
	Author      string `yaml:"author"`
	Description string `yaml:"description"`
	TextFile    string `yaml:"textFile"`
	IndexPath   string `yaml:"indexPath"`
}

func (e manifestEntry) validate() error {
	if e.Title == "" {
		return fmt.Errorf("title is required")
	}
	if e.TextFile == "" {
		return fmt.Errorf("textbook %q: textFile is required", e.Title)
	}
	if e.IndexPath == "" {
		return fmt.Errorf("textbook %q: indexPath is required", e.Title)
	}
	return nil
}

func openDB() (*gorm.DB, error) {
	switch config.DBDriver {
	case "mysql":
		return gorm.Open(mysql.Open(config.DBDSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(config.DBDSN), &gorm.Config{})
	}
}

func main() {
	manifestPath := flag.String("manifest", "textbooks.yaml", "path to the textbook catalog manifest")
	fragmentSize := flag.Int("fragment-size", 480, "fragment length in runes")
	flag.Parse()

	zlog, err := logger.New(config.IsStaging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		zlog.Fatalw("read manifest failed", "path", *manifestPath, "err", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		zlog.Fatalw("parse manifest failed", "path", *manifestPath, "err", err)
	}
	if len(m.Textbooks) == 0 {
		zlog.Fatalw("manifest lists no textbooks", "path", *manifestPath)
	}

	db, err := openDB()
	if err != nil {
		zlog.Fatalw("failed to connect database", "driver", config.DBDriver, "err", err)
	}
	if err := db.AutoMigrate(&models.Textbook{}); err != nil {
		zlog.Fatalw("failed migrate", "err", err)
	}

	var embedder embedding.Embedder
	if config.IsGeminiEnabled && config.GeminiAPIKey != "" {
		embedder = embedding.NewGeminiEmbedder(config.GeminiAPIKey, config.GeminiEmbedModel, config.EmbeddingDimensions)
	} else {
		embedder = embedding.NewMockEmbedder(config.EmbeddingDimensions)
		zlog.Warnw("gemini disabled, indexing with mock embeddings")
	}

	ctx := context.Background()
	for _, entry := range m.Textbooks {
		if err := entry.validate(); err != nil {
			zlog.Fatalw("invalid manifest entry", "err", err)
		}
		if err := ingest(ctx, db, embedder, entry, *fragmentSize); err != nil {
			zlog.Fatalw("ingest failed", "title", entry.Title, "err", err)
		}
		zlog.Infow("textbook ingested", "title", entry.Title, "index", entry.IndexPath)
	}
}

// ingest cleans the source text, slices it into fragments, embeds them and
// writes the index, then upserts the catalog row by title.
func ingest(ctx context.Context, db *gorm.DB, embedder embedding.Embedder, entry manifestEntry, fragmentSize int) error {
	raw, err := os.ReadFile(entry.TextFile)
	if err != nil {
		return fmt.Errorf("read text file: %w", err)
	}
	clean := textutil.Clean(string(raw))
	chunks := textutil.Split(clean, fragmentSize)
	if len(chunks) == 0 {
		return fmt.Errorf("text file %q is empty after cleaning", entry.TextFile)
	}

	fragments := make([]vector.Fragment, len(chunks))
	var offset int64
	for i, chunk := range chunks {
		fragments[i] = vector.Fragment{Text: chunk, SourceOffset: offset}
		offset += int64(len(chunk))
	}

	vectors, err := embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed fragments: %w", err)
	}

	index, err := vector.NewIndex(embedder.Dimensions())
	if err != nil {
		return err
	}
	if err := index.Add(fragments, vectors); err != nil {
		return err
	}
	if err := index.Save(entry.IndexPath); err != nil {
		return fmt.Errorf("save index: %w", err)
	}

	book := models.Textbook{
		Title:           entry.Title,
		Author:          entry.Author,
		Description:     entry.Description,
		VectorIndexPath: entry.IndexPath,
		TextFilePath:    entry.TextFile,
	}
	var existing models.Textbook
	err = db.Where("title = ?", entry.Title).First(&existing).Error
	switch {
	case err == nil:
		book.ID = existing.ID
		return db.Save(&book).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return db.Create(&book).Error
	default:
		return err
	}
}
