package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docqa/internal/config"
	"docqa/internal/models"
)

// PostgresStore backs the vector index with a pgvector table. Rows carry
// a global seq for the insertion-order tie-break; source and chunk writes
// share a transaction so readers never observe a partial source.
type PostgresStore struct {
	db         *bun.DB
	vectorSize int
}

type sourceRow struct {
	bun.BaseModel `bun:"table:sources,alias:s"`
	ID            string    `bun:"id,pk"`
	Name          string    `bun:"name,notnull"`
	Kind          string    `bun:"kind,notnull"`
	IngestedAt    time.Time `bun:"ingested_at,notnull"`
}

type chunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            string    `bun:"id,pk"`
	SourceID      string    `bun:"source_id,notnull"`
	Seq           int64     `bun:"seq,notnull"`
	StartOffset   int       `bun:"start_offset,notnull"`
	EndOffset     int       `bun:"end_offset,notnull"`
	Content       string    `bun:"content,notnull"`
	Embedding     string    `bun:"embedding,notnull"`
	Similarity    float32   `bun:"similarity,scanonly"`
}

// NewPostgresStore connects and creates the schema when missing.
func NewPostgresStore(ctx context.Context, cfg *config.StoreConfig) (*PostgresStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	s := &PostgresStore{db: db, vectorSize: cfg.VectorSize}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*sourceRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create sources table: %w", err)
	}
	// created by hand so the vector dimension follows configuration
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
		id text PRIMARY KEY,
		source_id text NOT NULL,
		seq bigint NOT NULL,
		start_offset integer NOT NULL,
		end_offset integer NOT NULL,
		content text NOT NULL,
		embedding vector(%d) NOT NULL
	)`, s.vectorSize)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, source models.Source, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("source %s: no chunks to insert", source.ID)
	}
	for _, c := range chunks {
		if len(c.Embedding) != s.vectorSize {
			return fmt.Errorf("chunk %s: embedding dimension %d, want %d", c.ID, len(c.Embedding), s.vectorSize)
		}
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var nextSeq int64
		if err := tx.NewSelect().
			Model((*chunkRow)(nil)).
			ColumnExpr("COALESCE(MAX(seq), 0)").
			Scan(ctx, &nextSeq); err != nil {
			return err
		}

		src := &sourceRow{
			ID:         source.ID,
			Name:       source.Name,
			Kind:       string(source.Kind),
			IngestedAt: source.IngestedAt,
		}
		if _, err := tx.NewInsert().Model(src).Exec(ctx); err != nil {
			return err
		}

		rows := make([]chunkRow, len(chunks))
		for i, c := range chunks {
			rows[i] = chunkRow{
				ID:          c.ID,
				SourceID:    c.SourceID,
				Seq:         nextSeq + int64(i) + 1,
				StartOffset: c.Start,
				EndOffset:   c.End,
				Content:     c.Text,
				Embedding:   vectorLiteral(c.Embedding),
			}
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateChunk, err)
		}
		return fmt.Errorf("insert source %s: %w", source.ID, err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, topK int) ([]models.RetrievalResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	lit := vectorLiteral(queryVector)

	var rows []chunkRow
	err := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("c.id, c.source_id, c.seq, c.start_offset, c.end_offset, c.content").
		ColumnExpr("1 - (c.embedding <=> ?::vector) AS similarity", lit).
		OrderExpr("c.embedding <=> ?::vector ASC", lit).
		OrderExpr("c.seq ASC").
		Limit(topK).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	sources, err := s.sourcesByID(ctx, rows)
	if err != nil {
		return nil, err
	}

	results := make([]models.RetrievalResult, 0, len(rows))
	for _, r := range rows {
		src, ok := sources[r.SourceID]
		if !ok {
			return nil, fmt.Errorf("chunk %s: %w", r.ID, ErrSourceNotFound)
		}
		results = append(results, models.RetrievalResult{
			Chunk: models.Chunk{
				ID:       r.ID,
				SourceID: r.SourceID,
				Seq:      int(r.Seq),
				Text:     r.Content,
				Start:    r.StartOffset,
				End:      r.EndOffset,
			},
			Source:     src,
			Similarity: r.Similarity,
		})
	}
	return results, nil
}

func (s *PostgresStore) sourcesByID(ctx context.Context, rows []chunkRow) (map[string]models.Source, error) {
	ids := make([]string, 0, len(rows))
	seen := map[string]bool{}
	for _, r := range rows {
		if !seen[r.SourceID] {
			seen[r.SourceID] = true
			ids = append(ids, r.SourceID)
		}
	}

	var srcRows []sourceRow
	if err := s.db.NewSelect().Model(&srcRows).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	out := make(map[string]models.Source, len(srcRows))
	for _, r := range srcRows {
		out[r.ID] = sourceFromRow(r)
	}
	return out, nil
}

func (s *PostgresStore) DeleteSource(ctx context.Context, sourceID string) (bool, error) {
	var removed bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*chunkRow)(nil)).Where("source_id = ?", sourceID).Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*sourceRow)(nil)).Where("id = ?", sourceID).Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete source %s: %w", sourceID, err)
	}
	return removed, nil
}

func (s *PostgresStore) Clear(ctx context.Context) (int, error) {
	var removed int
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		count, err := tx.NewSelect().Model((*sourceRow)(nil)).Count(ctx)
		if err != nil {
			return err
		}
		removed = count
		if _, err := tx.NewDelete().Model((*chunkRow)(nil)).Where("TRUE").Exec(ctx); err != nil {
			return err
		}
		_, err = tx.NewDelete().Model((*sourceRow)(nil)).Where("TRUE").Exec(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear knowledge base: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]models.SourceInfo, error) {
	var srcRows []sourceRow
	if err := s.db.NewSelect().Model(&srcRows).OrderExpr("ingested_at ASC, id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	type countRow struct {
		SourceID string `bun:"source_id"`
		Count    int    `bun:"count"`
	}
	var counts []countRow
	if err := s.db.NewSelect().
		Model((*chunkRow)(nil)).
		ColumnExpr("source_id, COUNT(*) AS count").
		GroupExpr("source_id").
		Scan(ctx, &counts); err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	countBySource := make(map[string]int, len(counts))
	for _, c := range counts {
		countBySource[c.SourceID] = c.Count
	}

	infos := make([]models.SourceInfo, 0, len(srcRows))
	for _, r := range srcRows {
		infos = append(infos, models.SourceInfo{
			Source:     sourceFromRow(r),
			ChunkCount: countBySource[r.ID],
		})
	}
	return infos, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, sourceID string) (models.Source, error) {
	var row sourceRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", sourceID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Source{}, fmt.Errorf("%s: %w", sourceID, ErrSourceNotFound)
		}
		return models.Source{}, fmt.Errorf("get source: %w", err)
	}
	return sourceFromRow(row), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func sourceFromRow(r sourceRow) models.Source {
	return models.Source{
		ID:         r.ID,
		Name:       r.Name,
		Kind:       models.SourceType(r.Kind),
		IngestedAt: r.IngestedAt,
	}
}

// vectorLiteral renders a pgvector input literal, e.g. "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// isUniqueViolation reports whether err is a Postgres 23505 error.
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}
