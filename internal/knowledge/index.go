package knowledge

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atende-io/atende/internal/ticket"
)

// SourceCases is the knowledge source holding closed-case transcripts.
const SourceCases = "cases"

// How many transcripts are stitched into the retrieved context.
const contextLimit = 3

// Index is the closed-case knowledge base. Every closed case is rendered
// to a plain-text transcript and stored here; the generation service
// retrieves the most relevant transcripts as prompt context. The index
// is a derived artifact: it can be rebuilt at any time from the live
// case directory, so it carries no authoritative state.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewIndex opens (or creates) the knowledge database and runs migrations.
func NewIndex(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("knowledge index: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("knowledge index: wal: %w", err)
	}

	idx := &Index{db: db, logger: logger}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) migrate() error {
	_, err := i.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			key         TEXT PRIMARY KEY,
			source      TEXT NOT NULL DEFAULT 'cases',
			display_seq INTEGER NOT NULL DEFAULT 0,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			body        TEXT NOT NULL,
			indexed_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
	`)
	if err != nil {
		return fmt.Errorf("knowledge index: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

// IndexCase upserts a closed case's transcript under the key
// case_<displaySeq>. Re-indexing the same case replaces the document.
func (i *Index) IndexCase(c *ticket.Case) error {
	key := fmt.Sprintf("case_%d", c.DisplaySeq())
	_, err := i.db.Exec(`
		INSERT INTO documents (key, source, display_seq, title, description, body, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			title=excluded.title, description=excluded.description,
			body=excluded.body, indexed_at=excluded.indexed_at
	`, key, SourceCases, c.DisplaySeq(), c.Title(), c.Description(), c.Transcript(),
		time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("knowledge index: index case: %w", err)
	}
	i.logger.Info("case indexed", "key", key, "case", c.ID())
	return nil
}

// RebuildAll reindexes every given case. Used by the periodic refresher
// with the directory's closed cases.
func (i *Index) RebuildAll(cases []*ticket.Case) error {
	for _, c := range cases {
		if err := i.IndexCase(c); err != nil {
			return err
		}
	}
	i.logger.Info("knowledge rebuilt", "documents", len(cases))
	return nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (int, error) {
	var n int
	if err := i.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("knowledge index: count: %w", err)
	}
	return n, nil
}

// RetrieveContext returns the transcripts most relevant to the question,
// ranked by how many of the question's significant words they contain.
// With no match (or no usable words) it falls back to the most recently
// indexed documents. It satisfies provider.Retriever.
func (i *Index) RetrieveContext(question string, sources []string) (string, error) {
	if len(sources) == 0 {
		sources = []string{SourceCases}
	}

	query := `SELECT body FROM documents WHERE source IN (?` + strings.Repeat(",?", len(sources)-1) + `)`
	args := make([]any, 0, len(sources)+1)
	for _, s := range sources {
		args = append(args, s)
	}

	terms := significantWords(question)
	if len(terms) > 0 {
		var score strings.Builder
		score.WriteString(" ORDER BY (")
		for n, term := range terms {
			if n > 0 {
				score.WriteString(" + ")
			}
			score.WriteString("(lower(body) LIKE ?)")
			args = append(args, "%"+term+"%")
		}
		score.WriteString(") DESC, indexed_at DESC")
		query += score.String()
	} else {
		query += " ORDER BY indexed_at DESC"
	}
	query += fmt.Sprintf(" LIMIT %d", contextLimit)

	rows, err := i.db.Query(query, args...)
	if err != nil {
		return "", fmt.Errorf("knowledge index: retrieve: %w", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return "", fmt.Errorf("knowledge index: retrieve scan: %w", err)
		}
		parts = append(parts, body)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("knowledge index: retrieve rows: %w", err)
	}
	return strings.Join(parts, "\n---\n"), nil
}

// significantWords lowercases the question and keeps words long enough
// to be worth matching on.
func significantWords(question string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,:;!?\"'()")
		if len([]rune(w)) >= 4 {
			out = append(out, w)
		}
	}
	return out
}
