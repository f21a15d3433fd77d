package main

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS analysis_runs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id         TEXT NOT NULL,
		source_file    TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL,
		total_comments INTEGER NOT NULL DEFAULT 0,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0,
		estimated_cost REAL NOT NULL DEFAULT 0,
		llm_provider   TEXT DEFAULT '',
		llm_model      TEXT DEFAULT '',
		started_at     DATETIME NOT NULL,
		finished_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_job_id ON analysis_runs(job_id);
	CREATE INDEX IF NOT EXISTS idx_runs_source_file ON analysis_runs(source_file);

	CREATE TABLE IF NOT EXISTS classification_history (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id        TEXT NOT NULL,
		username      TEXT DEFAULT '',
		original_text TEXT NOT NULL,
		attribute     TEXT NOT NULL,
		sentiment     TEXT NOT NULL,
		fallback      INTEGER NOT NULL DEFAULT 0,
		classified_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ch_job_id ON classification_history(job_id);
	CREATE INDEX IF NOT EXISTS idx_ch_date ON classification_history(classified_at);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

type AnalysisRun struct {
	ID            int64
	JobID         string
	SourceFile    string
	State         JobState
	TotalComments int
	Usage         UsageCounters
	EstimatedCost float64
	LLMProvider   string
	LLMModel      string
	StartedAt     time.Time
	FinishedAt    time.Time
}

func InsertAnalysisRun(db *sql.DB, run AnalysisRun) error {
	_, err := db.Exec(
		`INSERT INTO analysis_runs
		 (job_id, source_file, state, total_comments, prompt_tokens, completion_tokens, total_tokens, estimated_cost, llm_provider, llm_model, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID, run.SourceFile, string(run.State), run.TotalComments,
		run.Usage.PromptTokens, run.Usage.CompletionTokens, run.Usage.TotalTokens,
		run.Usage.EstimatedCostUSD(), run.LLMProvider, run.LLMModel, run.StartedAt,
	)
	return err
}

// SourceFileAnalyzed reports whether a completed run already exists for
// the given source file. Watch mode uses it to skip exports that were
// analyzed on an earlier pass.
func SourceFileAnalyzed(db *sql.DB, sourceFile string) (bool, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM analysis_runs WHERE source_file = ? AND state = ?`,
		sourceFile, string(JobCompleted),
	).Scan(&count)
	return count > 0, err
}

func InsertClassificationHistory(db *sql.DB, jobID string, records []ClassifiedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO classification_history (job_id, username, original_text, attribute, sentiment, fallback)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		fallback := 0
		if r.Fallback {
			fallback = 1
		}
		if _, err := stmt.Exec(jobID, r.Username, r.Text, r.Attribute, r.Sentiment, fallback); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRecentExamples returns recently classified comments for few-shot
// prompt examples. Fallback rows are excluded: a defaulted label is not
// an example worth imitating.
func GetRecentExamples(db *sql.DB, limit int) ([]historicalComment, error) {
	rows, err := db.Query(
		`SELECT original_text, attribute, sentiment
		 FROM classification_history
		 WHERE fallback = 0
		 ORDER BY classified_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []historicalComment
	for rows.Next() {
		var h historicalComment
		if err := rows.Scan(&h.Text, &h.Attribute, &h.Sentiment); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func GetRecentRuns(db *sql.DB, limit int) ([]AnalysisRun, error) {
	rows, err := db.Query(
		`SELECT id, job_id, source_file, state, total_comments,
		        prompt_tokens, completion_tokens, total_tokens, estimated_cost,
		        llm_provider, llm_model, started_at, finished_at
		 FROM analysis_runs
		 ORDER BY finished_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalysisRun
	for rows.Next() {
		var run AnalysisRun
		var state string
		if err := rows.Scan(
			&run.ID, &run.JobID, &run.SourceFile, &state, &run.TotalComments,
			&run.Usage.PromptTokens, &run.Usage.CompletionTokens, &run.Usage.TotalTokens,
			&run.EstimatedCost, &run.LLMProvider, &run.LLMModel,
			&run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, err
		}
		run.State = JobState(state)
		out = append(out, run)
	}
	return out, rows.Err()
}
