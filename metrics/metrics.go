// metrics.go - Dauerhafte Schritt-Metriken in SQLite
//
// Jede abgeschlossene Trainingsiteration schreibt eine Zeile
// (run_id, step, epoch, losses, lr), damit Verlaeufe nach dem Lauf ohne
// Terminal-Scrollback analysiert werden koennen.
package metrics

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS steps (
	run_id         TEXT    NOT NULL,
	step           INTEGER NOT NULL,
	epoch          INTEGER NOT NULL,
	text_loss      REAL    NOT NULL,
	diffusion_loss REAL    NOT NULL,
	learning_rate  REAL    NOT NULL,
	recorded_at    TEXT    NOT NULL,
	PRIMARY KEY (run_id, step)
);`

// Recorder appends per-step training metrics to a SQLite database.
type Recorder struct {
	db *sql.DB
}

// Open creates or opens the metrics database at path.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing metrics db: %w", err)
	}
	return &Recorder{db: db}, nil
}

// RecordStep inserts one step row. Re-recording a (run, step) pair replaces
// the previous row, which keeps resumed runs free of duplicates.
func (r *Recorder) RecordStep(runID string, epoch, step int, textLoss, diffusionLoss, lr float64) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO steps (run_id, step, epoch, text_loss, diffusion_loss, learning_rate, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, step, epoch, textLoss, diffusionLoss, lr, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}
