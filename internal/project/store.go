package project

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned for an unknown project name.
var ErrNotFound = errors.New("project not found")

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

// Entry is one row of the project list.
type Entry struct {
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store keeps named projects in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create projects table: %w", err)
	}
	log.Printf("Project store opened at %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save creates or replaces a project.
func (s *Store) Save(name string, doc *Document) error {
	if name == "" {
		return errors.New("project name is empty")
	}
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO projects (name, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		name, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save project %s: %w", name, err)
	}
	return nil
}

// Load returns a saved project.
func (s *Store) Load(name string) (*Document, error) {
	var data string
	err := s.db.QueryRow("SELECT document FROM projects WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", name, err)
	}
	return Decode([]byte(data))
}

// List returns all projects, most recently updated first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT name, updated_at FROM projects ORDER BY updated_at DESC, name")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a project.
func (s *Store) Delete(name string) error {
	res, err := s.db.Exec("DELETE FROM projects WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
