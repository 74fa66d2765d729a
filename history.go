package main

import (
	"database/sql"
	"errors"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apibillme/cache"
	_ "github.com/mattn/go-sqlite3"
)

const historySeparator = "-"

const historyTable string = `
  CREATE TABLE IF NOT EXISTS history (
      name TEXT NOT NULL,
      png BLOB NOT NULL,
      created INT NOT NULL
  )
`

type HistoryEntry struct {
	Name    string
	Created time.Time
	Size    int
}

// History is the local record of uploaded captures, newest maxCount kept.
type History struct {
	db       *sql.DB
	log      *log.Logger
	maxCount int
	recent   cache.Cache
	now      func() time.Time
}

func NewHistory(path string, maxCount int, logger *log.Logger) (*History, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if maxCount <= 0 {
		maxCount = defaultHistoryMax
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(historyTable); err != nil {
		db.Close()
		return nil, err
	}
	return &History{
		db:       db,
		log:      logger,
		maxCount: maxCount,
		recent:   cache.New(64, cache.WithTTL(10*time.Minute)),
		now:      time.Now,
	}, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

// PackFileName joins the source tag, the category when there is one, and
// the file name. Without a source tag the file name is used as is.
func (h *History) PackFileName(source, category, name string) string {
	if source == "" {
		return name
	}
	if category == "" {
		return source + historySeparator + name
	}
	return source + historySeparator + category + historySeparator + name
}

// UnpackFileName splits a packed name back into its parts. A file name
// containing the separator reads as source-category-name.
func (h *History) UnpackFileName(packed string) (source, category, name string) {
	parts := strings.SplitN(packed, historySeparator, 3)
	switch len(parts) {
	case 1:
		return "", "", packed
	case 2:
		return parts[0], "", parts[1]
	}
	return parts[0], parts[1], parts[2]
}

func (h *History) Save(img image.Image, name string) error {
	data, err := encodePNG(img)
	if err != nil {
		return err
	}
	_, err = h.db.Exec("INSERT INTO history VALUES (?,?,?)", name, data, h.now().UnixNano())
	if err != nil {
		return err
	}
	h.recent.Set(name, data)
	return h.prune()
}

func (h *History) prune() error {
	rows, err := h.db.Query(
		"SELECT name FROM history WHERE rowid NOT IN (SELECT rowid FROM history ORDER BY created DESC, rowid DESC LIMIT ?)",
		h.maxCount)
	if err != nil {
		return err
	}
	var dropped []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		dropped = append(dropped, name)
	}
	rows.Close()
	if len(dropped) == 0 {
		return nil
	}
	_, err = h.db.Exec(
		"DELETE FROM history WHERE rowid NOT IN (SELECT rowid FROM history ORDER BY created DESC, rowid DESC LIMIT ?)",
		h.maxCount)
	if err != nil {
		return err
	}
	for _, name := range dropped {
		h.recent.Set(name, nil)
	}
	h.log.Println("pruned", len(dropped), "history entries")
	return nil
}

// List returns entries newest first.
func (h *History) List() ([]HistoryEntry, error) {
	rows, err := h.db.Query("SELECT name, length(png), created FROM history ORDER BY created DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var created int64
		if err := rows.Scan(&e.Name, &e.Size, &created); err != nil {
			return nil, err
		}
		e.Created = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the PNG stored under name, newest first when a name repeats.
func (h *History) Get(name string) ([]byte, bool) {
	if v, ok := h.recent.Get(name); ok {
		if data, _ := v.([]byte); data != nil {
			return data, true
		}
	}
	row := h.db.QueryRow("SELECT png FROM history WHERE name = ? ORDER BY created DESC, rowid DESC LIMIT 1", name)
	var data []byte
	err := row.Scan(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			h.log.Println(err.Error())
		}
		return nil, false
	}
	h.recent.Set(name, data)
	return data, true
}
