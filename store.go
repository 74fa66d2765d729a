package main

import (
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/apibillme/cache"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the image host's database: uploaded images and upload keys.
type Store struct {
	db       *sql.DB
	log      *log.Logger
	keyCache cache.Cache
}

const imageTable string = `
  CREATE TABLE IF NOT EXISTS images (
      id TEXT PRIMARY KEY,
      content_type TEXT NOT NULL,
      data BLOB NOT NULL,
      expiry INT NOT NULL
  )
`

const keyTable string = `
  CREATE TABLE IF NOT EXISTS keys (
      name TEXT NOT NULL,
      hash TEXT NOT NULL
  )
`

type StoredImage struct {
	ContentType string
	Data        []byte
	Expiry      int64
}

func NewStore(filename string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "(store) ", log.LstdFlags)
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", "file:"+filename)
	if err != nil {
		return nil, err
	}
	for _, table := range []string{imageTable, keyTable} {
		if _, err := db.Exec(table); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{
		db:       db,
		log:      logger,
		keyCache: cache.New(256, cache.WithTTL(1*time.Hour)),
	}, nil
}

func (store *Store) Close() error {
	return store.db.Close()
}

func (store *Store) DeleteBefore(expiry int64) (int64, error) {
	res, err := store.db.Exec("DELETE FROM images WHERE expiry < ?", expiry)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetImage returns the image stored under id unless it expired before now.
func (store *Store) GetImage(id string, now int64) (*StoredImage, bool) {
	row := store.db.QueryRow("SELECT content_type, data, expiry FROM images WHERE id = ? AND expiry >= ?", id, now)
	var img StoredImage
	err := row.Scan(&img.ContentType, &img.Data, &img.Expiry)
	if err == nil {
		return &img, true
	}
	if !errors.Is(err, sql.ErrNoRows) {
		store.log.Println(err.Error())
	}
	return nil, false
}

// PutImage stores data under id, or only extends the expiry when id is
// already present. It reports whether a new row was written.
func (store *Store) PutImage(id, contentType string, data []byte, expiry int64) (bool, error) {
	res, err := store.db.Exec("UPDATE images SET expiry = ? WHERE id = ? AND expiry < ?", expiry, id, expiry)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	res, err = store.db.Exec("INSERT OR IGNORE INTO images VALUES (?,?,?,?)",
		id,
		contentType,
		data,
		expiry,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (store *Store) AddKey(name, key string) error {
	hash, err := argon2id.CreateHash(key, argon2id.DefaultParams)
	if err != nil {
		return err
	}
	_, err = store.db.Exec("INSERT INTO keys VALUES (?,?)", name, hash)
	return err
}

// TestKey reports whether key matches any registered key hash.
func (store *Store) TestKey(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := store.keyCache.Get(key); ok {
		return true
	}
	rows, err := store.db.Query("SELECT name, hash FROM keys")
	if err != nil {
		store.log.Println(err.Error())
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			store.log.Println(err.Error())
			return false
		}
		match, err := argon2id.ComparePasswordAndHash(key, hash)
		if err != nil {
			store.log.Println("Error comparing key hashes", name, err.Error())
			continue
		}
		if match {
			store.keyCache.Set(key, name)
			return true
		}
	}
	return false
}
