package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	defaultUiColor        = "#740096"
	defaultHistoryMax     = 25
	defaultListen         = ":8081"
	defaultHostDatabase   = "data/fup.db"
	defaultRetentionHours = 720
	defaultMaxUploadBytes = 32 << 20
)

type Config struct {
	Fup struct {
		UploadHost string `json:"upload_host"`
		UploadKey  string `json:"upload_key"`
	} `json:"fup"`
	CopyAndCloseAfterUpload bool   `json:"copyAndCloseAfterUpload"`
	UiColor                 string `json:"uiColor"`
	History                 struct {
		Database string `json:"database"`
		MaxCount int    `json:"maxCount"`
	} `json:"history"`
	Host struct {
		Listen         string `json:"listen"`
		Database       string `json:"database"`
		PublicUrl      string `json:"publicUrl"`
		RetentionHours int    `json:"retentionHours"`
		MaxUploadBytes int64  `json:"maxUploadBytes"`
		TlsCert        string `json:"tlsCert"`
		TlsKey         string `json:"tlsKey"`
	} `json:"host"`
	Debug struct {
		PrettyJson bool `json:"prettyJson"`
	} `json:"debug"`
}

// UploadConfig is the part of the configuration one upload attempt needs.
type UploadConfig struct {
	Host string
	Key  string
}

// Validate returns a *ConfigError naming whichever fields are empty.
func (c UploadConfig) Validate() error {
	switch {
	case c.Host == "" && c.Key == "":
		return &ConfigError{Message: "fup upload_host and upload_key both missing."}
	case c.Host == "":
		return &ConfigError{Message: "fup upload_host missing."}
	case c.Key == "":
		return &ConfigError{Message: "fup upload_key missing."}
	}
	return nil
}

// Upload snapshots the upload settings, letting FUP_UPLOAD_HOST and
// FUP_UPLOAD_KEY override the file.
func (cfg *Config) Upload() UploadConfig {
	return UploadConfig{
		Host: getEnv("FUP_UPLOAD_HOST", cfg.Fup.UploadHost),
		Key:  getEnv("FUP_UPLOAD_KEY", cfg.Fup.UploadKey),
	}
}

func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("conf", "config.json")
	}
	return filepath.Join(dir, "fup", "config.json")
}

func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join("data", "history.db")
	}
	return filepath.Join(dir, "fup", "history.db")
}

// LoadConfig reads the JSON config at path. A missing file yields the
// defaults so that the upload reports which settings are absent.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := decodeConfig(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func decodeConfig(data []byte, cfg *Config) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	err := decoder.Decode(cfg)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		pos := findPos(bufio.NewReader(bytes.NewReader(data)), int(syntaxErr.Offset))
		return fmt.Errorf("unable to decode configuration file (Line: %d, Pos: %d); - %v", pos.line, pos.pos, syntaxErr)
	}
	if err == io.EOF {
		return nil
	}
	return err
}

func (cfg *Config) applyDefaults() {
	if cfg.UiColor == "" {
		cfg.UiColor = defaultUiColor
	}
	if cfg.History.Database == "" {
		cfg.History.Database = defaultHistoryPath()
	}
	if cfg.History.MaxCount <= 0 {
		cfg.History.MaxCount = defaultHistoryMax
	}
	if cfg.Host.Listen == "" {
		cfg.Host.Listen = defaultListen
	}
	if cfg.Host.Database == "" {
		cfg.Host.Database = defaultHostDatabase
	}
	if cfg.Host.RetentionHours <= 0 {
		cfg.Host.RetentionHours = defaultRetentionHours
	}
	if cfg.Host.MaxUploadBytes <= 0 {
		cfg.Host.MaxUploadBytes = defaultMaxUploadBytes
	}
}

type FilePos struct {
	line int
	pos  int
}

// findPos turns a byte offset into a 1-based line and the column within it.
func findPos(file *bufio.Reader, offset int) FilePos {
	p := FilePos{line: 1, pos: offset}
	var lineLen int
	for line, err := file.ReadBytes('\n'); len(line) > 0; line, err = file.ReadBytes('\n') {
		if p.pos < len(line) {
			return p
		}
		lineLen += len(line)
		if line[len(line)-1] == '\n' {
			p.line += 1
			p.pos -= lineLen
			lineLen = 0
		}
		if err != nil {
			break
		}
	}
	return p
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return def
}
