package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

// Host is the image host side of the upload protocol.
type Host struct {
	cfg       *Config
	store     *Store
	retention *Retention
	log       *log.Logger
}

type UploadReply struct {
	DisplayUrl string `json:"display_url"`
	Id         string `json:"id"`
	Size       int    `json:"size"`
	Type       string `json:"type"`
}

func NewHost(cfg *Config, store *Store, retention *Retention) *Host {
	return &Host{
		cfg:       cfg,
		store:     store,
		retention: retention,
		log:       log.New(os.Stderr, "(host) ", log.LstdFlags),
	}
}

func (h *Host) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "Not Found")
	})
	mux.HandleFunc("PUT /upload/{name}", h.handleUpload)
	mux.HandleFunc("GET /i/{file}", h.handleImage)
	return mux
}

func (h *Host) handleUpload(w http.ResponseWriter, r *http.Request) {
	_, key, ok := r.BasicAuth()
	if !ok || !h.store.TestKey(key) {
		w.Header().Set("WWW-Authenticate", `Basic realm="fup"`)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "Unauthorized")
		return
	}

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(contentType, "image/") {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		fmt.Fprint(w, "Content-Type must be an image type")
		return
	}

	var body bytes.Buffer
	_, err = body.ReadFrom(http.MaxBytesReader(w, r.Body, h.cfg.Host.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			fmt.Fprintf(w, "Upload exceeds %d bytes", tooLarge.Limit)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "Unable to read upload")
		return
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(body.Bytes())); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "Upload is not a decodable image")
		return
	}

	id := contentID(body.Bytes())
	created, err := h.store.PutImage(id, contentType, body.Bytes(), h.retention.Expiry())
	if err != nil {
		h.log.Println("Unable to store upload", id, err)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "Unable to store upload")
		return
	}
	if created {
		h.log.Println("STORE", id, body.Len(), "bytes")
	}

	ext := path.Ext(r.PathValue("name"))
	if ext == "" {
		ext = ".png"
	}
	reply := UploadReply{
		DisplayUrl: h.publicBase(r) + "/i/" + id + ext,
		Id:         id,
		Size:       body.Len(),
		Type:       contentType,
	}

	w.Header().Set("Content-Type", "application/json")
	out := brotli.HTTPCompressor(w, r)
	defer out.Close()
	enc := json.NewEncoder(out)
	indent := ""
	if h.cfg.Debug.PrettyJson {
		indent = "  "
	}
	enc.SetIndent("", indent)
	if err := enc.Encode(reply); err != nil {
		h.log.Println("Unable to encode reply", err)
	}
}

func (h *Host) handleImage(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	id := strings.TrimSuffix(file, path.Ext(file))
	img, ok := h.store.GetImage(id, h.retention.Now())
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "Not Found")
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(img.Data)
}

func (h *Host) publicBase(r *http.Request) string {
	if base := strings.TrimRight(h.cfg.Host.PublicUrl, "/"); base != "" {
		return base
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
