package main

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DragPayload is what a drop target receives from the result view: the
// uploaded URL and the bitmap, so it can take either.
type DragPayload struct {
	URLs  []string
	Image image.Image
}

func (d DragPayload) MimeData() (map[string][]byte, error) {
	data := map[string][]byte{}
	if len(d.URLs) > 0 {
		data["text/uri-list"] = []byte(strings.Join(d.URLs, "\r\n") + "\r\n")
	}
	if d.Image != nil {
		buf, err := encodePNG(d.Image)
		if err != nil {
			return nil, err
		}
		data["image/png"] = buf
	}
	return data, nil
}

// Export drops the payload into dir as base.png and an internet shortcut
// base.url, returning the paths written.
func (d DragPayload) Export(dir, base string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	if d.Image != nil {
		buf, err := encodePNG(d.Image)
		if err != nil {
			return nil, err
		}
		p := filepath.Join(dir, base+".png")
		if err := os.WriteFile(p, buf, 0o644); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	if len(d.URLs) > 0 {
		p := filepath.Join(dir, base+".url")
		shortcut := fmt.Sprintf("[InternetShortcut]\r\nURL=%s\r\n", d.URLs[0])
		if err := os.WriteFile(p, []byte(shortcut), 0o644); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readCapture decodes a PNG, JPEG or GIF capture.
func readCapture(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	return img, nil
}
