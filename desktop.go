package main

import (
	"errors"
	"image"
	"io"
	"log"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
	"github.com/pkg/browser"
	imgclip "golang.design/x/clipboard"
)

const appName = "fup"

// SystemDesktop talks to the real clipboard, URL handler and notification
// daemon. Everything except OpenURL is fire-and-forget; failures are logged.
type SystemDesktop struct {
	log        *log.Logger
	open       func(url string) error
	writeImage func(png []byte) error
}

func NewSystemDesktop(logger *log.Logger) *SystemDesktop {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	beeep.AppName = appName
	// The opener's own output would land in the middle of the terminal view.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &SystemDesktop{
		log:        logger,
		open:       browser.OpenURL,
		writeImage: writeImageClipboard,
	}
}

func (d *SystemDesktop) CopyText(text string) {
	if clipboard.Unsupported {
		d.log.Println("clipboard unsupported on this system")
		return
	}
	if err := clipboard.WriteAll(text); err != nil {
		d.log.Println("clipboard:", err)
	}
	if supportsSelection() {
		if err := writeSelection(text); err != nil {
			d.log.Println("selection:", err)
		}
	}
}

func (d *SystemDesktop) CopyImage(img image.Image) {
	data, err := encodePNG(img)
	if err != nil {
		d.log.Println("encode image:", err)
		return
	}
	if err := d.writeImage(data); err != nil {
		d.log.Println("image clipboard:", err)
	}
}

var (
	imageClipboardOnce sync.Once
	imageClipboardErr  error
)

func writeImageClipboard(png []byte) error {
	imageClipboardOnce.Do(func() {
		imageClipboardErr = imgclip.Init()
	})
	if imageClipboardErr != nil {
		return imageClipboardErr
	}
	if imgclip.Write(imgclip.FmtImage, png) == nil {
		return errors.New("image clipboard write rejected")
	}
	return nil
}

func (d *SystemDesktop) OpenURL(url string) error {
	return d.open(url)
}

func (d *SystemDesktop) Notify(message string) {
	if err := beeep.Notify(appName, message, ""); err != nil {
		d.log.Println("notify:", err)
	}
}
