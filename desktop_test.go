package main

import (
	"bytes"
	"errors"
	"image/png"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDesktop() (*SystemDesktop, *bytes.Buffer) {
	var out bytes.Buffer
	d := NewSystemDesktop(log.New(&out, "", 0))
	return d, &out
}

func TestSystemDesktopOpenURL(t *testing.T) {
	d, _ := testDesktop()
	var opened []string
	d.open = func(url string) error {
		opened = append(opened, url)
		return nil
	}

	require.NoError(t, d.OpenURL("https://img.example.com/i/abc.png"))
	assert.Equal(t, []string{"https://img.example.com/i/abc.png"}, opened)
}

func TestSystemDesktopOpenURLError(t *testing.T) {
	d, _ := testDesktop()
	d.open = func(string) error { return errors.New("no opener") }

	assert.EqualError(t, d.OpenURL("https://img.example.com/i/abc.png"), "no opener")
}

func TestSystemDesktopCopyImageWritesPNG(t *testing.T) {
	d, _ := testDesktop()
	var written []byte
	d.writeImage = func(data []byte) error {
		written = data
		return nil
	}

	d.CopyImage(testCapture())

	img, err := png.Decode(bytes.NewReader(written))
	require.NoError(t, err)
	assert.Equal(t, testCapture().Bounds(), img.Bounds())
	r, g, b, a := img.At(1, 1).RGBA()
	assert.Equal(t, []uint32{0x7474, 0, 0x9696, 0xffff}, []uint32{r, g, b, a})
}

func TestSystemDesktopCopyImageLogsFailure(t *testing.T) {
	d, out := testDesktop()
	d.writeImage = func([]byte) error { return errors.New("no display") }

	d.CopyImage(testCapture())
	assert.Contains(t, out.String(), "image clipboard: no display")
}
