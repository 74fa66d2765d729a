package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	errorColor = color.New(color.FgRed)
	urlColor   = color.New(color.Bold)
	grayColor  = color.New(color.FgHiBlack)
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// TerminalView renders an upload session on a terminal. When animate is
// false (output is not a terminal) the spinner is a single status line.
type TerminalView struct {
	out     io.Writer
	accent  *color.Color
	animate bool

	mu          sync.Mutex
	stopSpinner chan struct{}
	spinnerDone chan struct{}
	actions     ResultActions
	closed      bool
}

func NewTerminalView(out io.Writer, uiColor string, animate bool) *TerminalView {
	return &TerminalView{
		out:     out,
		accent:  accentColor(uiColor),
		animate: animate,
	}
}

// accentColor parses a #rrggbb colour, falling back to magenta.
func accentColor(hex string) *color.Color {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) == 6 {
		if v, err := strconv.ParseUint(hex, 16, 32); err == nil {
			return color.RGB(int(v>>16&0xff), int(v>>8&0xff), int(v&0xff))
		}
	}
	return color.New(color.FgMagenta)
}

func (v *TerminalView) ShowLoading() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.animate {
		fmt.Fprintln(v.out, "Uploading Image")
		return
	}
	if v.stopSpinner != nil {
		return
	}
	v.stopSpinner = make(chan struct{})
	v.spinnerDone = make(chan struct{})
	go v.spin(v.stopSpinner, v.spinnerDone)
}

func (v *TerminalView) spin(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		v.accent.Fprintf(v.out, "\r%s ", spinnerFrames[i%len(spinnerFrames)])
		fmt.Fprint(v.out, "Uploading Image")
		select {
		case <-stop:
			fmt.Fprint(v.out, "\r\033[K")
			return
		case <-ticker.C:
		}
	}
}

// stop must be called with mu held.
func (v *TerminalView) stop() {
	if v.stopSpinner == nil {
		return
	}
	close(v.stopSpinner)
	<-v.spinnerDone
	v.stopSpinner = nil
}

func (v *TerminalView) ShowError(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stop()
	errorColor.Fprintln(v.out, message)
}

func (v *TerminalView) ShowResult(actions ResultActions) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stop()
	v.actions = actions

	fmt.Fprint(v.out, "Uploaded: ")
	urlColor.Fprintln(v.out, actions.URL())
	if img := actions.Capture(); img != nil {
		b := img.Bounds()
		grayColor.Fprintf(v.out, "Image %dx%d  [d DIR] export\n", b.Dx(), b.Dy())
	}
	fmt.Fprintln(v.out, "[c] Copy URL  [o] Open URL  [i] Image to Clipboard")
}

func (v *TerminalView) ShowMessage(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	grayColor.Fprintln(v.out, message)
}

func (v *TerminalView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stop()
	v.closed = true
}

func (v *TerminalView) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Loop reads result commands from in until q, EOF, or the view closes.
// It returns immediately when there is no result to act on.
func (v *TerminalView) Loop(in io.Reader) {
	v.mu.Lock()
	actions := v.actions
	v.mu.Unlock()
	if actions == nil {
		return
	}

	scanner := bufio.NewScanner(in)
	for !v.Closed() && scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "c":
			actions.CopyURL(false)
		case "o":
			_ = actions.OpenURL()
		case "i":
			actions.CopyImage()
		case "d":
			dir := "."
			if len(fields) > 1 {
				dir = fields[1]
			}
			v.export(actions, dir)
		case "q":
			v.Close()
		default:
			v.ShowMessage("Unknown command " + strconv.Quote(fields[0]))
		}
	}
	v.Close()
}

func (v *TerminalView) export(actions ResultActions, dir string) {
	base := historyName(actions.URL())
	base = strings.TrimSuffix(base, ".png")
	if base == "" {
		base = "capture"
	}
	written, err := actions.StartDrag().Export(dir, base)
	if err != nil {
		v.ShowMessage("Unable to export: " + err.Error())
		return
	}
	v.ShowMessage("Exported " + strings.Join(written, ", "))
}
