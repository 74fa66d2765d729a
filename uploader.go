package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"strings"
)

type UploadState int

const (
	StateLoading UploadState = iota
	StateSuccess
	StateFailed
)

func (s UploadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const historySource = "fup"

// HistoryStore keeps a local copy of every uploaded capture.
type HistoryStore interface {
	PackFileName(source, category, name string) string
	Save(img image.Image, name string) error
}

// Desktop is the clipboard, URL handler and notification surface.
type Desktop interface {
	CopyText(text string)
	CopyImage(img image.Image)
	OpenURL(url string) error
	Notify(message string)
}

// View renders the session. ShowResult is only called once the upload
// succeeded and the result actions are usable.
type View interface {
	ShowLoading()
	ShowError(message string)
	ShowResult(actions ResultActions)
	ShowMessage(message string)
	Close()
}

// ResultActions is what the result view offers after a successful upload.
type ResultActions interface {
	URL() string
	Capture() image.Image
	CopyURL(useSystemNotification bool)
	OpenURL() error
	CopyImage()
	StartDrag() DragPayload
}

// Reply is the outcome of the single upload request.
type Reply struct {
	Body []byte
	Err  *TransportError
}

// Uploader owns one upload of one capture. It is not safe for concurrent
// use; the session goroutine drives it.
type Uploader struct {
	capture image.Image
	client  *http.Client
	history HistoryStore
	desktop Desktop
	view    View
	log     *log.Logger

	state   UploadState
	started bool
	url     string
	err     error
}

func NewUploader(capture image.Image, client *http.Client, history HistoryStore, desktop Desktop, view View, logger *log.Logger) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	// A redirect would turn the PUT into a second, body-less request.
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Uploader{
		capture: capture,
		client:  &noRedirect,
		history: history,
		desktop: desktop,
		view:    view,
		log:     logger,
		state:   StateLoading,
	}
}

func (u *Uploader) State() UploadState { return u.state }

// Err is the error that moved the session to StateFailed, if any.
func (u *Uploader) Err() error { return u.err }

func (u *Uploader) URL() string { return u.url }

func (u *Uploader) Capture() image.Image { return u.capture }

func uploadURL(host string) string {
	return fmt.Sprintf("https://%s/upload/image.png", host)
}

func basicAuth(key string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+key))
}

// Start validates cfg and sends the upload request. The reply is delivered
// once on the returned channel. A config error fails the session without
// touching the network.
func (u *Uploader) Start(ctx context.Context, cfg UploadConfig) (<-chan Reply, error) {
	if u.started {
		return nil, errAlreadyStarted
	}
	u.started = true
	u.view.ShowLoading()

	if err := cfg.Validate(); err != nil {
		u.fail(err)
		return nil, err
	}

	body, err := encodePNG(u.capture)
	if err != nil {
		u.fail(err)
		return nil, err
	}

	target := uploadURL(cfg.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		terr := transportFailure(err)
		u.fail(terr)
		return nil, terr
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", basicAuth(cfg.Key))

	replies := make(chan Reply, 1)
	go func() {
		replies <- u.send(req, target)
	}()
	u.log.Println("PUT", target, len(body), "bytes")
	return replies, nil
}

func (u *Uploader) send(req *http.Request, target string) Reply {
	resp, err := u.client.Do(req)
	if err != nil {
		return Reply{Err: transportFailure(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reply{Err: statusFailure(target, resp.StatusCode, resp.Status)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{Err: transportFailure(err)}
	}
	return Reply{Body: data}
}

// HandleReply moves the session to its result state. With copyAndClose the
// URL goes straight to the clipboard and the view closes without showing
// the result actions.
func (u *Uploader) HandleReply(reply Reply, copyAndClose bool) {
	if reply.Err != nil {
		u.fail(reply.Err)
		return
	}

	var payload struct {
		DisplayURL string `json:"display_url"`
	}
	if err := json.Unmarshal(reply.Body, &payload); err != nil {
		u.log.Println("Unable to decode reply:", err)
	}
	u.url = payload.DisplayURL

	name := u.history.PackFileName(historySource, "", historyName(u.url))
	if err := u.history.Save(u.capture, name); err != nil {
		u.log.Println("Unable to save history entry", name, err)
	}

	u.state = StateSuccess
	if copyAndClose {
		u.CopyURL(true)
		u.view.Close()
		return
	}
	u.view.ShowResult(u)
}

// Run performs the whole attempt: start, wait for the reply, handle it.
// Cancelling ctx abandons the request and closes the view.
func (u *Uploader) Run(ctx context.Context, cfg UploadConfig, copyAndClose bool) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies, err := u.Start(reqCtx, cfg)
	if err != nil {
		return err
	}
	select {
	case reply := <-replies:
		if ctx.Err() == nil {
			u.HandleReply(reply, copyAndClose)
			return u.err
		}
	case <-ctx.Done():
	}
	u.view.Close()
	return ctx.Err()
}

func (u *Uploader) fail(err error) {
	u.state = StateFailed
	u.err = err
	u.view.ShowError(err.Error())
}

func (u *Uploader) CopyURL(useSystemNotification bool) {
	u.desktop.CopyText(u.url)
	if useSystemNotification {
		u.desktop.Notify("URL copied to clipboard.")
	} else {
		u.view.ShowMessage("URL copied to clipboard.")
	}
}

func (u *Uploader) OpenURL() error {
	if err := u.desktop.OpenURL(u.url); err != nil {
		u.log.Println("open url:", err)
		u.view.ShowMessage("Unable to open the URL.")
		return &IntegrationError{Message: "Unable to open the URL.", Err: err}
	}
	return nil
}

func (u *Uploader) CopyImage() {
	u.desktop.CopyImage(u.capture)
	u.view.ShowMessage("Screenshot copied to clipboard.")
}

func (u *Uploader) StartDrag() DragPayload {
	return DragPayload{URLs: []string{u.url}, Image: u.capture}
}

// historyName is the part of url after its last slash, or all of it.
func historyName(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
