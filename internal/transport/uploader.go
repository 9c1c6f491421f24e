package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"lifestory-backend/internal/ingestion"
)

// Result describes a completed direct upload.
type Result struct {
	BytesSent  int64
	StatusCode int
}

// Error is a failed direct upload. StatusCode is zero when no response arrived.
type Error struct {
	StatusCode int
	BytesSent  int64
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload rejected with status %d after %d bytes: %v", e.StatusCode, e.BytesSent, e.Err)
	}
	return fmt.Sprintf("upload failed after %d bytes: %v", e.BytesSent, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match any transport failure against ingestion.ErrTransport.
func (e *Error) Is(target error) bool { return target == ingestion.ErrTransport }

type Uploader struct {
	httpClient *http.Client
}

// NewUploader uses client without a timeout so large uploads are bounded only by ctx.
func NewUploader(client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{}
	}
	return &Uploader{httpClient: client}
}

// Upload PUTs size bytes from body to uploadURL. onProgress, if set, sees non-decreasing
// percentages; 100 is only reported after a 2xx response. There is no resume: a retry starts
// from byte zero against a fresh ticket.
func (u *Uploader) Upload(ctx context.Context, uploadURL string, body io.Reader, size int64, onProgress func(int)) (Result, error) {
	progress := &progressReader{r: body, total: size, report: onProgress}
	progress.emit(0)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, progress)
	if err != nil {
		return Result{}, &Error{Err: err}
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(ctxErr, err)
		}
		return Result{}, &Error{BytesSent: progress.sent(), Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &Error{
			StatusCode: resp.StatusCode,
			BytesSent:  progress.sent(),
			Err:        fmt.Errorf("storage responded %s", resp.Status),
		}
	}

	progress.emit(100)
	return Result{BytesSent: progress.sent(), StatusCode: resp.StatusCode}, nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	report func(int)

	mu      sync.Mutex
	n       int64
	last    int
	started bool
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.n += int64(n)
		pct := 0
		if p.total > 0 {
			pct = int(p.n * 100 / p.total)
		}
		p.mu.Unlock()
		// Bytes on the wire are not an accepted upload.
		if pct > 99 {
			pct = 99
		}
		p.emit(pct)
	}
	return n, err
}

func (p *progressReader) sent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *progressReader) emit(pct int) {
	if p.report == nil {
		return
	}
	p.mu.Lock()
	if p.started && pct <= p.last {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.last = pct
	p.mu.Unlock()
	p.report(pct)
}
