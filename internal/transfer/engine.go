// Package transfer implements resumable file transfer over a dedicated SFTP
// channel. The channel is always distinct from any interactive shell on the
// same connection; a transfer failure never touches sibling channels.
package transfer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/pkg/sftp"

	"github.com/aitechnerd/sshore/internal/conn"
)

// chunkSize is the read granularity. SFTP packets top out near 32K, so
// larger buffers only add copying.
const chunkSize = 32 * 1024

// Progress is a periodic transfer report. Rate is bytes per second averaged
// over the current run (resumed bytes excluded).
type Progress struct {
	Transferred int64
	Total       int64
	Rate        float64
}

// Engine runs transfers over one SFTP channel.
type Engine struct {
	client *sftp.Client

	// OnProgress receives throttled progress reports. Optional.
	OnProgress func(Progress)
	// ProgressInterval throttles OnProgress. Defaults to 100ms.
	ProgressInterval time.Duration
}

// NewEngine opens the SFTP subsystem channel on an established connection.
func NewEngine(client *conn.Client) (*Engine, error) {
	c, err := sftp.NewClient(client.Client)
	if err != nil {
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}
	return &Engine{client: c, ProgressInterval: 100 * time.Millisecond}, nil
}

// Close shuts the SFTP channel. The parent connection stays up.
func (e *Engine) Close() error {
	return e.client.Close()
}

// Upload copies a local file to the remote host.
func (e *Engine) Upload(ctx context.Context, localPath, remotePath string, resume bool) error {
	return e.copy(ctx, localFS{}, localPath, remoteFS{e.client}, remotePath, resume)
}

// Download copies a remote file to the local filesystem.
func (e *Engine) Download(ctx context.Context, remotePath, localPath string, resume bool) error {
	return e.copy(ctx, remoteFS{e.client}, remotePath, localFS{}, localPath, resume)
}

// copy moves srcPath to dstPath across the two filesystems. With resume,
// the destination's current size becomes the offset: the source is read
// from there and appended. A destination larger than the source is a
// ResumeMismatch and the destination is left untouched.
func (e *Engine) copy(ctx context.Context, src filesystem, srcPath string, dst filesystem, dstPath string, resume bool) error {
	srcInfo, err := src.Stat(srcPath)
	if err != nil {
		return &TransferError{Kind: ErrIO, Source: srcPath, Dest: dstPath, Err: err}
	}
	total := srcInfo.Size()

	var offset int64
	if resume {
		dstInfo, err := dst.Stat(dstPath)
		switch {
		case err == nil && dstInfo.Size() > total:
			return &TransferError{
				Kind: ErrResumeMismatch, Source: srcPath, Dest: dstPath,
				Err: fmt.Errorf("destination is %d bytes, source only %d", dstInfo.Size(), total),
			}
		case err == nil && dstInfo.Size() == total:
			log.Printf("[SFTP] %s already complete (%d bytes)", dstPath, total)
			e.emit(Progress{Transferred: total, Total: total})
			return nil
		case err == nil:
			offset = dstInfo.Size()
		}
	}

	srcFile, err := src.Open(srcPath)
	if err != nil {
		return &TransferError{Kind: ErrIO, Source: srcPath, Dest: dstPath, Err: err}
	}
	defer srcFile.Close()

	if offset > 0 {
		if _, err := srcFile.Seek(offset, io.SeekStart); err != nil {
			return &TransferError{Kind: ErrIO, Source: srcPath, Dest: dstPath, Err: err}
		}
		log.Printf("[SFTP] resuming %s at offset %d of %d", dstPath, offset, total)
	}

	dstFile, err := dst.OpenWrite(dstPath, offset > 0)
	if err != nil {
		return &TransferError{Kind: ErrIO, Source: srcPath, Dest: dstPath, Err: err}
	}
	defer dstFile.Close()

	transferred := offset
	start := time.Now()
	var lastEmit time.Time
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-ctx.Done():
			// Partial data and its offset stay on disk for the next resume.
			return &TransferError{Kind: ErrInterrupted, Source: srcPath, Dest: dstPath, Err: ctx.Err()}
		default:
		}

		n, rerr := srcFile.Read(buf)
		if n > 0 {
			if _, werr := dstFile.Write(buf[:n]); werr != nil {
				return &TransferError{Kind: ErrIO, Source: srcPath, Dest: dstPath, Err: werr}
			}
			transferred += int64(n)

			if time.Since(lastEmit) >= e.ProgressInterval {
				lastEmit = time.Now()
				e.emit(Progress{
					Transferred: transferred,
					Total:       total,
					Rate:        rate(transferred-offset, start),
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &TransferError{Kind: ErrIO, Source: srcPath, Dest: dstPath, Err: rerr}
		}
	}

	e.emit(Progress{Transferred: transferred, Total: total, Rate: rate(transferred-offset, start)})
	log.Printf("[SFTP] %s -> %s done (%d bytes)", srcPath, dstPath, transferred)
	return nil
}

func (e *Engine) emit(p Progress) {
	if e.OnProgress != nil {
		e.OnProgress(p)
	}
}

func rate(bytes int64, start time.Time) float64 {
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed
}

// filesystem is the minimal surface copy needs from either end.
type filesystem interface {
	Stat(path string) (fs.FileInfo, error)
	Open(path string) (readSeekCloser, error)
	// OpenWrite creates the file, appending when appendTo is set and
	// truncating otherwise.
	OpenWrite(path string, appendTo bool) (io.WriteCloser, error)
}

type readSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

type localFS struct{}

func (localFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (localFS) Open(path string) (readSeekCloser, error) { return os.Open(path) }

func (localFS) OpenWrite(path string, appendTo bool) (io.WriteCloser, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if appendTo {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(path, flags, 0o644)
}

type remoteFS struct {
	client *sftp.Client
}

func (r remoteFS) Stat(path string) (fs.FileInfo, error) { return r.client.Stat(path) }

func (r remoteFS) Open(path string) (readSeekCloser, error) { return r.client.Open(path) }

func (r remoteFS) OpenWrite(path string, appendTo bool) (io.WriteCloser, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if appendTo {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return r.client.OpenFile(path, flags)
}
