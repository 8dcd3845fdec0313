package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/rodent-software/tributary/dataset"
)

type ftpFetcher struct {
	source dataset.Source
	url    *url.URL
	opts   Options
}

func (f *ftpFetcher) Fetch(ctx context.Context, token string) (*Result, error) {
	addr := f.url.Host
	if f.url.Port() == "" {
		addr += ":21"
	}

	var conn *ftp.ServerConn
	err := retry(ctx, f.opts, func() error {
		var err error
		conn, err = ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.opts.Timeout))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransientError{Err: err}
		}
		user, pass := "anonymous", "anonymous"
		if f.url.User != nil {
			user = f.url.User.Username()
			if p, ok := f.url.User.Password(); ok {
				pass = p
			}
		}
		if err := conn.Login(user, pass); err != nil {
			conn.Quit()
			return fmt.Errorf("ftp login to %s: %w", addr, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	remotePath := strings.TrimPrefix(f.url.Path, "/")

	// MDTM is optional; when the server supports it the modification time
	// doubles as the continuation token.
	newToken := ""
	if modified, err := conn.GetTime(remotePath); err == nil {
		newToken = modifiedTokenPrefix + modified.UTC().Format(time.RFC3339)
		if token == newToken {
			conn.Quit()
			return &Result{Token: token, UpToDate: true}, nil
		}
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		conn.Quit()
		var proto *textproto.Error
		if errors.As(err, &proto) && proto.Code == ftp.StatusFileUnavailable {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, f.source.URL)
		}
		return nil, &TransientError{Err: err}
	}

	entry := Entry{
		Name: remotePath[strings.LastIndex(remotePath, "/")+1:],
		Body: newBoundedReader(ctx, &ftpBody{resp: resp, conn: conn}, f.opts.ChunkSize),
	}
	entries, err := prepare(ctx, []Entry{entry}, f.source.Prepare)
	if err != nil {
		return nil, err
	}
	return &Result{Entries: entries, Token: newToken}, nil
}

// ftpBody keeps the control connection alive until the transfer is done.
type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Read(p []byte) (int, error) {
	return b.resp.Read(p)
}

func (b *ftpBody) Close() error {
	err := b.resp.Close()
	if qerr := b.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
