// Package ftp reads images from FTP servers.
package ftp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/islishude/imgfetch/internal/locator"
)

const defaultPort = 21

type Store struct {
	Timeout time.Duration
}

type Metadata struct {
	Size int64
}

func (s *Store) OpenReader(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
	if loc.Scheme != locator.SchemeFTP {
		return nil, Metadata{}, fmt.Errorf("locator %q is not ftp", loc.Raw)
	}
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if s.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(s.Timeout))
	}
	conn, err := ftp.Dial(loc.Address(defaultPort), opts...)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("ftp dial %s: %w", loc.Address(defaultPort), err)
	}
	user, password := Credentials(loc)
	if err := conn.Login(user, password); err != nil {
		_ = conn.Quit()
		return nil, Metadata{}, fmt.Errorf("ftp login: %w", err)
	}

	name := "/" + loc.Path
	meta := Metadata{}
	// SIZE is optional; without it progress has no total.
	if size, err := conn.FileSize(name); err == nil && size > 0 {
		meta.Size = size
	}
	resp, err := conn.Retr(name)
	if err != nil {
		_ = conn.Quit()
		return nil, Metadata{}, fmt.Errorf("ftp retr %s: %w", name, err)
	}
	return &download{resp: resp, conn: conn}, meta, nil
}

// Credentials falls back to an anonymous login.
func Credentials(loc locator.Locator) (user, password string) {
	user, password = loc.User, loc.Password
	if user == "" {
		user = "anonymous"
	}
	if password == "" && user == "anonymous" {
		password = "anonymous"
	}
	return user, password
}

type download struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (d *download) Read(p []byte) (int, error) { return d.resp.Read(p) }

func (d *download) Close() error {
	err := d.resp.Close()
	if qerr := d.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
