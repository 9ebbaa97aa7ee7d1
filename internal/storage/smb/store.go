// Package smb reads images from SMB/CIFS shares.
package smb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/islishude/imgfetch/internal/locator"
)

const defaultPort = 445

type Store struct {
	Timeout time.Duration
}

type Metadata struct {
	Size int64
}

func (s *Store) OpenReader(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
	if loc.Scheme != locator.SchemeSMB {
		return nil, Metadata{}, fmt.Errorf("locator %q is not smb", loc.Raw)
	}
	if loc.Share == "" {
		return nil, Metadata{}, errors.New("smb locator has no share")
	}

	addr := loc.Address(defaultPort)
	dialer := &net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("smb dial %s: %w", addr, err)
	}
	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     loc.User,
			Password: loc.Password,
			Domain:   loc.Domain,
		},
	}
	session, err := d.DialContext(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, Metadata{}, fmt.Errorf("smb session: %w", err)
	}
	share, err := session.Mount(loc.Share)
	if err != nil {
		_ = session.Logoff()
		return nil, Metadata{}, fmt.Errorf("smb mount %s: %w", loc.Share, err)
	}
	share = share.WithContext(ctx)

	f, err := share.Open(SharePath(loc.Path))
	if err != nil {
		_ = share.Umount()
		_ = session.Logoff()
		return nil, Metadata{}, fmt.Errorf("smb open %s: %w", loc.Path, err)
	}
	meta := Metadata{}
	if st, err := f.Stat(); err == nil {
		meta.Size = st.Size()
	}
	return &download{f: f, share: share, session: session}, meta, nil
}

// SharePath converts a slash separated path to the form servers expect.
func SharePath(p string) string {
	return strings.ReplaceAll(strings.Trim(p, "/"), "/", `\`)
}

type download struct {
	f       *smb2.File
	share   *smb2.Share
	session *smb2.Session
}

func (d *download) Read(p []byte) (int, error) { return d.f.Read(p) }

func (d *download) Close() error {
	err := d.f.Close()
	_ = d.share.Umount()
	_ = d.session.Logoff()
	return err
}
