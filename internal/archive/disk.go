package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DiskSink writes each segment to
// <root>/<prefix>/YYYY/MM/DD/audio_<unix>.<ext>, using the segment's start
// time in UTC.
type DiskSink struct {
	root   string
	prefix string
}

var _ Sink = (*DiskSink)(nil)

// NewDiskSink returns a sink rooted at root. The directory is created lazily
// on the first save.
func NewDiskSink(root, prefix string) *DiskSink {
	return &DiskSink{root: root, prefix: prefix}
}

// Name returns "disk".
func (d *DiskSink) Name() string { return "disk" }

// Path returns the file a segment will be written to.
func (d *DiskSink) Path(seg Segment) string {
	t := seg.Start.UTC()
	return filepath.Join(d.root, filepath.FromSlash(d.prefix),
		t.Format("2006"), t.Format("01"), t.Format("02"),
		fmt.Sprintf("audio_%d.%s", t.Unix(), seg.Extension))
}

// Save writes seg atomically: the payload goes to a temp file in the target
// directory which is then renamed into place.
func (d *DiskSink) Save(ctx context.Context, seg Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.Path(seg)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: disk: mkdir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".segment-*")
	if err != nil {
		return fmt.Errorf("archive: disk: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(seg.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: disk: write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: disk: close %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("archive: disk: rename %q: %w", path, err)
	}
	return nil
}

// Close is a no-op.
func (d *DiskSink) Close() error { return nil }
