package data

import (
	"bytes"
	"io"
	"os"

	qserrors "github.com/objcachefs/objcachefs/pkg/errors"
)

// pageBody is where a Page's bytes actually live.
type pageBody int

const (
	bodyInMemory pageBody = iota
	bodyOnDisk
)

// Page is a contiguous byte range of one File, the unit of I/O described in
// spec.md §3/§4.1. It carries no lock of its own -- every operation on a
// Page is performed by its owning File under the File's mutex, the
// concurrency model spec.md §4.2/§5 specifies.
type Page struct {
	offset int64
	size   int64

	body pageBody
	mem  []byte // valid when body == bodyInMemory, len(mem) == size

	diskPath   string // valid when body == bodyOnDisk
	diskOffset int64  // byte offset within diskPath where this page's bytes start
}

// newMemoryPage creates an in-memory page covering [offset, offset+len(data)).
// data is copied; the caller retains ownership of its own slice.
func newMemoryPage(offset int64, data []byte) *Page {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Page{offset: offset, size: int64(len(data)), body: bodyInMemory, mem: buf}
}

// newDiskPage creates a page whose bytes live in a region of a scratch
// file. The caller is responsible for having already written size bytes
// to path at diskOffset.
func newDiskPage(offset, size int64, path string, diskOffset int64) *Page {
	return &Page{offset: offset, size: size, body: bodyOnDisk, diskPath: path, diskOffset: diskOffset}
}

// Offset returns the page's starting offset within its File.
func (p *Page) Offset() int64 { return p.offset }

// Size returns the page's byte length.
func (p *Page) Size() int64 { return p.size }

// End returns the offset one past the page's last byte.
func (p *Page) End() int64 { return p.offset + p.size }

// IsOnDisk reports whether the page's bytes are scratch-backed.
func (p *Page) IsOnDisk() bool { return p.body == bodyOnDisk }

// read returns a new slice holding length bytes starting at off (absolute
// File offset).
// Preconditions per spec.md §4.1: off >= p.offset and off+len <= p.End().
// Zero-length reads are no-ops. Reads outside the page's range fail with
// ErrCodeInvalidRange (mapped to OutOfRange in spec terms).
func (p *Page) read(off, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if off < p.offset || off+length > p.End() {
		return nil, qserrors.NewError(qserrors.ErrCodeInvalidRange, "read out of page range").
			WithComponent("data").WithOperation("Page.read").
			WithDetail("pageOffset", p.offset).WithDetail("pageSize", p.size).
			WithDetail("off", off).WithDetail("len", length)
	}
	rel := off - p.offset
	switch p.body {
	case bodyInMemory:
		out := make([]byte, length)
		copy(out, p.mem[rel:rel+length])
		return out, nil
	case bodyOnDisk:
		f, err := os.Open(p.diskPath)
		if err != nil {
			return nil, qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot open scratch page").
				WithComponent("data").WithOperation("Page.read").WithCause(err)
		}
		defer f.Close()
		out := make([]byte, length)
		if _, err := f.ReadAt(out, p.diskOffset+rel); err != nil {
			return nil, qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot read scratch page").
				WithComponent("data").WithOperation("Page.read").WithCause(err)
		}
		return out, nil
	default:
		return nil, qserrors.NewError(qserrors.ErrCodeInternalError, "unknown page body kind").
			WithComponent("data").WithOperation("Page.read")
	}
}

// write overwrites the overlap between [off, off+len(src)) and this page's
// range in place. The caller (File) guarantees the write stays within the
// page; extension past the page's current end is handled by
// canExtendInPlace/extendInPlace below, not here.
func (p *Page) write(off int64, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if off < p.offset || off+int64(len(src)) > p.End() {
		return qserrors.NewError(qserrors.ErrCodeInvalidRange, "write out of page range").
			WithComponent("data").WithOperation("Page.write")
	}
	rel := off - p.offset
	switch p.body {
	case bodyInMemory:
		copy(p.mem[rel:], src)
		return nil
	case bodyOnDisk:
		f, err := os.OpenFile(p.diskPath, os.O_WRONLY, 0600)
		if err != nil {
			return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot open scratch page for write").
				WithComponent("data").WithOperation("Page.write").WithCause(err)
		}
		defer f.Close()
		if _, err := f.WriteAt(src, p.diskOffset+rel); err != nil {
			return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot write scratch page").
				WithComponent("data").WithOperation("Page.write").WithCause(err)
		}
		return nil
	default:
		return qserrors.NewError(qserrors.ErrCodeInternalError, "unknown page body kind").
			WithComponent("data").WithOperation("Page.write")
	}
}

// canExtendInPlace reports whether a write starting exactly at this page's
// current end may grow the page in place rather than allocating a new one,
// per spec.md §4.1's "if off == page.offset+page.size ... may extend in
// place". Memory pages may always extend; disk pages may extend only if
// the underlying scratch file already reserves the space (callers extend
// disk pages by truncating/writing past EOF, which always succeeds, so
// both kinds report true here -- the distinction is left for future
// capacity-aware policies, see DESIGN.md).
func (p *Page) canExtendInPlace(off int64) bool {
	return off == p.End()
}

// extendInPlace grows the page by appending src at its current end.
func (p *Page) extendInPlace(src []byte) error {
	if len(src) == 0 {
		return nil
	}
	switch p.body {
	case bodyInMemory:
		p.mem = append(p.mem, src...)
		p.size += int64(len(src))
		return nil
	case bodyOnDisk:
		f, err := os.OpenFile(p.diskPath, os.O_WRONLY, 0600)
		if err != nil {
			return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot open scratch page for extend").
				WithComponent("data").WithOperation("Page.extendInPlace").WithCause(err)
		}
		defer f.Close()
		if _, err := f.WriteAt(src, p.diskOffset+p.size); err != nil {
			return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot extend scratch page").
				WithComponent("data").WithOperation("Page.extendInPlace").WithCause(err)
		}
		p.size += int64(len(src))
		return nil
	default:
		return qserrors.NewError(qserrors.ErrCodeInternalError, "unknown page body kind").
			WithComponent("data").WithOperation("Page.extendInPlace")
	}
}

// ref returns a readable stream over the page's bytes; disk-backed pages
// open their scratch file at diskOffset for size bytes, matching spec.md
// §4.1's ref() contract.
func (p *Page) ref() (io.ReadCloser, error) {
	switch p.body {
	case bodyInMemory:
		return io.NopCloser(bytes.NewReader(p.mem)), nil
	case bodyOnDisk:
		f, err := os.Open(p.diskPath)
		if err != nil {
			return nil, qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot open scratch page").
				WithComponent("data").WithOperation("Page.ref").WithCause(err)
		}
		if _, err := f.Seek(p.diskOffset, io.SeekStart); err != nil {
			f.Close()
			return nil, qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot seek scratch page").
				WithComponent("data").WithOperation("Page.ref").WithCause(err)
		}
		return &limitedReadCloser{r: io.LimitReader(f, p.size), c: f}, nil
	default:
		return nil, qserrors.NewError(qserrors.ErrCodeInternalError, "unknown page body kind").
			WithComponent("data").WithOperation("Page.ref")
	}
}

// setStream replaces the page's body atomically with len bytes read from
// stream, preserving the page's offset. Nothing in this package calls it;
// writeFromStream goes through File.write instead.
func (p *Page) setStream(stream io.Reader, length int64) error {
	buf := make([]byte, length)
	if _, err := io.ReadFull(stream, buf); err != nil {
		return qserrors.NewError(qserrors.ErrCodeScratchIO, "short read from stream").
			WithComponent("data").WithOperation("Page.setStream").WithCause(err)
	}
	switch p.body {
	case bodyInMemory:
		p.mem = buf
		p.size = length
		return nil
	case bodyOnDisk:
		f, err := os.OpenFile(p.diskPath, os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot open scratch page for setStream").
				WithComponent("data").WithOperation("Page.setStream").WithCause(err)
		}
		defer f.Close()
		if _, err := f.WriteAt(buf, p.diskOffset); err != nil {
			return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot write scratch page").
				WithComponent("data").WithOperation("Page.setStream").WithCause(err)
		}
		p.size = length
		return nil
	default:
		return qserrors.NewError(qserrors.ErrCodeInternalError, "unknown page body kind").
			WithComponent("data").WithOperation("Page.setStream")
	}
}

// release drops a disk-backed page's scratch file. In-memory pages need no
// cleanup beyond letting the garbage collector reclaim mem.
func (p *Page) release() error {
	if p.body != bodyOnDisk {
		return nil
	}
	return removeScratchFile(p.diskPath)
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(b []byte) (int, error) { return l.r.Read(b) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }
