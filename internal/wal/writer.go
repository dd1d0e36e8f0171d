package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"calico/internal/calicoerr"
	"calico/internal/env"
	"calico/internal/page"
)

// Options configures the WAL writer/reader pair.
type Options struct {
	Dir          string
	BlockSize    int   // must be positive; Open does not default it
	SegmentLimit int64 // rotate once a segment exceeds this many bytes
}

// Writer is the append-only side of the log: it assigns LSNs, frames
// logical records across fixed-size blocks, and rotates segments at
// block boundaries (spec.md §4.4).
type Writer struct {
	mu sync.Mutex

	e    env.Env
	opts Options

	segNo   uint64
	sink    env.Sink
	segSize int64

	block    []byte // partial current block, grows to BlockSize then flushes
	blockPos int

	nextLsn    page.Lsn
	flushedLsn page.Lsn
}

// Open opens (creating if necessary) the newest segment in dir for
// appending, starting LSN assignment at startLsn+1.
func Open(e env.Env, opts Options, startLsn page.Lsn) (*Writer, error) {
	if opts.BlockSize <= 0 {
		return nil, calicoerr.New(calicoerr.InvalidArgument, "wal block size must be positive")
	}
	w := &Writer{
		e:          e,
		opts:       opts,
		block:      make([]byte, opts.BlockSize),
		nextLsn:    startLsn + 1,
		flushedLsn: startLsn,
	}
	segs, err := listSegments(e, opts.Dir)
	if err != nil {
		return nil, err
	}
	var newest uint64
	if len(segs) > 0 {
		newest = segs[len(segs)-1]
	}
	if err := w.rotate(newest); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) segmentPath(segNo uint64) string {
	return fmt.Sprintf("%s/wal-%020d.seg", w.opts.Dir, segNo)
}

func (w *Writer) rotate(segNo uint64) error {
	if w.sink != nil {
		if err := w.sink.Close(); err != nil {
			return calicoerr.Wrap(calicoerr.Io, err, "close wal segment")
		}
	}
	sink, err := w.e.NewLogFile(w.segmentPath(segNo))
	if err != nil {
		return calicoerr.Wrap(calicoerr.Io, err, "open wal segment")
	}
	w.sink = sink
	w.segNo = segNo
	w.segSize = 0
	w.blockPos = 0
	return nil
}

// FlushedLsn is the highest LSN known durable (monotone non-decreasing).
// Implements pager.WalDurability.
func (w *Writer) FlushedLsn() page.Lsn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushedLsn
}

// SegmentNumber is the writer's current segment number, for checkpoint
// bookkeeping.
func (w *Writer) SegmentNumber() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segNo
}

func appendTyped(t PayloadType, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(t)
	copy(out[1:], body)
	return out
}

// AppendDeltas appends a deltas record and returns its LSN.
func (w *Writer) AppendDeltas(pageID page.PageID, deltas []Delta) (page.Lsn, error) {
	return w.append(appendTyped(PayloadDeltas, EncodeDeltas(pageID, deltas)))
}

// AppendFullImage appends a full-image record and returns its LSN.
func (w *Writer) AppendFullImage(pageID page.PageID, image []byte) (page.Lsn, error) {
	return w.append(appendTyped(PayloadFullImage, EncodeFullImage(pageID, image)))
}

// AppendCommit appends a commit record and returns its LSN.
func (w *Writer) AppendCommit() (page.Lsn, error) {
	return w.append(appendTyped(PayloadCommit, nil))
}

// append frames payload (a full logical record, including its leading
// payload-type byte) across one or more blocks, assigns it the next LSN,
// and returns that LSN. The record is not durable until Flush.
func (w *Writer) append(payload []byte) (page.Lsn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLsn
	w.nextLsn++

	crc := crc32.Checksum(payload, CrcTable)

	remaining := payload
	first := true
	for {
		avail := len(w.block) - w.blockPos
		// A fragment needs at least its header plus one payload byte to
		// make progress; otherwise close out this block with a zero-lsn
		// sentinel and roll to the next.
		if avail < RecordHeaderSize+1 {
			if err := w.closeBlockLocked(); err != nil {
				return 0, err
			}
			avail = len(w.block) - w.blockPos
		}

		chunk := remaining
		room := avail - RecordHeaderSize
		isLast := len(remaining) <= room
		if !isLast {
			chunk = remaining[:room]
		}

		var kind Kind
		switch {
		case first && isLast:
			kind = KindFull
		case first && !isLast:
			kind = KindFirst
		case !first && isLast:
			kind = KindLast
		default:
			kind = KindMiddle
		}

		w.writeFrameLocked(lsn, crc, kind, chunk)

		remaining = remaining[len(chunk):]
		first = false
		if isLast {
			break
		}
	}

	return lsn, nil
}

func (w *Writer) writeFrameLocked(lsn page.Lsn, crc uint32, kind Kind, payload []byte) {
	hdr := w.block[w.blockPos : w.blockPos+RecordHeaderSize]
	binary.BigEndian.PutUint64(hdr[0:8], uint64(lsn))
	binary.BigEndian.PutUint32(hdr[8:12], crc)
	hdr[12] = byte(kind)
	binary.BigEndian.PutUint16(hdr[13:15], uint16(len(payload)))
	copy(w.block[w.blockPos+RecordHeaderSize:], payload)
	w.blockPos += RecordHeaderSize + len(payload)
}

// closeBlockLocked zero-pads the remainder of the current block (a
// leading zero lsn there is the reader's end-of-log sentinel within a
// block), writes it, and starts a fresh in-memory block, rotating the
// segment if it has grown past SegmentLimit.
func (w *Writer) closeBlockLocked() error {
	for i := w.blockPos; i < len(w.block); i++ {
		w.block[i] = 0
	}
	if _, err := w.sink.Write(w.block); err != nil {
		return calicoerr.Wrap(calicoerr.Io, err, "write wal block")
	}
	w.segSize += int64(len(w.block))
	w.blockPos = 0

	if w.opts.SegmentLimit > 0 && w.segSize >= w.opts.SegmentLimit {
		if err := w.rotate(w.segNo + 1); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes all full blocks plus the current partial block and
// syncs the segment file. After Flush returns, every LSN appended so
// far is durable.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Sink is append-only, so a partial block forced out here can never be
	// revisited: pad it with zeros (a leading zero lsn mid-block is the
	// reader's end-of-log sentinel) and commit it as a full block. Later
	// appends start a fresh block.
	if w.blockPos > 0 {
		if err := w.closeBlockLocked(); err != nil {
			return err
		}
	}

	if err := w.sink.Sync(); err != nil {
		return calicoerr.Wrap(calicoerr.Io, err, "sync wal segment")
	}
	w.flushedLsn = w.nextLsn - 1
	return nil
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sink.Close()
}
