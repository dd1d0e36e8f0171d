package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"
	"sort"

	"calico/internal/calicoerr"
	"calico/internal/env"
	"calico/internal/page"
)

// Reader replays logical records in LSN order from a run of segments
// (spec.md §4.4's forward reader).
type Reader struct {
	e        env.Env
	dir      string
	segments []uint64
	blockSz  int
}

// OpenForward lists the segments in dir at or after fromSegment and
// prepares to iterate their records in LSN order.
func OpenForward(e env.Env, dir string, blockSize int, fromSegment uint64) (*Reader, error) {
	segs, err := listSegments(e, dir)
	if err != nil {
		return nil, err
	}
	filtered := segs[:0]
	for _, s := range segs {
		if s >= fromSegment {
			filtered = append(filtered, s)
		}
	}
	return &Reader{e: e, dir: dir, segments: filtered, blockSz: blockSize}, nil
}

func listSegments(e env.Env, dir string) ([]uint64, error) {
	names, err := e.Children(dir)
	if err != nil {
		return nil, calicoerr.Wrap(calicoerr.Io, err, "list wal dir")
	}
	var segs []uint64
	for _, n := range names {
		var segNo uint64
		if _, err := fmt.Sscanf(filepath.Base(n), "wal-%020d.seg", &segNo); err == nil {
			segs = append(segs, segNo)
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	return segs, nil
}

func segmentPath(dir string, segNo uint64) string {
	return fmt.Sprintf("%s/wal-%020d.seg", dir, segNo)
}

// frag is one physical fragment decoded off a block.
type frag struct {
	lsn     page.Lsn
	crc     uint32
	kind    Kind
	payload []byte
}

// Each reasserts a record to fn in forward LSN order across all
// segments, reassembling first/middle/last fragments and verifying
// crc32c. It tolerates a torn trailing record at the very end (clean
// truncation after a crash) but returns Corruption for any other
// integrity violation.
func (r *Reader) Each(fn func(Record) error) error {
	var pending []byte
	var pendingLsn page.Lsn
	var pendingCrc uint32
	haveFirst := false

	flushTorn := func() {
		pending = nil
		haveFirst = false
	}

	for si, segNo := range r.segments {
		isLastSegment := si == len(r.segments)-1
		f, err := r.e.NewReader(segmentPath(r.dir, segNo))
		if err != nil {
			return calicoerr.Wrap(calicoerr.Io, err, "open wal segment")
		}

		block := make([]byte, r.blockSz)
		for {
			n, rerr := io.ReadFull(f, block)
			if n == 0 {
				break
			}
			pos := 0
			for pos+RecordHeaderSize <= n {
				lsn := page.Lsn(binary.BigEndian.Uint64(block[pos:]))
				if lsn == 0 {
					// end-of-log sentinel within this block
					break
				}
				crc := binary.BigEndian.Uint32(block[pos+8:])
				kind := Kind(block[pos+12])
				plen := int(binary.BigEndian.Uint16(block[pos+13:]))
				pos += RecordHeaderSize
				if pos+plen > n {
					// a fragment header claimed more than this block holds:
					// only tolerable as a torn tail at the very end of the log.
					if isLastSegment {
						flushTorn()
						f.Close()
						return nil
					}
					f.Close()
					return calicoerr.New(calicoerr.Corruption, "wal fragment overruns block")
				}
				fragment := block[pos : pos+plen]
				pos += plen

				switch kind {
				case KindFull:
					if err := r.emit(fn, lsn, crc, fragment); err != nil {
						f.Close()
						return err
					}
				case KindFirst:
					pending = append([]byte(nil), fragment...)
					pendingLsn = lsn
					pendingCrc = crc
					haveFirst = true
				case KindMiddle, KindLast:
					if !haveFirst || lsn != pendingLsn || crc != pendingCrc {
						if isLastSegment {
							flushTorn()
							f.Close()
							return nil
						}
						f.Close()
						return calicoerr.New(calicoerr.Corruption, "wal fragment without matching first")
					}
					pending = append(pending, fragment...)
					if kind == KindLast {
						if err := r.emit(fn, lsn, crc, pending); err != nil {
							f.Close()
							return err
						}
						flushTorn()
					}
				}
			}

			if rerr == io.ErrUnexpectedEOF || rerr == io.EOF {
				break
			}
			if rerr != nil {
				f.Close()
				return calicoerr.Wrap(calicoerr.Io, rerr, "read wal block")
			}
		}
		f.Close()
	}

	if haveFirst {
		// Trailing first-without-last fragment: torn tail, tolerated.
		flushTorn()
	}
	return nil
}

func (r *Reader) emit(fn func(Record) error, lsn page.Lsn, wantCrc uint32, payload []byte) error {
	gotCrc := crc32.Checksum(payload, CrcTable)
	if gotCrc != wantCrc {
		return calicoerr.New(calicoerr.Corruption, "wal record crc mismatch at lsn %d", lsn)
	}
	if len(payload) == 0 {
		return calicoerr.New(calicoerr.Corruption, "empty wal record at lsn %d", lsn)
	}
	return fn(Record{Lsn: lsn, Type: PayloadType(payload[0]), Payload: payload[1:]})
}

// OpenBackward iterates segments from the newest down to fromSegment,
// still yielding records within each segment in forward order. The
// recovery driver does not use it: its redo and undo passes both read
// the log forward.
func OpenBackward(e env.Env, dir string, blockSize int, fromSegment uint64) (*Reader, error) {
	segs, err := listSegments(e, dir)
	if err != nil {
		return nil, err
	}
	var filtered []uint64
	for _, s := range segs {
		if s >= fromSegment {
			filtered = append(filtered, s)
		}
	}
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}
	return &Reader{e: e, dir: dir, segments: filtered, blockSz: blockSize}, nil
}

// AllRecords is a convenience wrapper collecting every record into a
// slice, used by the recovery driver's redo/undo passes.
func (r *Reader) AllRecords() ([]Record, error) {
	var out []Record
	err := r.Each(func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}
