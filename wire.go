package shufflemeta

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/OneOfOne/xxhash"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"
)

// On-wire form of a single status:
//
//	uvarint payload length
//	payload:
//	  discriminator byte (0x00 compressed, 0x01 highly compressed)
//	  location (len-prefixed host, len-prefixed executor id, port)
//	  map id
//	  variant fields
//	cksum: 8-byte big-endian xxhash64 of the payload
//
// All multi-byte integers inside the payload are unsigned varints.
// Outlier triples are written in ascending index order so the encoding
// of a status is stable across runs.
const (
	statusCompressed       = 0x00
	statusHighlyCompressed = 0x01

	// upper bound on a single payload; anything larger is garbage
	maxStatusPayload = 1 << 30
)

// magic prefix of a zstd-framed status batch
const statusBatchMagic = "SMB1"

type encbuf struct {
	b       []byte
	scratch [binary.MaxVarintLen64]byte
}

func (e *encbuf) byte(v byte) { e.b = append(e.b, v) }

func (e *encbuf) uvarint(v uint64) {
	n := binary.PutUvarint(e.scratch[:], v)
	e.b = append(e.b, e.scratch[:n]...)
}

func (e *encbuf) lenPrefixed(p []byte) {
	e.uvarint(uint64(len(p)))
	e.b = append(e.b, p...)
}

type decbuf struct {
	b   []byte
	off int
	bad bool
}

func (d *decbuf) fail() {
	d.bad = true
}

func (d *decbuf) byte() byte {
	if d.bad || d.off >= len(d.b) {
		d.fail()
		return 0
	}
	v := d.b[d.off]
	d.off++
	return v
}

func (d *decbuf) uvarint() uint64 {
	if d.bad {
		return 0
	}
	v, n := binary.Uvarint(d.b[d.off:])
	if n <= 0 {
		d.fail()
		return 0
	}
	d.off += n
	return v
}

func (d *decbuf) bytes(n int) []byte {
	if d.bad || n < 0 || d.off+n > len(d.b) {
		d.fail()
		return nil
	}
	v := d.b[d.off : d.off+n]
	d.off += n
	return v
}

func (d *decbuf) lenPrefixed() []byte {
	n := d.uvarint()
	if n > uint64(len(d.b)) {
		d.fail()
		return nil
	}
	return d.bytes(int(n))
}

func (d *decbuf) str() string { return string(d.lenPrefixed()) }

// WriteStatus serializes one status to w.
func WriteStatus(w io.Writer, s MapStatus) error {
	var e encbuf

	switch st := s.(type) {
	case *CompressedStatus:
		e.byte(statusCompressed)
		encodeLocation(&e, st.loc)
		e.uvarint(uint64(st.mapID))
		e.lenPrefixed(st.sizes)

	case *HighlyCompressedStatus:
		e.byte(statusHighlyCompressed)
		encodeLocation(&e, st.loc)
		e.uvarint(uint64(st.mapID))
		e.uvarint(uint64(st.n))
		e.uvarint(st.avgSize)

		bm, err := st.emptyBlocks.MarshalBinary()
		if err != nil {
			return xerrors.Errorf("marshaling empty-block set: %w", err)
		}
		e.lenPrefixed(bm)

		idxs := make([]uint32, 0, len(st.exact)+len(st.skewed))
		for i := range st.exact {
			idxs = append(idxs, i)
		}
		for i := range st.skewed {
			idxs = append(idxs, i)
		}
		sort.Slice(idxs, func(a, b int) bool { return idxs[a] < idxs[b] })

		e.uvarint(uint64(len(idxs)))
		for _, i := range idxs {
			e.uvarint(uint64(i))
			if sz, ok := st.exact[i]; ok {
				e.byte(0x01)
				e.uvarint(sz)
			} else {
				e.byte(0x00)
				e.byte(st.skewed[i])
			}
		}

	default:
		return xerrors.Errorf("cannot serialize status of type %T", s)
	}

	var hdr encbuf
	hdr.uvarint(uint64(len(e.b)))
	if _, err := w.Write(hdr.b); err != nil {
		return err
	}
	if _, err := w.Write(e.b); err != nil {
		return err
	}
	var cksum [8]byte
	binary.BigEndian.PutUint64(cksum[:], xxhash.Checksum64(e.b))
	_, err := w.Write(cksum[:])
	return err
}

func encodeLocation(e *encbuf, loc Location) {
	e.lenPrefixed([]byte(loc.Host))
	e.lenPrefixed([]byte(loc.ExecutorID))
	e.uvarint(uint64(loc.Port))
}

func decodeLocation(d *decbuf) Location {
	var loc Location
	loc.Host = d.str()
	loc.ExecutorID = d.str()
	loc.Port = uint16(d.uvarint())
	return loc
}

// ReadStatus deserializes one status from r. Any framing inconsistency
// comes back as ErrCorruptStatus.
func ReadStatus(r io.Reader) (MapStatus, error) {
	br := &byteReader{r: r}
	payloadLen, err := binary.ReadUvarint(br)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, xerrors.Errorf("reading frame length: %w", ErrCorruptStatus)
	}
	if payloadLen == 0 || payloadLen > maxStatusPayload {
		return nil, xerrors.Errorf("implausible frame length %d: %w", payloadLen, ErrCorruptStatus)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, xerrors.Errorf("reading %d-byte frame: %w", payloadLen, ErrCorruptStatus)
	}
	var cksum [8]byte
	if _, err := io.ReadFull(r, cksum[:]); err != nil {
		return nil, xerrors.Errorf("reading frame checksum: %w", ErrCorruptStatus)
	}
	if binary.BigEndian.Uint64(cksum[:]) != xxhash.Checksum64(payload) {
		return nil, xerrors.Errorf("frame checksum mismatch: %w", ErrCorruptStatus)
	}

	d := &decbuf{b: payload}
	disc := d.byte()
	loc := decodeLocation(d)
	mapID := uint32(d.uvarint())

	var s MapStatus
	switch disc {
	case statusCompressed:
		sizes := d.lenPrefixed()
		if d.bad || len(sizes) == 0 {
			return nil, xerrors.Errorf("decoding compressed status: %w", ErrCorruptStatus)
		}
		s = &CompressedStatus{loc: loc, mapID: mapID, sizes: append([]uint8(nil), sizes...)}

	case statusHighlyCompressed:
		n := d.uvarint()
		avg := d.uvarint()
		bmBytes := d.lenPrefixed()
		if d.bad {
			return nil, xerrors.Errorf("decoding highly compressed status header: %w", ErrCorruptStatus)
		}
		empty := roaring.New()
		if err := empty.UnmarshalBinary(bmBytes); err != nil {
			return nil, xerrors.Errorf("decoding empty-block set: %w", ErrCorruptStatus)
		}

		numOutliers := d.uvarint()
		exact := make(map[uint32]uint64)
		skewed := make(map[uint32]uint8)
		for i := uint64(0); i < numOutliers && !d.bad; i++ {
			idx := uint32(d.uvarint())
			switch d.byte() {
			case 0x01:
				exact[idx] = d.uvarint()
			case 0x00:
				skewed[idx] = d.byte()
			default:
				d.fail()
			}
		}
		if d.bad || n == 0 || n > maxStatusPayload ||
			(!empty.IsEmpty() && uint64(empty.Maximum()) >= n) ||
			uint64(len(exact)+len(skewed)) > n {
			return nil, xerrors.Errorf("decoding highly compressed status: %w", ErrCorruptStatus)
		}
		s = &HighlyCompressedStatus{
			loc:         loc,
			mapID:       mapID,
			n:           int(n),
			avgSize:     avg,
			emptyBlocks: empty,
			exact:       exact,
			skewed:      skewed,
		}

	default:
		return nil, xerrors.Errorf("unknown status discriminator 0x%02x: %w", disc, ErrCorruptStatus)
	}

	if d.off != len(d.b) {
		return nil, xerrors.Errorf("frame advertises %d bytes but %d consumed: %w", len(d.b), d.off, ErrCorruptStatus)
	}
	return s, nil
}

type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}

// WriteStatusBatch frames a set of statuses for transport to the
// driver: a magic marker, a count and the individual status frames,
// all inside one zstd stream. Broadcast metadata compresses well here
// since statuses of one shuffle share locations and size shapes.
func WriteStatusBatch(w io.Writer, statuses []MapStatus) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return xerrors.Errorf("opening zstd stream: %w", err)
	}
	if _, err := zw.Write([]byte(statusBatchMagic)); err != nil {
		zw.Close()
		return err
	}
	var e encbuf
	e.uvarint(uint64(len(statuses)))
	if _, err := zw.Write(e.b); err != nil {
		zw.Close()
		return err
	}
	for _, s := range statuses {
		if err := WriteStatus(zw, s); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

// ReadStatusBatch reverses WriteStatusBatch.
func ReadStatusBatch(r io.Reader) ([]MapStatus, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, xerrors.Errorf("opening zstd stream: %w", err)
	}
	defer zr.Close()

	magic := make([]byte, len(statusBatchMagic))
	if _, err := io.ReadFull(zr, magic); err != nil || string(magic) != statusBatchMagic {
		return nil, xerrors.Errorf("bad status batch magic: %w", ErrCorruptStatus)
	}
	br := &byteReader{r: zr}
	count, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, xerrors.Errorf("reading status batch count: %w", ErrCorruptStatus)
	}

	prealloc := count
	if prealloc > 4096 {
		prealloc = 4096
	}
	statuses := make([]MapStatus, 0, prealloc)
	for i := uint64(0); i < count; i++ {
		s, err := ReadStatus(zr)
		if err == io.EOF {
			return nil, xerrors.Errorf("batch truncated at status %d of %d: %w", i, count, ErrCorruptStatus)
		}
		if err != nil {
			return nil, xerrors.Errorf("status %d of %d: %w", i, count, err)
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}
