package chunkfile

import (
	"bufio"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"chunkhost.ai/internal/sim/chunk"
)

const Version = 1

const ext = ".chunk.zst"

// Header is the JSON line at the start of every chunk file. It can be read
// without decoding the block body.
type Header struct {
	Version int         `json:"version"`
	Coord   chunk.Coord `json:"coord"`
	Digest  string      `json:"digest"`
	SavedAt time.Time   `json:"saved_at"`
}

type recordV1 struct {
	Header Header
	Blocks []uint16
}

// Path returns where the chunk at coord lives under a world directory.
func Path(root string, c chunk.Coord) string {
	return filepath.Join(root, "chunks", fmt.Sprintf("%d.%d.%d%s", c.X, c.Y, c.Z, ext))
}

// ParseName recovers the coordinate from a chunk file name.
func ParseName(name string) (chunk.Coord, bool) {
	base := strings.TrimSuffix(filepath.Base(name), ext)
	if base == filepath.Base(name) {
		return chunk.Coord{}, false
	}
	parts := strings.Split(base, ".")
	if len(parts) != 3 {
		return chunk.Coord{}, false
	}
	var v [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return chunk.Coord{}, false
		}
		v[i] = n
	}
	return chunk.C(v[0], v[1], v[2]), true
}

// Write stores ch at path. The file is written next to its destination and
// renamed into place, so readers never see a partial chunk.
func Write(path string, ch *chunk.Chunk, now time.Time) (Header, error) {
	d := ch.Digest()
	rec := recordV1{
		Header: Header{
			Version: Version,
			Coord:   ch.Coordinate(),
			Digest:  hex.EncodeToString(d[:]),
			SavedAt: now.UTC(),
		},
		Blocks: ch.Blocks(),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Header{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*"+ext)
	if err != nil {
		return Header{}, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encode(tmp, &rec); err != nil {
		_ = tmp.Close()
		return Header{}, err
	}
	if err := tmp.Close(); err != nil {
		return Header{}, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return Header{}, err
	}
	return rec.Header, nil
}

func encode(f *os.File, rec *recordV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 16*1024)

	hb, err := json.Marshal(rec.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(rec); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ErrCorrupt means a chunk file decoded but its content does not match its header.
var ErrCorrupt = errors.New("corrupt chunk file")

// Read loads the chunk at path and gives it level. The stored digest is
// checked against the decoded blocks.
func Read(path string, level chunk.Level) (*chunk.Chunk, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, Header{}, err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 16*1024)

	// The gob body repeats the header; the line only serves ReadHeader.
	if _, err := br.ReadBytes('\n'); err != nil {
		return nil, Header{}, fmt.Errorf("read header: %w", err)
	}
	var rec recordV1
	if err := gob.NewDecoder(br).Decode(&rec); err != nil {
		return nil, Header{}, fmt.Errorf("gob decode: %w", err)
	}
	if rec.Header.Version != Version {
		return nil, rec.Header, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, rec.Header.Version)
	}
	ch, err := chunk.FromBlocks(rec.Header.Coord, level, rec.Blocks)
	if err != nil {
		return nil, rec.Header, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	d := ch.Digest()
	if got := hex.EncodeToString(d[:]); got != rec.Header.Digest {
		return nil, rec.Header, fmt.Errorf("%w: digest mismatch for %s", ErrCorrupt, rec.Header.Coord)
	}
	return ch, rec.Header, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
