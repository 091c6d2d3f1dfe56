package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"unsafe"

	"github.com/DataDog/zstd"
)

// ErrCorruptFile is returned when a hierarchy file fails validation.
var ErrCorruptFile = errors.New("corrupt hierarchy file")

const (
	chMagic   = "CHROUTER"
	chVersion = uint32(3) // v3: zstd body, road table
	maxNodes  = 10_000_000
	maxEdges  = 50_000_000
	maxRoads  = 100_000_000
)

// frameHeader starts every hierarchy file. BodyLen is the compressed size of
// the body that follows the format-specific header.
type frameHeader struct {
	Magic   [8]byte
	Version uint32
	_       uint32
	BodyLen uint64
}

var frameHeaderSize = int64(binary.Size(frameHeader{}))

// networkHeader counts the arrays of a Network section.
type networkHeader struct {
	NumNodes    uint32
	NumRoads    uint32
	NumShape    uint32
	HasGeometry uint32
}

type roadRecord struct {
	Source     uint32
	Target     uint32
	Distance   uint32
	SourceSlot uint8
	TargetSlot uint8
	Flags      uint8
	_          uint8
}

// chHeader is the format header of a plain CH file.
type chHeader struct {
	Network      networkHeader
	NumFwdEdges  uint32
	NumBwdEdges  uint32
	NumOrigEdges uint32
}

// WriteBinary serializes a plain CH graph with the given zstd level.
func WriteBinary(path string, chg *CHGraph, level int) error {
	nh, err := newNetworkHeader(&chg.Network)
	if err != nil {
		return err
	}
	if nh.NumNodes != chg.NumNodes {
		return fmt.Errorf("network has %d nodes, graph %d", nh.NumNodes, chg.NumNodes)
	}
	hdr := chHeader{
		Network:      nh,
		NumFwdEdges:  uint32(len(chg.FwdHead)),
		NumBwdEdges:  uint32(len(chg.BwdHead)),
		NumOrigEdges: uint32(len(chg.OrigHead)),
	}
	return writeFramed(path, chMagic, chVersion, &hdr, level, func(w io.Writer) error {
		if err := writeNetwork(w, &chg.Network); err != nil {
			return err
		}
		if err := writeSlice(w, chg.Rank); err != nil {
			return fmt.Errorf("write Rank: %w", err)
		}

		// Forward upward graph.
		if err := writeSlice(w, chg.FwdFirstOut); err != nil {
			return fmt.Errorf("write FwdFirstOut: %w", err)
		}
		if err := writeSlice(w, chg.FwdHead); err != nil {
			return fmt.Errorf("write FwdHead: %w", err)
		}
		if err := writeSlice(w, chg.FwdWeight); err != nil {
			return fmt.Errorf("write FwdWeight: %w", err)
		}
		if err := writeSlice(w, chg.FwdMiddle); err != nil {
			return fmt.Errorf("write FwdMiddle: %w", err)
		}

		// Backward upward graph.
		if err := writeSlice(w, chg.BwdFirstOut); err != nil {
			return fmt.Errorf("write BwdFirstOut: %w", err)
		}
		if err := writeSlice(w, chg.BwdHead); err != nil {
			return fmt.Errorf("write BwdHead: %w", err)
		}
		if err := writeSlice(w, chg.BwdWeight); err != nil {
			return fmt.Errorf("write BwdWeight: %w", err)
		}
		if err := writeSlice(w, chg.BwdMiddle); err != nil {
			return fmt.Errorf("write BwdMiddle: %w", err)
		}

		// Original graph edges.
		if err := writeSlice(w, chg.OrigFirstOut); err != nil {
			return fmt.Errorf("write OrigFirstOut: %w", err)
		}
		if err := writeSlice(w, chg.OrigHead); err != nil {
			return fmt.Errorf("write OrigHead: %w", err)
		}
		if err := writeSlice(w, chg.OrigWeight); err != nil {
			return fmt.Errorf("write OrigWeight: %w", err)
		}
		if err := writeSlice(w, chg.OrigEdgeID); err != nil {
			return fmt.Errorf("write OrigEdgeID: %w", err)
		}
		return nil
	})
}

// ReadBinary deserializes a plain CH graph. Rank is not loaded.
func ReadBinary(path string) (*CHGraph, error) {
	var hdr chHeader
	result := &CHGraph{}
	err := readFramed(path, chMagic, chVersion, &hdr, func(r io.Reader) error {
		if err := hdr.Network.check(); err != nil {
			return err
		}
		if hdr.NumFwdEdges > maxEdges || hdr.NumBwdEdges > maxEdges || hdr.NumOrigEdges > maxEdges {
			return fmt.Errorf("%w: edge count exceeds limit %d", ErrCorruptFile, maxEdges)
		}
		n := int(hdr.Network.NumNodes)
		result.NumNodes = hdr.Network.NumNodes

		var err error
		if result.Network, err = readNetwork(r, hdr.Network); err != nil {
			return err
		}
		// Skip Rank (only used during preprocessing, not at query time).
		if err := skipBytes(r, n*4); err != nil {
			return bodyError("Rank", err)
		}

		if result.FwdFirstOut, err = readSlice[uint32](r, n+1); err != nil {
			return bodyError("FwdFirstOut", err)
		}
		if result.FwdHead, err = readSlice[uint32](r, int(hdr.NumFwdEdges)); err != nil {
			return bodyError("FwdHead", err)
		}
		if result.FwdWeight, err = readSlice[uint32](r, int(hdr.NumFwdEdges)); err != nil {
			return bodyError("FwdWeight", err)
		}
		if result.FwdMiddle, err = readSlice[int32](r, int(hdr.NumFwdEdges)); err != nil {
			return bodyError("FwdMiddle", err)
		}

		if result.BwdFirstOut, err = readSlice[uint32](r, n+1); err != nil {
			return bodyError("BwdFirstOut", err)
		}
		if result.BwdHead, err = readSlice[uint32](r, int(hdr.NumBwdEdges)); err != nil {
			return bodyError("BwdHead", err)
		}
		if result.BwdWeight, err = readSlice[uint32](r, int(hdr.NumBwdEdges)); err != nil {
			return bodyError("BwdWeight", err)
		}
		if result.BwdMiddle, err = readSlice[int32](r, int(hdr.NumBwdEdges)); err != nil {
			return bodyError("BwdMiddle", err)
		}

		if result.OrigFirstOut, err = readSlice[uint32](r, n+1); err != nil {
			return bodyError("OrigFirstOut", err)
		}
		if result.OrigHead, err = readSlice[uint32](r, int(hdr.NumOrigEdges)); err != nil {
			return bodyError("OrigHead", err)
		}
		if result.OrigWeight, err = readSlice[uint32](r, int(hdr.NumOrigEdges)); err != nil {
			return bodyError("OrigWeight", err)
		}
		if result.OrigEdgeID, err = readSlice[uint32](r, int(hdr.NumOrigEdges)); err != nil {
			return bodyError("OrigEdgeID", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Validate CSR invariants.
	if err := validateCSR(result.FwdFirstOut, result.FwdHead, result.NumNodes); err != nil {
		return nil, fmt.Errorf("%w: forward CSR invalid: %v", ErrCorruptFile, err)
	}
	if err := validateCSR(result.BwdFirstOut, result.BwdHead, result.NumNodes); err != nil {
		return nil, fmt.Errorf("%w: backward CSR invalid: %v", ErrCorruptFile, err)
	}
	if err := validateCSR(result.OrigFirstOut, result.OrigHead, result.NumNodes); err != nil {
		return nil, fmt.Errorf("%w: original CSR invalid: %v", ErrCorruptFile, err)
	}
	for _, middle := range [][]int32{result.FwdMiddle, result.BwdMiddle} {
		for i, m := range middle {
			if m < -1 || m >= int32(result.NumNodes) {
				return nil, fmt.Errorf("%w: middle[%d]=%d outside graph", ErrCorruptFile, i, m)
			}
		}
	}
	for i, id := range result.OrigEdgeID {
		if id >= uint32(len(result.Roads)) {
			return nil, fmt.Errorf("%w: OrigEdgeID[%d]=%d >= roads %d", ErrCorruptFile, i, id, len(result.Roads))
		}
	}
	if err := validateNetwork(&result.Network); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	return result, nil
}

// writeFramed writes a frame header, the format header meta, a zstd
// compressed body and a CRC32 of the uncompressed body. The file is written to
// a temporary path and renamed into place.
func writeFramed(path, magic string, version uint32, meta any, level int, body func(w io.Writer) error) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // clean up on error
	}()

	hdr := frameHeader{Version: version}
	copy(hdr.Magic[:], magic)
	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, meta); err != nil {
		return fmt.Errorf("write format header: %w", err)
	}

	counter := &countingWriter{w: f}
	zw := zstd.NewWriterLevel(counter, level)
	crcWriter := crc32Writer{w: zw, hash: crc32.NewIEEE()}
	if err := body(&crcWriter); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close compressor: %w", err)
	}

	// Write CRC32 trailer.
	if err := binary.Write(f, binary.LittleEndian, crcWriter.hash.Sum32()); err != nil {
		return fmt.Errorf("write CRC32: %w", err)
	}

	hdr.BodyLen = uint64(counter.n)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek header: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("rewrite header: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Atomic rename.
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// readFramed reads a file written by writeFramed into meta and passes the
// decompressed body to body, which must consume it completely. The checksum
// is verified after body returns.
func readFramed(path, magic string, version uint32, meta any, body func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var hdr frameHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: read header: %v", ErrCorruptFile, err)
	}
	if string(hdr.Magic[:]) != magic {
		return fmt.Errorf("%w: invalid magic bytes %q", ErrCorruptFile, hdr.Magic)
	}
	if hdr.Version != version {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptFile, hdr.Version)
	}
	if err := binary.Read(f, binary.LittleEndian, meta); err != nil {
		return fmt.Errorf("%w: read format header: %v", ErrCorruptFile, err)
	}
	bodyStart := frameHeaderSize + int64(binary.Size(meta))

	zr := zstd.NewReader(io.LimitReader(f, int64(hdr.BodyLen)))
	defer zr.Close()
	crcReader := crc32Reader{r: zr, hash: crc32.NewIEEE()}
	if err := body(&crcReader); err != nil {
		return err
	}

	// Read and validate CRC32.
	if _, err := f.Seek(bodyStart+int64(hdr.BodyLen), io.SeekStart); err != nil {
		return fmt.Errorf("seek trailer: %w", err)
	}
	var storedCRC uint32
	if err := binary.Read(f, binary.LittleEndian, &storedCRC); err != nil {
		return fmt.Errorf("%w: read CRC32: %v", ErrCorruptFile, err)
	}
	if computed := crcReader.hash.Sum32(); storedCRC != computed {
		return fmt.Errorf("%w: CRC32 mismatch: stored=%08x computed=%08x", ErrCorruptFile, storedCRC, computed)
	}
	return nil
}

func newNetworkHeader(n *Network) (networkHeader, error) {
	if len(n.NodeLat) != len(n.NodeLon) {
		return networkHeader{}, fmt.Errorf("%d latitudes for %d longitudes", len(n.NodeLat), len(n.NodeLon))
	}
	hdr := networkHeader{NumNodes: n.NumNodes(), NumRoads: uint32(len(n.Roads))}
	if n.Geometry != nil {
		if len(n.Geometry.First) != len(n.Roads)+1 {
			return networkHeader{}, fmt.Errorf("geometry index has %d entries for %d roads", len(n.Geometry.First), len(n.Roads))
		}
		hdr.HasGeometry = 1
		hdr.NumShape = uint32(len(n.Geometry.Lat))
	}
	return hdr, nil
}

func (h networkHeader) check() error {
	if h.NumNodes > maxNodes {
		return fmt.Errorf("%w: NumNodes %d exceeds limit %d", ErrCorruptFile, h.NumNodes, maxNodes)
	}
	if h.NumRoads > maxRoads || h.NumShape > maxEdges {
		return fmt.Errorf("%w: road or shape count exceeds limits", ErrCorruptFile)
	}
	return nil
}

func writeNetwork(w io.Writer, n *Network) error {
	if err := writeSlice(w, n.NodeLat); err != nil {
		return fmt.Errorf("write NodeLat: %w", err)
	}
	if err := writeSlice(w, n.NodeLon); err != nil {
		return fmt.Errorf("write NodeLon: %w", err)
	}
	roads := make([]roadRecord, len(n.Roads))
	for i, r := range n.Roads {
		roads[i] = roadRecord{Source: r.Source, Target: r.Target, Distance: r.Distance, SourceSlot: r.SourceSlot, TargetSlot: r.TargetSlot}
		if r.Bidirectional {
			roads[i].Flags = flagBidirectional
		}
	}
	if err := writeSlice(w, roads); err != nil {
		return fmt.Errorf("write roads: %w", err)
	}
	if n.Geometry != nil {
		if err := writeSlice(w, n.Geometry.First); err != nil {
			return fmt.Errorf("write geometry index: %w", err)
		}
		if err := writeSlice(w, n.Geometry.Lat); err != nil {
			return fmt.Errorf("write geometry lat: %w", err)
		}
		if err := writeSlice(w, n.Geometry.Lon); err != nil {
			return fmt.Errorf("write geometry lon: %w", err)
		}
	}
	return nil
}

func readNetwork(r io.Reader, hdr networkHeader) (Network, error) {
	var n Network
	var err error
	if n.NodeLat, err = readSlice[float64](r, int(hdr.NumNodes)); err != nil {
		return n, bodyError("NodeLat", err)
	}
	if n.NodeLon, err = readSlice[float64](r, int(hdr.NumNodes)); err != nil {
		return n, bodyError("NodeLon", err)
	}
	roads, err := readSlice[roadRecord](r, int(hdr.NumRoads))
	if err != nil {
		return n, bodyError("roads", err)
	}
	n.Roads = make([]Road, len(roads))
	for i, rr := range roads {
		n.Roads[i] = Road{
			Source:        rr.Source,
			Target:        rr.Target,
			SourceSlot:    rr.SourceSlot,
			TargetSlot:    rr.TargetSlot,
			Distance:      rr.Distance,
			Bidirectional: rr.Flags&flagBidirectional != 0,
		}
	}
	if hdr.HasGeometry != 0 {
		geo := &Geometry{}
		if geo.First, err = readSlice[uint32](r, int(hdr.NumRoads)+1); err != nil {
			return n, bodyError("geometry index", err)
		}
		if geo.Lat, err = readSlice[float64](r, int(hdr.NumShape)); err != nil {
			return n, bodyError("geometry lat", err)
		}
		if geo.Lon, err = readSlice[float64](r, int(hdr.NumShape)); err != nil {
			return n, bodyError("geometry lon", err)
		}
		n.Geometry = geo
	}
	return n, nil
}

// validateNetwork checks road endpoints and the geometry index.
func validateNetwork(n *Network) error {
	numNodes := n.NumNodes()
	for i, r := range n.Roads {
		if r.Source >= numNodes || r.Target >= numNodes {
			return fmt.Errorf("road %d references node outside [0, %d)", i, numNodes)
		}
	}
	g := n.Geometry
	if g == nil {
		return nil
	}
	for i := 1; i < len(g.First); i++ {
		if g.First[i] < g.First[i-1] {
			return fmt.Errorf("geometry index not monotonic at %d", i)
		}
	}
	if last := g.First[len(g.First)-1]; int(last) != len(g.Lat) || len(g.Lat) != len(g.Lon) {
		return fmt.Errorf("geometry index ends at %d for %d points", last, len(g.Lat))
	}
	return nil
}

func bodyError(what string, err error) error {
	return fmt.Errorf("%w: read %s: %v", ErrCorruptFile, what, err)
}

// validateCSR checks CSR invariants.
func validateCSR(firstOut, head []uint32, numNodes uint32) error {
	if uint32(len(firstOut)) != numNodes+1 {
		return fmt.Errorf("FirstOut length %d != NumNodes+1 %d", len(firstOut), numNodes+1)
	}
	if firstOut[0] != 0 {
		return fmt.Errorf("FirstOut[0]=%d != 0", firstOut[0])
	}
	numEdges := firstOut[numNodes]
	if uint32(len(head)) != numEdges {
		return fmt.Errorf("Head length %d != FirstOut[NumNodes] %d", len(head), numEdges)
	}
	for i := uint32(1); i <= numNodes; i++ {
		if firstOut[i] < firstOut[i-1] {
			return fmt.Errorf("FirstOut not monotonic at %d: %d < %d", i, firstOut[i], firstOut[i-1])
		}
	}
	for i, h := range head {
		if h >= numNodes {
			return fmt.Errorf("Head[%d]=%d >= NumNodes=%d", i, h, numNodes)
		}
	}
	return nil
}

// skipBytes reads and discards n bytes from r.
// Used to skip fields that are written for format compatibility but not needed at runtime.
func skipBytes(r io.Reader, n int) error {
	var buf [32 * 1024]byte
	for n > 0 {
		toRead := min(n, len(buf))
		if _, err := io.ReadFull(r, buf[:toRead]); err != nil {
			return err
		}
		n -= toRead
	}
	return nil
}

// Zero-copy I/O helpers using unsafe.Slice. T must be a fixed-size type
// without implicit padding.

func writeSlice[T any](w io.Writer, s []T) error {
	if len(s) == 0 {
		return nil
	}
	var zero T
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
	_, err := w.Write(b)
	return err
}

func readSlice[T any](r io.Reader, n int) ([]T, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]T, n)
	var zero T
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*int(unsafe.Sizeof(zero)))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// CRC32 wrapping writers/readers.

type crc32Writer struct {
	w    io.Writer
	hash crc32Hash
}

type crc32Hash interface {
	Write([]byte) (int, error)
	Sum32() uint32
}

func (cw *crc32Writer) Write(p []byte) (int, error) {
	cw.hash.Write(p)
	return cw.w.Write(p)
}

type crc32Reader struct {
	r    io.Reader
	hash crc32Hash
}

func (cr *crc32Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.hash.Write(p[:n])
	}
	return n, err
}
