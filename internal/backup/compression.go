package backup

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType identifies an archive codec
type CompressionType string

const (
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeZstd CompressionType = "zstd"
	CompressionTypeLZ4  CompressionType = "lz4"
)

// ParseCompressionType parses a codec name
func ParseCompressionType(name string) (CompressionType, error) {
	switch CompressionType(strings.ToLower(strings.TrimSpace(name))) {
	case CompressionTypeGzip, "":
		return CompressionTypeGzip, nil
	case CompressionTypeZstd:
		return CompressionTypeZstd, nil
	case CompressionTypeLZ4:
		return CompressionTypeLZ4, nil
	default:
		return "", NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", name), nil)
	}
}

// Extension returns the archive file extension for the codec
func (c CompressionType) Extension() string {
	switch c {
	case CompressionTypeZstd:
		return ".tar.zst"
	case CompressionTypeLZ4:
		return ".tar.lz4"
	default:
		return ".tar.gz"
	}
}

// Compressor provides streaming compression for one codec
type Compressor interface {
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	GetAlgorithm() CompressionType
	GetDefaultLevel() int
	GetMaxLevel() int
	GetMinLevel() int
	Magic() []byte
}

// CompressionManager manages compression codecs
type CompressionManager struct {
	compressors map[CompressionType]Compressor
	order       []CompressionType
}

// NewCompressionManager creates a new compression manager
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.register(&GzipCompressor{})
	cm.register(&ZstdCompressor{})
	cm.register(&LZ4Compressor{})

	return cm
}

func (cm *CompressionManager) register(c Compressor) {
	cm.compressors[c.GetAlgorithm()] = c
	cm.order = append(cm.order, c.GetAlgorithm())
}

// GetCompressor returns a compressor for the specified algorithm
func (cm *CompressionManager) GetCompressor(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return compressor, nil
}

// GetSupportedAlgorithms returns the supported compression algorithms
func (cm *CompressionManager) GetSupportedAlgorithms() []CompressionType {
	return append([]CompressionType(nil), cm.order...)
}

// NewWriter wraps w with the given codec. A level of 0 or one outside the
// codec's range selects the codec default.
func (cm *CompressionManager) NewWriter(w io.Writer, algorithm CompressionType, level int) (io.WriteCloser, error) {
	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return nil, err
	}

	if level == 0 || level < compressor.GetMinLevel() || level > compressor.GetMaxLevel() {
		level = compressor.GetDefaultLevel()
	}
	return compressor.NewWriter(w, level)
}

// NewReader wraps r with the decompressor for algorithm
func (cm *CompressionManager) NewReader(r io.Reader, algorithm CompressionType) (io.ReadCloser, error) {
	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return nil, err
	}
	return compressor.NewReader(r)
}

// Detect identifies the codec from the leading bytes of a stream
func (cm *CompressionManager) Detect(header []byte) (CompressionType, error) {
	for _, algorithm := range cm.order {
		if bytes.HasPrefix(header, cm.compressors[algorithm].Magic()) {
			return algorithm, nil
		}
	}
	return "", NewInvalidContainerError("unrecognised archive format: not gzip, zstd or lz4 compressed", nil)
}

// OpenReader detects the codec of r and returns a decompressing reader
func (cm *CompressionManager) OpenReader(r io.Reader) (io.ReadCloser, CompressionType, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(4)
	if err != nil && len(header) == 0 {
		return nil, "", NewInvalidContainerError("archive is empty or unreadable", err)
	}

	algorithm, err := cm.Detect(header)
	if err != nil {
		return nil, "", err
	}

	reader, err := cm.NewReader(br, algorithm)
	if err != nil {
		return nil, algorithm, NewInvalidContainerError(fmt.Sprintf("failed to open %s stream", algorithm), err)
	}
	return reader, algorithm, nil
}

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, NewCompressionError("failed to create gzip writer", err)
	}
	return writer, nil
}

func (gc *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, NewCompressionError("failed to create gzip reader", err)
	}
	return reader, nil
}

func (gc *GzipCompressor) GetAlgorithm() CompressionType {
	return CompressionTypeGzip
}

func (gc *GzipCompressor) GetDefaultLevel() int {
	return gzip.DefaultCompression
}

func (gc *GzipCompressor) GetMaxLevel() int {
	return gzip.BestCompression
}

func (gc *GzipCompressor) GetMinLevel() int {
	return gzip.BestSpeed
}

func (gc *GzipCompressor) Magic() []byte {
	return []byte{0x1f, 0x8b}
}

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, NewCompressionError("failed to create zstd encoder", err)
	}
	return encoder, nil
}

func (zc *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	return decoder.IOReadCloser(), nil
}

func (zc *ZstdCompressor) GetAlgorithm() CompressionType {
	return CompressionTypeZstd
}

func (zc *ZstdCompressor) GetDefaultLevel() int {
	return 3
}

func (zc *ZstdCompressor) GetMaxLevel() int {
	return 22
}

func (zc *ZstdCompressor) GetMinLevel() int {
	return 1
}

func (zc *ZstdCompressor) Magic() []byte {
	return []byte{0x28, 0xb5, 0x2f, 0xfd}
}

// LZ4Compressor implements LZ4 frame compression
type LZ4Compressor struct{}

// Level 1 is the fast mode, 2-9 the high compression levels
var lz4Levels = map[int]lz4.CompressionLevel{
	1: lz4.Fast,
	2: lz4.Level2,
	3: lz4.Level3,
	4: lz4.Level4,
	5: lz4.Level5,
	6: lz4.Level6,
	7: lz4.Level7,
	8: lz4.Level8,
	9: lz4.Level9,
}

func (lc *LZ4Compressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)
	if lvl, ok := lz4Levels[level]; ok {
		if err := writer.Apply(lz4.CompressionLevelOption(lvl)); err != nil {
			return nil, NewCompressionError("failed to set LZ4 compression level", err)
		}
	}
	return writer, nil
}

func (lc *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (lc *LZ4Compressor) GetAlgorithm() CompressionType {
	return CompressionTypeLZ4
}

func (lc *LZ4Compressor) GetDefaultLevel() int {
	return 1
}

func (lc *LZ4Compressor) GetMaxLevel() int {
	return 9
}

func (lc *LZ4Compressor) GetMinLevel() int {
	return 1
}

func (lc *LZ4Compressor) Magic() []byte {
	return []byte{0x04, 0x22, 0x4d, 0x18}
}
