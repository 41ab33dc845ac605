package health

import (
	"io"

	"github.com/golang/snappy"
	"google.golang.org/grpc/encoding"
)

// CompressorName is the grpc-encoding value clients send to request snappy.
const CompressorName = "snappy"

func init() {
	encoding.RegisterCompressor(snappyCompressor{})
}

// snappyCompressor streams RPC payloads through the snappy framing format.
type snappyCompressor struct{}

func (snappyCompressor) Name() string { return CompressorName }

func (snappyCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (snappyCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return snappy.NewReader(r), nil
}
