package memcache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Item.Flags 中标记压缩算法的位
const (
	flagSnappy uint32 = 1 << 0
	flagLZ4    uint32 = 1 << 1
)

// compress 超过阈值时压缩，返回写入的字节与对应的标记位
func compress(algo string, threshold int, raw []byte) ([]byte, uint32, error) {
	if len(raw) <= threshold {
		return raw, 0, nil
	}
	switch algo {
	case CompressionSnappy:
		return snappy.Encode(nil, raw), flagSnappy, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, 0, err
		}
		if err := zw.Close(); err != nil {
			return nil, 0, err
		}
		return buf.Bytes(), flagLZ4, nil
	}
	return raw, 0, nil
}

// decompress 根据标记位解压，读取时与当前配置无关
func decompress(flags uint32, value []byte) ([]byte, error) {
	switch {
	case flags&flagSnappy != 0:
		return snappy.Decode(nil, value)
	case flags&flagLZ4 != 0:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(value)))
	case flags != 0:
		return nil, fmt.Errorf("unknown item flags %#x", flags)
	}
	return value, nil
}
