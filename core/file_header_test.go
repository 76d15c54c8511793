package core

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeader_RoundTrip(t *testing.T) {
	h := NewFileHeader(SSTableMagicNumber, CompressionZSTD)
	data := h.AppendBinary(nil)
	require.Len(t, data, FileHeaderSize)
	assert.Equal(t, FileHeaderSize, binary.Size(h), "matches the packed struct layout")

	got, err := DecodeFileHeader(append(data, 0xAA, 0xBB), SSTableMagicNumber)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.WithinDuration(t, time.Now(), got.Created(), time.Minute)
}

func TestDecodeFileHeader_Errors(t *testing.T) {
	data := NewFileHeader(CSTableMagicNumber, CompressionSnappy).AppendBinary(nil)

	_, err := DecodeFileHeader(data[:FileHeaderSize-1], CSTableMagicNumber)
	assert.ErrorIs(t, err, ErrCorrupted)

	_, err = DecodeFileHeader(data, SummaryMagicNumber)
	assert.ErrorIs(t, err, ErrCorrupted)

	bad := append([]byte(nil), data...)
	bad[4] = FormatVersion + 1
	_, err = DecodeFileHeader(bad, CSTableMagicNumber)
	assert.ErrorIs(t, err, ErrCorrupted)
}
