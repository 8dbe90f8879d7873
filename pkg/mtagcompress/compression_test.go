package mtagcompress

import (
	"bytes"
	"strings"
	"testing"
)

// a snapshot-shaped body big enough to clear MinCompressibleBytes.
func sampleSnapshotBody() []byte {
	var sb strings.Builder
	sb.WriteString(`{"PID":1234,"nTotalTrackedBytes":409600,"tree_for_TID1":{`)
	for i := 0; i < 40; i++ {
		sb.WriteString(`"scope_worker":{"nBytesTotalAllocated":4096,"nBytesSelfAllocated":128},`)
	}
	sb.WriteString(`"TID":1}}`)
	return []byte(sb.String())
}

func TestGzipCompressor(t *testing.T) {
	c := NewGzipCompressor(LevelDefault)
	original := sampleSnapshotBody()

	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(original, decompressed) {
		t.Error("Decompressed data doesn't match original")
	}
	if c.Type() != TypeGzip {
		t.Errorf("Expected TypeGzip, got %v", c.Type())
	}
	if c.Name() != "gzip" {
		t.Errorf("Expected 'gzip', got %s", c.Name())
	}
}

func TestZstdCompressor(t *testing.T) {
	c, err := NewZstdCompressor(LevelDefault)
	if err != nil {
		t.Fatalf("Failed to create zstd compressor: %v", err)
	}
	defer c.Close()

	original := sampleSnapshotBody()
	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(original, decompressed) {
		t.Error("Decompressed data doesn't match original")
	}
	if c.Type() != TypeZstd {
		t.Errorf("Expected TypeZstd, got %v", c.Type())
	}
	if c.Name() != "zstd" {
		t.Errorf("Expected 'zstd', got %s", c.Name())
	}

	// the repetitive nested-scope shape should compress well.
	if len(compressed) >= len(original) {
		t.Errorf("expected zstd to shrink a repetitive snapshot body: %d >= %d", len(compressed), len(original))
	}
}

func TestNoOpCompressor(t *testing.T) {
	c := NewNoOpCompressor()
	original := []byte(`{"PID":1}`)

	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !bytes.Equal(original, compressed) {
		t.Error("NoOp compressor should return data unchanged")
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(original, decompressed) {
		t.Error("NoOp decompressor should return data unchanged")
	}
	if c.Type() != TypeNone {
		t.Errorf("Expected TypeNone, got %v", c.Type())
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"", TypeZstd, false},
		{"zstd", TypeZstd, false},
		{"gzip", TypeGzip, false},
		{"none", TypeNone, false},
		{"lz4", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseType(%q): expected error, got nil", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseType(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestChooseForBody(t *testing.T) {
	if got := ChooseForBody(10, TypeZstd); got != TypeNone {
		t.Errorf("small body: got %v, want TypeNone", got)
	}
	if got := ChooseForBody(MinCompressibleBytes-1, TypeGzip); got != TypeNone {
		t.Errorf("body just under threshold: got %v, want TypeNone", got)
	}
	if got := ChooseForBody(MinCompressibleBytes, TypeZstd); got != TypeZstd {
		t.Errorf("body at threshold: got %v, want TypeZstd", got)
	}
	if got := ChooseForBody(1<<20, TypeGzip); got != TypeGzip {
		t.Errorf("large body: got %v, want TypeGzip", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		compType  Type
		level     Level
		expectErr bool
	}{
		{"gzip default", TypeGzip, LevelDefault, false},
		{"zstd default", TypeZstd, LevelDefault, false},
		{"none", TypeNone, LevelDefault, false},
		{"unknown", Type(100), LevelDefault, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.compType, tt.level)
			if tt.expectErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if c == nil {
				t.Error("Expected compressor, got nil")
			}
			Close(c)
		})
	}
}

func TestCompressionLevels(t *testing.T) {
	original := sampleSnapshotBody()
	levels := []Level{LevelFastest, LevelDefault, LevelBest}

	for _, level := range levels {
		t.Run("gzip", func(t *testing.T) {
			c := NewGzipCompressor(level)
			compressed, err := c.Compress(original)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			decompressed, err := c.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(original, decompressed) {
				t.Error("Data mismatch")
			}
		})

		t.Run("zstd", func(t *testing.T) {
			c, err := NewZstdCompressor(level)
			if err != nil {
				t.Fatalf("Failed to create compressor: %v", err)
			}
			defer c.Close()

			compressed, err := c.Compress(original)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			decompressed, err := c.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(original, decompressed) {
				t.Error("Data mismatch")
			}
		})
	}
}

func BenchmarkGzipCompress(b *testing.B) {
	c := NewGzipCompressor(LevelDefault)
	data := sampleSnapshotBody()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Compress(data)
	}
}

func BenchmarkZstdCompress(b *testing.B) {
	c, _ := NewZstdCompressor(LevelDefault)
	defer c.Close()
	data := sampleSnapshotBody()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Compress(data)
	}
}
