package compress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGunzip(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr bool
	}{
		{
			name:    "empty input",
			data:    []byte{},
			want:    nil,
			wantErr: true,
		},
		{
			name:    "valid gzip data",
			data:    []byte{31, 139, 8, 0, 0, 0, 0, 0, 2, 3, 243, 72, 205, 201, 201, 87, 8, 207, 47, 202, 73, 1, 0, 86, 177, 23, 74, 11, 0, 0, 0},
			want:    []byte("Hello World"),
			wantErr: false,
		},
		{
			name:    "invalid gzip data",
			data:    []byte{1, 2, 3, 4},
			want:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Gunzip(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Gunzip() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Gunzip() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGzipRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":     {},
		"ascii":     []byte("Hello World"),
		"multibyte": []byte(strings.Repeat("星系 ✨ Plejaden · ", 2000)),
		"large":     bytes.Repeat([]byte("abcdefghij"), 40_000),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			z, err := Gzip(in)
			require.NoError(t, err)
			out, err := Gunzip(z)
			require.NoError(t, err)
			assert.Equal(t, len(in), len(out))
			assert.True(t, bytes.Equal(in, out))
		})
	}
}

func TestGzipShrinksRepetitiveInput(t *testing.T) {
	in := bytes.Repeat([]byte("pleiades "), 10_000)
	z, err := Gzip(in)
	require.NoError(t, err)
	assert.Less(t, len(z), len(in)/10)
}
