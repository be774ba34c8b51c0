// Package codec turns narratives into store values and back.
//
// Values are msgpack envelopes. Narrative text larger than the compression
// threshold is gzipped and base64 encoded inside the envelope; SizeBytes
// always records the size of the original text.
package codec

import (
	"encoding/base64"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/starsorter/narrative-cache/compress"
	"github.com/starsorter/narrative-cache/profile"
	"github.com/vmihailenco/msgpack/v5"
)

// SchemaVersion tags every envelope written by this package.
const SchemaVersion = "2.1.0"

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

var (
	// ErrTooLarge is returned by Encode when the envelope exceeds MaxValueBytes.
	ErrTooLarge = errors.New("cached value exceeds max size")
	// ErrCorrupt marks values that cannot be decoded.
	ErrCorrupt = errors.New("corrupt cached value")
)

type Meta struct {
	CreatedAt   time.Time   `msgpack:"created_at"`
	RefreshedAt time.Time   `msgpack:"refreshed_at"`
	StaleAfter  time.Time   `msgpack:"stale_after"`
	TTLSeconds  int64       `msgpack:"ttl_seconds"`
	SizeBytes   int         `msgpack:"size_bytes"`
	Compression Compression `msgpack:"compression"`
}

// CachedNarrative is the persisted form of a generated narrative.
type CachedNarrative struct {
	Version    string           `msgpack:"version"`
	Engine     string           `msgpack:"engine"`
	PromptHash string           `msgpack:"prompt_hash"`
	Profile    profile.Redacted `msgpack:"profile"`
	Summary    string           `msgpack:"summary"`
	Bullets    []string         `msgpack:"bullets,omitempty"`
	Meta       Meta             `msgpack:"meta"`
}

// EntryOptions carry the versioning and timing inputs of NewEntry.
type EntryOptions struct {
	EngineVersion string
	PromptHash    string
	StaleAfter    time.Duration
	TTL           time.Duration
	Now           time.Time
}

// NewEntry builds an uncompressed entry created and refreshed at opts.Now.
func NewEntry(summary string, p profile.Redacted, opts EntryOptions) CachedNarrative {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	return CachedNarrative{
		Version:    SchemaVersion,
		Engine:     opts.EngineVersion,
		PromptHash: opts.PromptHash,
		Profile:    p,
		Summary:    summary,
		Meta: Meta{
			CreatedAt:   now,
			RefreshedAt: now,
			StaleAfter:  now.Add(opts.StaleAfter),
			TTLSeconds:  int64(opts.TTL / time.Second),
			SizeBytes:   len(summary),
			Compression: CompressionNone,
		},
	}
}

// Refreshed returns a copy of c carrying summary, with RefreshedAt and
// StaleAfter moved to now. CreatedAt is kept.
func (c CachedNarrative) Refreshed(summary string, now time.Time, staleAfter time.Duration) CachedNarrative {
	c.Summary = summary
	c.Bullets = nil
	c.Meta.RefreshedAt = now
	c.Meta.StaleAfter = now.Add(staleAfter)
	c.Meta.SizeBytes = len(summary)
	c.Meta.Compression = CompressionNone
	return c
}

// IsFresh reports whether the entry is still before its stale deadline.
func (c CachedNarrative) IsFresh(now time.Time) bool {
	return now.Before(c.Meta.StaleAfter)
}

// Codec encodes entries under size limits.
type Codec struct {
	CompressThreshold int
	MaxValueBytes     int
}

// Encode serializes c, compressing the summary when its UTF-8 length exceeds
// CompressThreshold.
func (cd Codec) Encode(c CachedNarrative) ([]byte, error) {
	size := len(c.Summary)
	c.Meta.SizeBytes = size
	c.Meta.Compression = CompressionNone
	if cd.CompressThreshold > 0 && size > cd.CompressThreshold {
		z, err := compress.Gzip([]byte(c.Summary))
		if err != nil {
			return nil, errors.Wrap(err, "compress summary")
		}
		c.Summary = base64.StdEncoding.EncodeToString(z)
		c.Meta.Compression = CompressionGzip
	}
	buf, err := msgpack.Marshal(&c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal cached narrative")
	}
	if cd.MaxValueBytes > 0 && len(buf) > cd.MaxValueBytes {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes, limit %d", len(buf), cd.MaxValueBytes)
	}
	return buf, nil
}

// Decode is the inverse of Encode. The returned entry always holds plain text.
func (cd Codec) Decode(raw []byte) (CachedNarrative, error) {
	var c CachedNarrative
	if err := msgpack.Unmarshal(raw, &c); err != nil {
		return CachedNarrative{}, errors.Mark(errors.Wrap(err, "unmarshal cached narrative"), ErrCorrupt)
	}
	switch c.Meta.Compression {
	case CompressionNone, "":
	case CompressionGzip:
		z, err := base64.StdEncoding.DecodeString(c.Summary)
		if err != nil {
			return CachedNarrative{}, errors.Mark(errors.Wrap(err, "decode summary"), ErrCorrupt)
		}
		text, err := compress.Gunzip(z)
		if err != nil {
			return CachedNarrative{}, errors.Mark(err, ErrCorrupt)
		}
		c.Summary = string(text)
	default:
		return CachedNarrative{}, errors.Mark(errors.Newf("unknown compression %q", c.Meta.Compression), ErrCorrupt)
	}
	return c, nil
}
