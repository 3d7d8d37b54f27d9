// Package als builds the Ambient Location Signal: a short, deterministic
// locale block inserted between the system and user messages so the model
// sees the same regional context a local user's client would imply.
//
// Determinism is the whole point. The variant is selected by
// HMAC-SHA256(seed_key, country || yyyymmdd), templates render a constant
// sample date (never wall-clock time), and the block is NFC-normalized before
// hashing, so the same (country, seed key, date) produces the same SHA-256 in
// every process on every machine. Blocks over the character limit fail closed
// before any provider call; truncation would silently change the signal.
//
// The raw block text is treated as user-adjacent content: it goes to the
// provider but never to telemetry or logs. Only the SHA-256 and provenance
// identifiers leave the process.
package als

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/pkg/llmerr"
)

// DefaultMaxChars is the NFC length limit for a rendered block.
const DefaultMaxChars = 350

// Block is a rendered ALS with its provenance. SHA256 is computed over the
// NFC-normalized text; NFCLength is its rune count.
type Block struct {
	Text      string
	SHA256    string
	VariantID string
	SeedKeyID string
	Country   string
	NFCLength int
}

// Builder renders blocks for one seed key. Immutable and safe for concurrent
// use.
type Builder struct {
	seedKeyID string
	seedKey   []byte
	maxChars  int
}

// NewBuilder returns a Builder for the given seed key. maxChars <= 0 selects
// DefaultMaxChars.
func NewBuilder(seedKeyID string, seedKey []byte, maxChars int) *Builder {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Builder{seedKeyID: seedKeyID, seedKey: seedKey, maxChars: maxChars}
}

// Build renders the block for a country on a given day. The day participates
// in variant selection only; the text itself contains a constant sample date.
// ok is false when the country has no authored template set; such runs
// proceed without an ALS rather than receiving an invented block.
func (b *Builder) Build(countryCode string, day time.Time) (Block, bool, error) {
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	if country == "" {
		return Block{}, false, llmerr.New(llmerr.KindInvalidRequest, "ALS requested without a country code")
	}
	variants, ok := variantsFor(country)
	if !ok {
		return Block{}, false, nil
	}

	mac := hmac.New(sha256.New, b.seedKey)
	mac.Write([]byte(country))
	mac.Write([]byte(day.UTC().Format("20060102")))
	sum := mac.Sum(nil)
	idx := int(binary.BigEndian.Uint64(sum[:8]) % uint64(len(variants)))

	v := variants[idx]
	rendered := strings.ReplaceAll(v.text, "{date}", v.dateSample)
	nfc := norm.NFC.String(rendered)
	length := utf8.RuneCountInString(nfc)
	if length > b.maxChars {
		return Block{}, false, llmerr.Newf(llmerr.KindALSBlockTooLong,
			"ALS block for %s is %d chars after NFC normalization (limit %d)", country, length, b.maxChars).
			WithRemediation("shorten the ALS template variant; the block is never truncated")
	}
	digest := sha256.Sum256([]byte(nfc))
	return Block{
		Text:      nfc,
		SHA256:    hex.EncodeToString(digest[:]),
		VariantID: fmt.Sprintf("%s-v%d", country, idx),
		SeedKeyID: b.seedKeyID,
		Country:   country,
		NFCLength: length,
	}, true, nil
}

// Insert returns a new message slice with the block as its own user-role
// message between the final leading system message and the first user
// message. Every other element is the caller's message value, bytes
// untouched.
func Insert(messages []providers.Message, block Block) []providers.Message {
	idx := 0
	for idx < len(messages) && messages[idx].Role == providers.RoleSystem {
		idx++
	}
	out := make([]providers.Message, 0, len(messages)+1)
	out = append(out, messages[:idx]...)
	out = append(out, providers.Message{Role: providers.RoleUser, Content: block.Text, ALS: true})
	out = append(out, messages[idx:]...)
	return out
}
