// collaborators.go - Schnittstellen zu externen Mitspielern der Pipeline
//
// Tokenizer und Encoder werden von aussen geliefert (Modell-Registry);
// die Cache-Pipeline kennt nur diese Vertraege.
package dataset

import (
	"context"

	"github.com/pdevine/tensor"
)

// Tokenizer turns caption text into token ids over a fixed vocabulary.
type Tokenizer interface {
	Encode(text string) []int32
	EOS() int32
	Pad() int32
	VocabSize() int
}

// Encoder compresses a raw pixel batch [n,3,H,W] into a latent batch
// [n,C,H/f,W/f]. The VAE behind it is frozen; encode is the only operation
// the cache pipeline needs.
type Encoder interface {
	EncodeBatch(ctx context.Context, pixels *tensor.Dense) (*tensor.Dense, error)
}

// encodeTokens tokenizes text, appends the end-of-text token and pads or
// truncates to maxLen.
func encodeTokens(tok Tokenizer, text string, maxLen int) []int32 {
	ids := tok.Encode(text)
	if len(ids) >= maxLen {
		ids = ids[:maxLen-1]
	}
	ids = append(ids, tok.EOS())
	for len(ids) < maxLen {
		ids = append(ids, tok.Pad())
	}
	return ids
}
