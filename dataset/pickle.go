// pickle.go - Import eines Legacy-Pair-Caches aus Python-Pickle-Dateien
//
// Die urspruengliche Datenaufbereitung hat Paare als pairs.pkl abgelegt
// (Liste aus (text, bildpfad)-Tupeln oder Dicts). Dieses Modul liest sie
// einmalig ein; neue Caches werden als JSON geschrieben.
package dataset

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
)

// ImportPicklePairs reads a pair list written by the legacy Python tooling.
// Supported element forms: (text, image) tuples/lists and {"text": ...,
// "image": ...} dicts.
func ImportPicklePairs(path string) ([]Pair, error) {
	obj, err := pickle.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading pickle %q: %w", path, err)
	}

	list, ok := obj.(*types.List)
	if !ok {
		return nil, fmt.Errorf("pickle %q: top-level object is %T, expected a list", path, obj)
	}

	pairs := make([]Pair, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		pair, err := pickledPair(list.Get(i))
		if err != nil {
			return nil, fmt.Errorf("pickle %q element %d: %w", path, i, err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func pickledPair(v any) (Pair, error) {
	switch e := v.(type) {
	case *types.Tuple:
		if e.Len() != 2 {
			return Pair{}, fmt.Errorf("tuple has %d elements, expected 2", e.Len())
		}
		return pairFromValues(e.Get(0), e.Get(1))
	case *types.List:
		if e.Len() != 2 {
			return Pair{}, fmt.Errorf("list has %d elements, expected 2", e.Len())
		}
		return pairFromValues(e.Get(0), e.Get(1))
	case *types.Dict:
		text, ok := e.Get("text")
		if !ok {
			return Pair{}, fmt.Errorf("dict is missing key %q", "text")
		}
		image, ok := e.Get("image")
		if !ok {
			return Pair{}, fmt.Errorf("dict is missing key %q", "image")
		}
		return pairFromValues(text, image)
	default:
		return Pair{}, fmt.Errorf("unsupported element type %T", v)
	}
}

func pairFromValues(text, image any) (Pair, error) {
	t, ok := text.(string)
	if !ok {
		return Pair{}, fmt.Errorf("text is %T, expected string", text)
	}
	img, ok := image.(string)
	if !ok {
		return Pair{}, fmt.Errorf("image is %T, expected string", image)
	}
	return Pair{Text: t, Image: img}, nil
}
