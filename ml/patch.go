// patch.go - Umformung zwischen raeumlichem Latent-Grid und Patch-Sequenz
//
// Dieses Modul enthaelt:
// - Patchify: [B,C,H,W] -> [B,(H/p)(W/p),C*p*p]
// - Unpatchify: exakte Inverse bei passenden Shape-Parametern
// - ShapeError: Fehler bei verletzten Dimensions-Vorbedingungen
package ml

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// ShapeError reports a tensor whose dimensions violate an operation's
// precondition. The transform never truncates or pads to recover.
type ShapeError struct {
	Op     string
	Shape  tensor.Shape
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape %v: %s", e.Op, e.Shape, e.Reason)
}

// Patchify flattens a spatial latent grid [B,C,H,W] into a sequence of
// non-overlapping patches [B,(H/p)*(W/p),C*p*p]. Patches are ordered
// row-major over the patch grid; within a patch the layout is channel-major:
// channel, then patch row, then patch column. H and W must be divisible by
// patchSize.
func Patchify(latents *tensor.Dense, patchSize int) (*tensor.Dense, error) {
	shape := latents.Shape()
	if len(shape) != 4 {
		return nil, &ShapeError{Op: "patchify", Shape: shape, Reason: "expected 4 dimensions [B,C,H,W]"}
	}
	if patchSize <= 0 {
		return nil, &ShapeError{Op: "patchify", Shape: shape, Reason: fmt.Sprintf("patch size %d must be positive", patchSize)}
	}
	b, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if h%patchSize != 0 || w%patchSize != 0 {
		return nil, &ShapeError{Op: "patchify", Shape: shape, Reason: fmt.Sprintf("height and width must be divisible by patch size %d", patchSize)}
	}

	src, err := Float32s(latents)
	if err != nil {
		return nil, err
	}

	hp, wp := h/patchSize, w/patchSize
	dim := c * patchSize * patchSize
	out := make([]float32, b*hp*wp*dim)

	for bi := 0; bi < b; bi++ {
		for ph := 0; ph < hp; ph++ {
			for pw := 0; pw < wp; pw++ {
				row := ((bi*hp+ph)*wp + pw) * dim
				for ci := 0; ci < c; ci++ {
					for i := 0; i < patchSize; i++ {
						srcOff := ((bi*c+ci)*h+ph*patchSize+i)*w + pw*patchSize
						dstOff := row + (ci*patchSize+i)*patchSize
						copy(out[dstOff:dstOff+patchSize], src[srcOff:srcOff+patchSize])
					}
				}
			}
		}
	}

	return tensor.New(tensor.WithShape(b, hp*wp, dim), tensor.WithBacking(out)), nil
}

// Unpatchify restores the spatial grid [B,C,H,W] from a patch sequence
// produced by Patchify with the same parameters. The round trip is bit-exact.
func Unpatchify(patches *tensor.Dense, patchSize, b, c, h, w int) (*tensor.Dense, error) {
	shape := patches.Shape()
	if len(shape) != 3 {
		return nil, &ShapeError{Op: "unpatchify", Shape: shape, Reason: "expected 3 dimensions [B,S,D]"}
	}
	if patchSize <= 0 || h%patchSize != 0 || w%patchSize != 0 {
		return nil, &ShapeError{Op: "unpatchify", Shape: shape, Reason: fmt.Sprintf("target %dx%d not divisible by patch size %d", h, w, patchSize)}
	}
	hp, wp := h/patchSize, w/patchSize
	dim := c * patchSize * patchSize
	if shape[0] != b || shape[1] != hp*wp || shape[2] != dim {
		return nil, &ShapeError{Op: "unpatchify", Shape: shape,
			Reason: fmt.Sprintf("expected [%d,%d,%d] for B=%d C=%d H=%d W=%d p=%d", b, hp*wp, dim, b, c, h, w, patchSize)}
	}

	src, err := Float32s(patches)
	if err != nil {
		return nil, err
	}

	out := make([]float32, b*c*h*w)
	for bi := 0; bi < b; bi++ {
		for ph := 0; ph < hp; ph++ {
			for pw := 0; pw < wp; pw++ {
				row := ((bi*hp+ph)*wp + pw) * dim
				for ci := 0; ci < c; ci++ {
					for i := 0; i < patchSize; i++ {
						dstOff := ((bi*c+ci)*h+ph*patchSize+i)*w + pw*patchSize
						srcOff := row + (ci*patchSize+i)*patchSize
						copy(out[dstOff:dstOff+patchSize], src[srcOff:srcOff+patchSize])
					}
				}
			}
		}
	}

	return tensor.New(tensor.WithShape(b, c, h, w), tensor.WithBacking(out)), nil
}
