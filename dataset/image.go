// MODUL: image
// ZWECK: Bild-Laden und Vorverarbeitung fuer den Latent-Cache
// INPUT: Bildpfad, Zielgroesse
// OUTPUT: CHW float32 Pixel in [-1,1]
// NEBENEFFEKTE: Dateisystem-Lesezugriff
// ABHAENGIGKEITEN: golang.org/x/image/draw (extern), image/jpeg, image/png
// HINWEISE: Alle Bilder werden als RGBA dekodiert und bilinear auf ein
// Quadrat skaliert, bevor sie den externen Encoder erreichen.

package dataset

import (
	"bytes"
	"fmt"
	"image"
	"os"

	// Standard-Decoder registrieren
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// loadPixels decodes the image at path, resizes it to size x size and returns
// the pixels as CHW float32 scaled to [-1, 1], the range the encoder expects.
func loadPixels(path string, size int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image %q: %w", path, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image %q: %w", path, err)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(rgba, rgba.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := rgba.PixOffset(x, y)
			idx := y*size + x
			out[idx] = float32(rgba.Pix[off])/127.5 - 1
			out[plane+idx] = float32(rgba.Pix[off+1])/127.5 - 1
			out[2*plane+idx] = float32(rgba.Pix[off+2])/127.5 - 1
		}
	}
	return out, nil
}
