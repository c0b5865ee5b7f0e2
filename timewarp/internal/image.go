package internal

import "github.com/gogpu/gputypes"

// placeholderFormat and placeholderSize describe the black and loading
// textures: a single opaque texel.
var (
	placeholderFormat = gputypes.TextureFormatRGBA8Unorm
	placeholderSize   = gputypes.NewExtent2D(1, 1)
)

// placeholderImage returns the descriptor of a black or loading texture.
func placeholderImage(tex TextureID) EyeImage {
	return EyeImage{Texture: tex, Format: placeholderFormat, Size: placeholderSize}
}

// Sampleable reports whether a warp program can sample img: a texture with
// a defined color format and a non-empty 2D extent.
func (img EyeImage) Sampleable() bool {
	if img.Texture == 0 {
		return false
	}
	if img.Format == gputypes.TextureFormatUndefined || img.Format.IsDepthStencil() {
		return false
	}
	return img.Size.Width > 0 && img.Size.Height > 0 && img.Size.DepthOrArrayLayers > 0
}

// defaultImages replaces unusable eye images under OptionDefaultImages.
// Layer 0 falls back to the black texture, overlay layers are dropped.
// Returns the number of images replaced.
func defaultImages(parms *WarpParms, black TextureID) int {
	var replaced int
	for eye := range parms.Eyes {
		for layer := range parms.Eyes[eye].Layers {
			img := &parms.Eyes[eye].Layers[layer].Image
			if img.Sampleable() {
				continue
			}
			switch {
			case layer == 0:
				*img = placeholderImage(black)
				replaced++
			case img.Texture != 0:
				*img = EyeImage{}
				replaced++
			}
		}
	}
	return replaced
}
