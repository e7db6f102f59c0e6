// Package ogg decodes Ogg Vorbis files with beep's vorbis decoder.
package ogg

import (
	"github.com/gopxl/beep/v2/vorbis"

	"github.com/drgolem/musicengine/pkg/decoders/beepsrc"
)

// Decoder decodes Ogg Vorbis audio into 16-bit PCM.
type Decoder struct {
	*beepsrc.Decoder
}

// NewDecoder creates a new Ogg Vorbis decoder
func NewDecoder() *Decoder {
	return &Decoder{Decoder: beepsrc.New("ogg", vorbis.Decode)}
}
