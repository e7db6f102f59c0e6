// Package mp3 decodes MP3 files with beep's pure Go decoder.
package mp3

import (
	beepmp3 "github.com/gopxl/beep/v2/mp3"

	"github.com/drgolem/musicengine/pkg/decoders/beepsrc"
)

// Decoder decodes MP3 audio into 16-bit PCM.
// Implements types.AudioDecoder and types.LengthReporter.
type Decoder struct {
	*beepsrc.Decoder
}

// NewDecoder creates a new MP3 decoder
func NewDecoder() *Decoder {
	return &Decoder{Decoder: beepsrc.New("mp3", beepmp3.Decode)}
}
