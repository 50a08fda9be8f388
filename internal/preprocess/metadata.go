package preprocess

import (
	"bytes"
	"encoding/binary"
)

const (
	jpegSOI  = 0xD8
	jpegSOS  = 0xDA
	jpegAPP1 = 0xE1 // EXIF (GPS, camera, timestamps) and XMP
	jpegAPPD = 0xED // IPTC / Photoshop
	jpegCOM  = 0xFE
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngMetadataChunks carry EXIF and free text; none affect the pixels
var pngMetadataChunks = map[string]bool{
	"eXIf": true, "tEXt": true, "zTXt": true, "iTXt": true, "tIME": true,
}

// StripMetadata removes EXIF, XMP, IPTC and comments from JPEG and PNG
// data without re-encoding. Anything it cannot walk is returned unchanged
// with ok false.
func StripMetadata(data []byte, format string) (stripped []byte, ok bool) {
	switch format {
	case formatJPEG:
		return stripJPEG(data)
	case formatPNG:
		return stripPNG(data)
	}
	return data, false
}

func stripJPEG(data []byte) ([]byte, bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != jpegSOI {
		return data, false
	}
	out := make([]byte, 0, len(data))
	out = append(out, data[:2]...)

	for i := 2; i < len(data); {
		if data[i] != 0xFF {
			return data, false
		}
		// fill bytes may pad a marker
		j := i
		for j < len(data) && data[j] == 0xFF {
			j++
		}
		if j >= len(data) {
			return data, false
		}
		marker := data[j]
		segStart := j - 1

		switch {
		case marker == jpegSOS:
			// entropy-coded data runs to EOI; copy the rest as is
			return append(out, data[segStart:]...), true
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD9):
			out = append(out, data[segStart:j+1]...)
			i = j + 1
			continue
		}

		if j+3 > len(data) {
			return data, false
		}
		length := int(binary.BigEndian.Uint16(data[j+1 : j+3]))
		end := j + 1 + length
		if length < 2 || end > len(data) {
			return data, false
		}
		if marker != jpegAPP1 && marker != jpegAPPD && marker != jpegCOM {
			out = append(out, data[segStart:end]...)
		}
		i = end
	}
	return out, true
}

func stripPNG(data []byte) ([]byte, bool) {
	if !bytes.HasPrefix(data, pngSignature) {
		return data, false
	}
	out := make([]byte, 0, len(data))
	out = append(out, pngSignature...)

	for i := len(pngSignature); i < len(data); {
		if i+8 > len(data) {
			return data, false
		}
		length := int(binary.BigEndian.Uint32(data[i : i+4]))
		end := i + 12 + length // length, type, data, crc
		if length < 0 || end > len(data) {
			return data, false
		}
		if !pngMetadataChunks[string(data[i+4:i+8])] {
			out = append(out, data[i:end]...)
		}
		i = end
	}
	return out, true
}
