package decoderbackend

import (
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/rs/zerolog/log"
)

// H.264 NAL unit types relevant to codec-config splitting (RFC 6184 / ITU-T
// H.264 Annex B), mirrored from the teacher's RTP depacketizer.
const (
	nalTypeSPS = 7
	nalTypePPS = 8
	nalTypeIDR = 5
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// splitNALUnits walks an Annex-B byte stream (successive 4-byte start codes
// followed by NAL payloads) and returns each NAL unit's payload, including
// its header byte but excluding the start code.
func splitNALUnits(stream []byte) [][]byte {
	var units [][]byte
	i := 0
	n := len(stream)
	start := -1
	for i < n {
		if i+4 <= n && stream[i] == 0 && stream[i+1] == 0 && stream[i+2] == 0 && stream[i+3] == 1 {
			if start >= 0 {
				units = append(units, stream[start:i])
			}
			i += 4
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < n {
		units = append(units, stream[start:n])
	}
	return units
}

// splitConfigAndFrameNALUs separates SPS/PPS codec-config NAL units from
// frame (slice) NAL units in an Annex-B stream, and reports whether the
// stream contains an IDR slice (spec.md §4.7 step 3).
func splitConfigAndFrameNALUs(stream []byte) (configNALUs, frameNALUs []byte, isIDR bool) {
	for _, unit := range splitNALUnits(stream) {
		if len(unit) == 0 {
			continue
		}
		nalType := unit[0] & 0x1F
		switch nalType {
		case nalTypeSPS:
			validateSPS(unit)
			configNALUs = append(configNALUs, annexBStartCode...)
			configNALUs = append(configNALUs, unit...)
		case nalTypePPS:
			configNALUs = append(configNALUs, annexBStartCode...)
			configNALUs = append(configNALUs, unit...)
		default:
			if nalType == nalTypeIDR {
				isIDR = true
			}
			frameNALUs = append(frameNALUs, annexBStartCode...)
			frameNALUs = append(frameNALUs, unit...)
		}
	}
	return configNALUs, frameNALUs, isIDR
}

// validateSPS parses the SPS with mp4ff purely to surface a debug log if the
// server sent a malformed parameter set; decoding proceeds regardless since
// the backend, not this package, is authoritative on whether it can decode.
func validateSPS(spsNALU []byte) {
	sps, err := avc.ParseSPSNALUnit(spsNALU, true)
	if err != nil {
		log.Debug().Err(err).Msg("vrstream: sps failed validation parse, forwarding to backend anyway")
		return
	}
	log.Debug().
		Uint("width", sps.Width).
		Uint("height", sps.Height).
		Msg("vrstream: sps codec-config observed")
}
