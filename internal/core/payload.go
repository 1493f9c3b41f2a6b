package core

// RTP payload types the relay stamps on stream-originated media.
const (
	PayloadTypeL16  uint8 = 10 // 16-bit PCM audio
	PayloadTypeJPEG uint8 = 26 // JPEG video
)

// Static RTP payload types up to 23 are audio; everything above is treated as video.
const maxAudioPayloadType = 23

func DataTypeForPayloadType(pt uint8) DataType {
	if pt <= maxAudioPayloadType {
		return DataAudio
	}
	return DataVideo
}

func PayloadTypeFor(t DataType) uint8 {
	if t == DataAudio {
		return PayloadTypeL16
	}
	return PayloadTypeJPEG
}

func clockRate(pt uint8) uint32 {
	if pt == PayloadTypeL16 {
		return 44100
	}
	return 90000
}
