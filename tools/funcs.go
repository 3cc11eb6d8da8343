package tools

import "time"

// Realtime PCM16 audio as exchanged with the upstream service.
const (
	PCM16SampleRate = 24000
	PCM16Channels   = 1
	pcm16SampleSize = 2
)

// PCMDuration returns how much audio n bytes of interleaved 16-bit PCM hold.
func PCMDuration(n, rate, channels int) time.Duration {
	if n <= 0 || rate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / (pcm16SampleSize * channels)
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// Base64DecodedLen is the decoded size of a padded standard base64 string,
// computed without decoding it.
func Base64DecodedLen(encoded string) int {
	n := len(encoded)
	if n == 0 {
		return 0
	}
	size := n / 4 * 3
	switch {
	case encoded[n-1] != '=':
	case n > 1 && encoded[n-2] == '=':
		size -= 2
	default:
		size--
	}
	return size
}
