package tools

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPCMDuration(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int
		rate     int
		channels int
		expected time.Duration
	}{
		{
			name:     "One second mono at 24kHz",
			bytes:    48000, // 24000 samples * 2 bytes
			rate:     24000,
			channels: 1,
			expected: time.Second,
		},
		{
			name:     "20ms mono at 24kHz",
			bytes:    960,
			rate:     24000,
			channels: 1,
			expected: 20 * time.Millisecond,
		},
		{
			name:     "Stereo halves the duration",
			bytes:    48000,
			rate:     24000,
			channels: 2,
			expected: 500 * time.Millisecond,
		},
		{
			name:     "Odd trailing byte ignored",
			bytes:    961,
			rate:     24000,
			channels: 1,
			expected: 20 * time.Millisecond,
		},
		{
			name:     "Zero bytes",
			bytes:    0,
			rate:     24000,
			channels: 1,
			expected: 0,
		},
		{
			name:     "Zero rate",
			bytes:    960,
			rate:     0,
			channels: 1,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PCMDuration(tt.bytes, tt.rate, tt.channels))
		})
	}
}

func TestBase64DecodedLen(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		decoded []byte
	}{
		{name: "Empty", encoded: "", decoded: nil},
		{name: "No padding", encoded: base64.StdEncoding.EncodeToString([]byte("abc")), decoded: []byte("abc")},
		{name: "One pad", encoded: base64.StdEncoding.EncodeToString([]byte("abcd\x00")), decoded: []byte("abcd\x00")},
		{name: "Two pads", encoded: base64.StdEncoding.EncodeToString([]byte("abcd")), decoded: []byte("abcd")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, len(tt.decoded), Base64DecodedLen(tt.encoded))
		})
	}
}
