package document

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOversizeBytes(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		resp    Response
		size    int64
		message string
	}{
		"declared length wins": {
			resp:    Response{Headers: http.Header{"Content-Length": {"4096"}}, Body: make([]byte, 10)},
			size:    4096,
			message: "document is 4096 bytes, more than the 1024 byte limit",
		},
		"received body wins": {
			resp:    Response{Body: make([]byte, 2000)},
			size:    2000,
			message: "document is 2000 bytes, more than the 1024 byte limit",
		},
		"truncated at the ceiling": {
			resp:    Response{Body: make([]byte, 1024), Truncated: true},
			size:    1025,
			message: "document is more than 1024 bytes",
		},
		"bogus length": {
			resp:    Response{Headers: http.Header{"Content-Length": {"lots"}}, Truncated: true},
			size:    1025,
			message: "document is more than 1024 bytes",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			size := tc.resp.OversizeBytes(1024)
			require.Equal(t, tc.size, size)
			require.Equal(t, tc.message, SizeLimitMessage(size, 1024))
		})
	}
}
