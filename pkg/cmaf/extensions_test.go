package cmaf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentTypeFromMimeType(t *testing.T) {
	cases := []struct {
		mimeType string
		want     string
		wantErr  bool
	}{
		{mimeType: "video/mp4", want: "video"},
		{mimeType: "audio/mp4", want: "audio"},
		{mimeType: "text/vtt", want: "text"},
		{mimeType: "application/mp4", want: "metadata"},
		{mimeType: "image/jpeg", wantErr: true},
		{mimeType: "garbage", wantErr: true},
		{mimeType: "", wantErr: true},
	}
	for _, c := range cases {
		got, err := ContentTypeFromMimeType(c.mimeType)
		if c.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}
