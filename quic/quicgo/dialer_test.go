package quicgo

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithALPN(t *testing.T) {
	tests := map[string]struct {
		in   *tls.Config
		want []string
	}{
		"nil config": {
			want: []string{NextProtoMOQ},
		},
		"no protocols": {
			in:   &tls.Config{ServerName: "relay"},
			want: []string{NextProtoMOQ},
		},
		"explicit protocols": {
			in:   &tls.Config{NextProtos: []string{"moq-custom"}},
			want: []string{"moq-custom"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := withALPN(tt.in)
			assert.Equal(t, tt.want, got.NextProtos)
			if tt.in != nil {
				assert.NotSame(t, tt.in, got)
				assert.Equal(t, tt.in.ServerName, got.ServerName)
			}
		})
	}
}

func TestWrapConnectionNil(t *testing.T) {
	assert.Nil(t, WrapConnection(nil))
}
