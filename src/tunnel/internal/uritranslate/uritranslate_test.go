package uritranslate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
)

func TestToRemote(t *testing.T) {
	tests := []struct {
		name     string
		localURI string
		host     string
		protocol Protocol
		want     string
		wantErr  bool
	}{
		{
			name:     "plain absolute path",
			localURI: "rsync://devbox/srv/app/main.py",
			host:     "devbox",
			protocol: ProtocolRsync,
			want:     "file:///srv/app/main.py",
		},
		{
			name:     "scp scheme",
			localURI: "scp://build01/home/dev/project/lib.c",
			host:     "build01",
			protocol: ProtocolSCP,
			want:     "file:///home/dev/project/lib.c",
		},
		{
			name:     "redundant separators collapsed",
			localURI: "rsync://devbox//srv///app/main.py",
			host:     "devbox",
			protocol: ProtocolRsync,
			want:     "file:///srv/app/main.py",
		},
		{
			name:     "nested remote-native wrapper discarded",
			localURI: "file://rsync://devbox/srv/app/main.py",
			host:     "devbox",
			protocol: ProtocolRsync,
			want:     "file:///srv/app/main.py",
		},
		{
			name:     "relative path promoted to root",
			localURI: "rsync://devboxsrv/app.py",
			host:     "devbox",
			protocol: ProtocolRsync,
			want:     "file:///srv/app.py",
		},
		{
			name:     "already remote-native passes through",
			localURI: "file:///srv/app/main.py",
			host:     "devbox",
			protocol: ProtocolRsync,
			want:     "file:///srv/app/main.py",
		},
		{
			name:     "unrecognizable scheme",
			localURI: "mailto:dev@example.com",
			host:     "devbox",
			protocol: ProtocolRsync,
			wantErr:  true,
		},
		{
			name:     "wrong host",
			localURI: "rsync://otherhost/srv/app/main.py",
			host:     "devbox",
			protocol: ProtocolRsync,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToRemote(tt.localURI, tt.host, tt.protocol)
			if tt.wantErr {
				require.Error(t, err)
				var te *errors.TranslationError
				assert.ErrorAs(t, err, &te)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToLocal(t *testing.T) {
	tests := []struct {
		name      string
		remoteURI string
		host      string
		protocol  Protocol
		want      string
		wantErr   bool
	}{
		{
			name:      "triple slash form",
			remoteURI: "file:///srv/app/main.py",
			host:      "devbox",
			protocol:  ProtocolRsync,
			want:      "rsync://devbox/srv/app/main.py",
		},
		{
			name:      "double slash form treated as absolute",
			remoteURI: "file://srv/app/main.py",
			host:      "devbox",
			protocol:  ProtocolRsync,
			want:      "rsync://devbox/srv/app/main.py",
		},
		{
			name:      "redundant separators collapsed",
			remoteURI: "file:////srv//app/main.py",
			host:      "devbox",
			protocol:  ProtocolRsync,
			want:      "rsync://devbox/srv/app/main.py",
		},
		{
			name:      "scp scheme",
			remoteURI: "file:///home/dev/project/lib.c",
			host:      "build01",
			protocol:  ProtocolSCP,
			want:      "scp://build01/home/dev/project/lib.c",
		},
		{
			name:      "no recognizable scheme",
			remoteURI: "/srv/app/main.py",
			host:      "devbox",
			protocol:  ProtocolRsync,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToLocal(tt.remoteURI, tt.host, tt.protocol)
			if tt.wantErr {
				require.Error(t, err)
				var te *errors.TranslationError
				assert.ErrorAs(t, err, &te)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	uris := []string{
		"rsync://devbox/srv/app/main.py",
		"rsync://devbox//srv//app///main.py",
		"scp://build01/home/dev/lib.c",
		"rsync://devbox/",
	}

	for _, u := range uris {
		t.Run(u, func(t *testing.T) {
			protocol := ProtocolRsync
			host := "devbox"
			if len(u) >= 3 && u[:3] == "scp" {
				protocol = ProtocolSCP
				host = "build01"
			}

			remote, err := ToRemote(u, host, protocol)
			require.NoError(t, err)
			back, err := ToLocal(remote, host, protocol)
			require.NoError(t, err)
			assert.Equal(t, Normalize(u, host, protocol), back)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	u := "rsync://devbox//srv///app/main.py"
	once := Normalize(u, "devbox", ProtocolRsync)
	twice := Normalize(once, "devbox", ProtocolRsync)
	assert.Equal(t, once, twice)
	assert.Equal(t, "rsync://devbox/srv/app/main.py", once)
}

func TestRegisterAccessScheme(t *testing.T) {
	const sftp = Protocol("sftp")
	assert.False(t, Known(sftp))
	RegisterAccessScheme(sftp)
	assert.True(t, Known(sftp))

	got, err := ToRemote("sftp://devbox/srv/app/main.py", "devbox", sftp)
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/app/main.py", got)
}
