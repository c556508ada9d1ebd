package nginxconf

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConf = `# test configuration
worker_processes  1;
error_log /var/log/nginx/error.log debug;

events {
    worker_connections  1024;
}

live {
    store_s3_block s3 {
        url http://127.0.0.1:8001;
    }

    preset main {
        store s3;
        persist_setup_path /store/channel/$channel_id/setup;
    }
}

http {
    log_format main '$remote_addr - "$request" ${status}';

    server {
        listen 8001;

        location /control {
            api on write=on;
        }
    }
}
`

func TestParseAndFind(t *testing.T) {
	conf, err := Parse(strings.NewReader(baseConf))
	require.NoError(t, err)

	server, err := conf.Find("http", "server")
	require.NoError(t, err)
	assert.Equal(t, []string{"8001"}, server.Lookup("listen").Args)

	preset, err := conf.Find("live", "preset main")
	require.NoError(t, err)
	assert.Equal(t, "/store/channel/$channel_id/setup", preset.Lookup("persist_setup_path").Args[0])

	http, err := conf.Find("http")
	require.NoError(t, err)
	assert.Equal(t, []string{"main", `'$remote_addr - "$request" ${status}'`}, http.Lookup("log_format").Args)

	_, err = conf.Find("http", "server", "location /missing")
	assert.ErrorIs(t, err, ErrNoBlock)

	root, err := conf.Find()
	require.NoError(t, err)
	assert.Same(t, conf, root)
}

func TestAppendAndInsert(t *testing.T) {
	conf, err := Parse(strings.NewReader(baseConf))
	require.NoError(t, err)

	loc := NewBlock("location", []string{"/store/channel/test/index"},
		NewDirective("proxy_pass", "http://127.0.0.1:8002"))
	require.NoError(t, conf.Append([]string{"http", "server"}, loc))
	require.NoError(t, conf.Insert([]string{"live", "preset main"}, NewDirective("syncer", "off")))

	server, _ := conf.Find("http", "server")
	last := server.Directives[len(server.Directives)-1]
	assert.Equal(t, "location /store/channel/test/index", last.Header())

	preset, _ := conf.Find("live", "preset main")
	assert.Equal(t, "syncer off", preset.Directives[0].Header())

	assert.ErrorIs(t, conf.Append([]string{"stream"}, NewDirective("x")), ErrNoBlock)
}

func TestRoundTrip(t *testing.T) {
	conf, err := Parse(strings.NewReader(baseConf))
	require.NoError(t, err)
	require.NoError(t, SingleProcess(conf))

	path := filepath.Join(t.TempDir(), "temp.conf")
	require.NoError(t, conf.WriteFile(path))

	reparsed, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(conf.Bytes()), string(reparsed.Bytes()))
	assert.Equal(t, Fingerprint(conf), Fingerprint(reparsed))

	out := string(reparsed.Bytes())
	assert.Contains(t, out, "daemon off;\nmaster_process off;\n")
	assert.Contains(t, out, "        location /control {\n            api on write=on;\n        }\n")
}

func TestSingleProcessReplacesExisting(t *testing.T) {
	conf, err := Parse(strings.NewReader("daemon on;\nevents {\n}\n"))
	require.NoError(t, err)
	require.NoError(t, SingleProcess(conf))

	assert.Equal(t, "events {\n}\ndaemon off;\nmaster_process off;\n", string(conf.Bytes()))
}

func TestFingerprintChangesWithContent(t *testing.T) {
	conf, err := Parse(strings.NewReader(baseConf))
	require.NoError(t, err)
	clone := conf.Clone()
	assert.Equal(t, Fingerprint(conf), Fingerprint(clone))

	require.NoError(t, clone.Append(nil, NewDirective("pid", "/tmp/nginx.pid")))
	assert.NotEqual(t, Fingerprint(conf), Fingerprint(clone))
	assert.Nil(t, conf.Lookup("pid"), "clone must not share directives")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unterminated directive", "worker_processes 1"},
		{"unclosed block", "http {\n listen 80;\n"},
		{"stray close", "}\n"},
		{"unterminated quote", "log_format main 'abc;\n"},
		{"empty statement", ";"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}
