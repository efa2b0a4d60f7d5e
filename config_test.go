package discussions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~taiite/discussions/irc"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discussions.scfg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func unsetPasswordEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	os.Unsetenv(PasswordEnv)
}

func TestLoadConfigFile(t *testing.T) {
	unsetPasswordEnv(t)
	path := writeConfig(t, `
address ircs://irc.example.org:6697
nickname guest
channel "#a" "#b"
channel "#c"
tls-skip-verify true
metrics "127.0.0.1:9100"
debug true
`)

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "irc.example.org:6697", cfg.Addr)
	assert.True(t, cfg.TLS)
	assert.True(t, cfg.TLSSkipVerify)
	assert.Equal(t, "guest", cfg.Nick)
	assert.Equal(t, "guest", cfg.User)
	assert.Equal(t, "guest", cfg.Real)
	assert.Nil(t, cfg.Password)
	assert.Equal(t, []string{"#a", "#b", "#c"}, cfg.Channels)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics)
	assert.True(t, cfg.Debug)

	p := cfg.Params()
	assert.Equal(t, "irc.example.org:6697", p.Addr)
	assert.Equal(t, "guest", p.Session.Nickname)
	assert.Nil(t, p.Session.Auth)
	assert.Equal(t, cfg.Channels, p.Channels)
}

func TestLoadConfigFileSchemes(t *testing.T) {
	unsetPasswordEnv(t)
	tests := []struct {
		address string
		addr    string
		tls     bool
	}{
		{"irc.example.org", "irc.example.org", true},
		{"irc.example.org:6667", "irc.example.org:6667", true},
		{"ircs://irc.example.org", "irc.example.org", true},
		{"irc://irc.example.org", "irc.example.org", true},
		{"irc+insecure://irc.example.org:6667", "irc.example.org:6667", false},
	}

	for _, tt := range tests {
		path := writeConfig(t, "address \""+tt.address+"\"\nnickname guest\n")
		cfg, err := LoadConfigFile(path)
		require.NoError(t, err, tt.address)
		assert.Equal(t, tt.addr, cfg.Addr, tt.address)
		assert.Equal(t, tt.tls, cfg.TLS, tt.address)
	}

	path := writeConfig(t, "address https://irc.example.org\nnickname guest\n")
	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

func TestLoadConfigFileRequired(t *testing.T) {
	unsetPasswordEnv(t)
	_, err := LoadConfigFile(writeConfig(t, "nickname guest\n"))
	assert.EqualError(t, err, "addr is required")

	_, err = LoadConfigFile(writeConfig(t, "address irc.example.org\n"))
	assert.EqualError(t, err, "nick is required")

	_, err = LoadConfigFile(writeConfig(t, "address irc.example.org\nnickname guest\ncolors\n"))
	assert.Error(t, err)

	_, err = LoadConfigFile(writeConfig(t, "address irc.example.org\nnickname guest\ntls maybe\n"))
	assert.Error(t, err)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.scfg"))
	assert.Error(t, err)
}

func TestLoadConfigFilePassword(t *testing.T) {
	unsetPasswordEnv(t)
	cfg, err := LoadConfigFile(writeConfig(t, `
address irc.example.org
nickname guest
username account
password hunter2
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Password)
	assert.Equal(t, "hunter2", *cfg.Password)

	p := cfg.Params()
	assert.Equal(t, &irc.SASLPlain{Username: "account", Password: "hunter2"}, p.Session.Auth)
}

func TestLoadConfigFilePasswordCmd(t *testing.T) {
	unsetPasswordEnv(t)
	cfg, err := LoadConfigFile(writeConfig(t, `
address irc.example.org
nickname guest
password ignored
password-cmd echo secret
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Password)
	assert.Equal(t, "secret", *cfg.Password)
}

func TestLoadConfigFilePasswordEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "from-env")
	cfg, err := LoadConfigFile(writeConfig(t, "address irc.example.org\nnickname guest\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Password)
	assert.Equal(t, "from-env", *cfg.Password)

	cfg, err = LoadConfigFile(writeConfig(t, "address irc.example.org\nnickname guest\npassword file\n"))
	require.NoError(t, err)
	assert.Equal(t, "file", *cfg.Password)
}
