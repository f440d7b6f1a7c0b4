package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/roffe/panda"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[transport]
type = wifi
addr = 10.0.0.2:1337

[retry]
attempts = 5
delay = 10ms
backoff = true

[kline]
port = LIN2
echo = lenient
`

func TestConfigLoad(t *testing.T) {
	c := defaultConfig()
	require.NoError(t, c.load([]byte(testConfig)))
	assert.Equal(t, "wifi", c.Transport)
	assert.Equal(t, "10.0.0.2:1337", c.Addr)
	assert.Equal(t, 115200, c.Baudrate)
	assert.Equal(t, uint(5), c.Retries)
	assert.Equal(t, 10*time.Millisecond, c.RetryDelay)
	assert.True(t, c.Backoff)
	assert.Equal(t, panda.SerialLIN2, c.KlinePort)
	assert.Equal(t, 10400, c.KlineBaud)
	assert.Equal(t, "lenient", c.Echo)
}

func TestConfigBadPort(t *testing.T) {
	c := defaultConfig()
	assert.Error(t, c.load([]byte("[kline]\nport = LIN9\n")))
}

func TestConfigFlagsOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(flagConfig, "", "")
	fs.String(flagTransport, "usb", "")
	fs.String(flagSerial, "", "")
	fs.String(flagAddr, "", "")
	fs.String(flagPort, "", "")
	fs.Int(flagBaudrate, 115200, "")
	fs.Bool(flagDebug, false, "")
	fs.Uint(flagRetries, 0, "")
	fs.String(flagEcho, "strict", "")
	require.NoError(t, fs.Parse([]string{"--transport", "loopback", "--retries", "2"}))

	c := defaultConfig()
	require.NoError(t, c.load([]byte(testConfig)))
	require.NoError(t, c.fromFlags(fs))
	assert.Equal(t, "loopback", c.Transport)
	assert.Equal(t, uint(2), c.Retries)
	assert.Equal(t, "10.0.0.2:1337", c.Addr, "unset flags keep file values")
	assert.Equal(t, "lenient", c.Echo)
}

func TestDialer(t *testing.T) {
	c := defaultConfig()
	c.Transport = "loopback"
	dial, err := dialer(c)
	require.NoError(t, err)
	tr, err := dial(context.Background())
	require.NoError(t, err)
	assert.NoError(t, tr.Close())

	c.Transport = "carrier pigeon"
	_, err = dialer(c)
	assert.Error(t, err)
}

func TestParseHex(t *testing.T) {
	for _, in := range []string{"02 10 03", "021003", "0x02,0x10,0x03", " 02:10:03 "} {
		b, err := parseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0x02, 0x10, 0x03}, b, in)
	}
	_, err := parseHex("0x1")
	assert.Error(t, err)
	_, err = parseHex("zz")
	assert.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	a, err := parseAddress("0x7E0")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7E0), a)
	a, err = parseAddress("18daf110")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18DAF110), a)
	_, err = parseAddress("g")
	assert.Error(t, err)
}
