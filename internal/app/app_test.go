package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfString(t *testing.T) {
	require.Equal(t, []byte("{log: {level: trace}}"), parseConfString("log.level=trace"))
	require.Equal(t,
		[]byte("{cameras: {cam1: virtual:?fps=30}}"),
		parseConfString("cameras.cam1=virtual:?fps=30"),
	)

	// not a dotted key=value
	require.Nil(t, parseConfString("just a string"))
	require.Nil(t, parseConfString("level=trace"))
}

func TestLoadConfigMerge(t *testing.T) {
	configs = [][]byte{
		[]byte("{api: {listen: ':1984'}, cameras: {a: 'virtual:'}}"),
		[]byte("{api: {listen: ':8080'}}"),
	}
	t.Cleanup(func() { configs = nil })

	var cfg struct {
		API struct {
			Listen string `yaml:"listen"`
		} `yaml:"api"`
		Cameras map[string]string `yaml:"cameras"`
	}
	LoadConfig(&cfg)

	// later sources win, earlier sections survive
	require.Equal(t, ":8080", cfg.API.Listen)
	require.Equal(t, "virtual:", cfg.Cameras["a"])
}

func TestLogRing(t *testing.T) {
	r := newLogRing(3)
	for _, s := range []string{"one\n", "two\n", "three\n", "four\n"} {
		_, err := r.Write([]byte(s))
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	_, err := r.WriteTo(&buf)
	require.NoError(t, err)

	// oldest line was overwritten
	require.Equal(t, "two\nthree\nfour\n", buf.String())

	r.Reset()
	buf.Reset()
	_, err = r.WriteTo(&buf)
	require.NoError(t, err)
	require.Empty(t, buf.String())
}
