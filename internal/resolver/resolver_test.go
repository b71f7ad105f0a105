package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTXTRecord(t *testing.T) {
	id, ok := parseTXTRecord("v=STSv1; id=20180907T090909;")
	assert.True(t, ok)
	assert.Equal(t, "20180907T090909", id)
}

func TestParseTXTRecord_MissingID(t *testing.T) {
	_, ok := parseTXTRecord("v=STSv1;")
	assert.False(t, ok)
}

func TestParseTXTRecord_WrongVersion(t *testing.T) {
	_, ok := parseTXTRecord("v=STSv2; id=1;")
	assert.False(t, ok)
}

func TestParseTXTRecord_EmptySegmentsDropped(t *testing.T) {
	id, ok := parseTXTRecord("v=STSv1;;  id=abc ; ;")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestIsASCII(t *testing.T) {
	assert.True(t, isASCII("v=STSv1; id=abc;"))
	assert.False(t, isASCII("v=STSv1; id=\xff\xfe;"))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "NONE", StatusNone.String())
	assert.Equal(t, "VALID", StatusValid.String())
	assert.Equal(t, "NOT_CHANGED", StatusNotChanged.String())
	assert.Equal(t, "FETCH_ERROR", StatusFetchError.String())
}

func TestSystemDNSServer_ParsesResolvConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte("nameserver 198.51.100.53\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "198.51.100.53:53", SystemDNSServer(path))
}

func TestSystemDNSServer_MissingFileFallsBack(t *testing.T) {
	assert.Equal(t, "127.0.0.1:53", SystemDNSServer(filepath.Join(t.TempDir(), "does-not-exist.conf")))
}

func TestDecodeCharset_DefaultsToASCII(t *testing.T) {
	got, err := decodeCharset([]byte("version: STSv1\nmode: enforce\n"), "")
	assert.NoError(t, err)
	assert.Equal(t, "version: STSv1\nmode: enforce\n", got)
}

func TestDecodeCharset_ExplicitUTF8(t *testing.T) {
	got, err := decodeCharset([]byte("version: STSv1\n"), "utf-8")
	assert.NoError(t, err)
	assert.Equal(t, "version: STSv1\n", got)
}

func TestDecodeCharset_UnknownCharsetErrors(t *testing.T) {
	_, err := decodeCharset([]byte("x"), "bogus-charset-name")
	assert.Error(t, err)
}
