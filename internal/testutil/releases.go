package testutil

import (
	"archive/tar"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// BuilderExt is the archive suffix served by the fake releases site.
const BuilderExt = ".Linux-x86_64.tar.zst"

// Releases is a fake OpenWrt download site listing 22.03.7, 23.05.3 and 24.10.0.
// Image builders exist for every version of target mediatek/filogic.
type Releases struct {
	*httptest.Server

	downloads atomic.Int64
}

// NewReleases starts a fake download site closed at the end of the test.
// Its releases page is URL + "/releases/".
func NewReleases(t *testing.T) *Releases {
	t.Helper()

	r := new(Releases)

	router := mux.NewRouter()
	router.HandleFunc("/releases/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<a href="22.03.7/">22.03.7/</a><a href="24.10.0/">24.10.0/</a>` +
			`<a href="23.05.3/">23.05.3/</a><a href="24.10.0-rc1/">24.10.0-rc1/</a>`))
	})
	router.HandleFunc("/releases/{version}/targets/mediatek/filogic/{archive}", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["archive"]
		if !strings.HasSuffix(name, BuilderExt) {
			http.NotFound(w, req)

			return
		}

		r.downloads.Add(1)
		_, _ = w.Write(BuilderArchive(t, strings.TrimSuffix(name, ".tar.zst")))
	})

	r.Server = httptest.NewServer(router)
	t.Cleanup(r.Close)

	return r
}

// Downloads returns how many image builders were served.
func (r *Releases) Downloads() int64 {
	return r.downloads.Load()
}

// BuilderArchive returns a tar.zst holding an image builder folder with a Makefile.
func BuilderArchive(t *testing.T, folder string) []byte {
	t.Helper()

	var buffer bytes.Buffer

	encoder, err := zstd.NewWriter(&buffer)
	require.NoError(t, err)

	writer := tar.NewWriter(encoder)
	require.NoError(t, writer.WriteHeader(&tar.Header{Name: folder + "/", Typeflag: tar.TypeDir, Mode: 0o755}))

	makefile := []byte("image:\n")
	require.NoError(t, writer.WriteHeader(&tar.Header{
		Name:     folder + "/Makefile",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(makefile)),
	}))

	_, err = writer.Write(makefile)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, encoder.Close())

	return buffer.Bytes()
}
