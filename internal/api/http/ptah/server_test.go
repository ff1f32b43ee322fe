package ptah

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/ptah/internal/config"
	domain "github.com/oshokin/ptah/internal/domain/build"
	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/imagebuilder"
)

const (
	testFingerprint = "4f1c1f6a0f0a7b7e6e2f2b1d5f9b0d3c8a7e6d5c4b3a29180706050403020100"
	validToken      = "header.payload.signature"
)

// fakeService is a minimal Service implementation for handler tests.
type fakeService struct {
	cfg        *config.Config
	prepareErr error
	binary     string
	buildErr   error

	mu       sync.Mutex
	prepared []string
}

func (f *fakeService) Config() *config.Config {
	return f.cfg
}

func (f *fakeService) Prepare(_ context.Context, id device.ID, profile string) (*domain.Context, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}

	if _, err := f.cfg.Profile(profile); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.prepared = append(f.prepared, id.String()+"/"+profile)
	f.mu.Unlock()

	buildCtx := domain.New(id, profile, time.Now())
	buildCtx.Stage(testFingerprint, "/srv/"+id.Token(), nil, nil)

	return buildCtx, nil
}

func (f *fakeService) Build(context.Context, device.ID) (string, error) {
	return f.binary, f.buildErr
}

func (f *fakeService) EncodeToken(_ context.Context, id device.ID, profile string) (string, error) {
	if _, err := f.cfg.Profile(profile); err != nil {
		return "", err
	}

	return "token-for-" + id.Token(), nil
}

func (f *fakeService) VerifyToken(_ context.Context, _ string, token string) (bool, error) {
	return token == validToken, nil
}

func (f *fakeService) DecodeToken(token string) (jwt.MapClaims, error) {
	if token != validToken {
		return nil, fmt.Errorf("%w: malformed", fault.ErrInvalidInput)
	}

	return jwt.MapClaims{"mac": "aa:bb:cc:dd:ee:ff"}, nil
}

func newTestServer(t *testing.T, service *fakeService) *httptest.Server {
	t.Helper()

	if service.cfg == nil {
		service.cfg = &config.Config{Profiles: []*config.Profile{{Name: "home"}, {Name: "office"}}}
	}

	server := httptest.NewServer(NewServer(service).Handler())
	t.Cleanup(server.Close)

	return server
}

func post(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)

	for key, values := range header {
		req.Header[key] = values
	}

	response, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })

	return response
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)

	response, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })

	return response
}

func decode[T any](t *testing.T, response *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(response.Body).Decode(&v))

	return v
}

// TestPrepare returns the fingerprint and the download URL of a canonical address.
func TestPrepare(t *testing.T) {
	t.Parallel()

	service := new(fakeService)
	server := newTestServer(t, service)

	response := post(t, server.URL+"/build/prepare/AA-BB-CC-DD-EE-FF", `{"profile":"home"}`, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	body := decode[PrepareResponse](t, response)
	require.Equal(t, PrepareResponse{
		Message:         "Build prepared successfully.",
		MAC:             "aa:bb:cc:dd:ee:ff",
		PtahVersionHash: testFingerprint,
		DownloadURL:     "/build/aa:bb:cc:dd:ee:ff",
	}, body)

	service.mu.Lock()
	defer service.mu.Unlock()

	require.Equal(t, []string{"aa:bb:cc:dd:ee:ff/home"}, service.prepared)
}

// TestPrepareErrors maps input and service failures to status codes.
func TestPrepareErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mac    string
		body   string
		err    error
		status int
	}{
		{"bad address", "aa-bb", `{"profile":"home"}`, nil, http.StatusBadRequest},
		{"bad body", "aabbccddeeff", `{`, nil, http.StatusBadRequest},
		{"empty profile", "aabbccddeeff", `{"profile":" "}`, nil, http.StatusBadRequest},
		{"unknown profile", "aabbccddeeff", `{"profile":"garage"}`, nil, http.StatusNotFound},
		{"resolution", "aabbccddeeff", `{"profile":"home"}`, fault.ErrResolution, http.StatusUnprocessableEntity},
		{"transient", "aabbccddeeff", `{"profile":"home"}`, fault.ErrTransient, http.StatusBadGateway},
		{"merge", "aabbccddeeff", `{"profile":"home"}`, fault.ErrMerge, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(t, &fakeService{prepareErr: tc.err})

			response := post(t, server.URL+"/build/prepare/"+tc.mac, tc.body, nil)
			require.Equal(t, tc.status, response.StatusCode)

			body := decode[ErrorResponse](t, response)
			require.Equal(t, tc.status, body.Code)
			require.NotEmpty(t, body.Message)
		})
	}
}

// TestBuildDownload streams the image as ptah.bin for GET and POST.
func TestBuildDownload(t *testing.T) {
	t.Parallel()

	binary := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(binary, []byte("image"), 0o644))

	server := newTestServer(t, &fakeService{binary: binary})

	for _, response := range []*http.Response{
		get(t, server.URL+"/build/aa:bb:cc:dd:ee:ff"),
		post(t, server.URL+"/build/aa:bb:cc:dd:ee:ff", "", nil),
	} {
		require.Equal(t, http.StatusOK, response.StatusCode)
		require.Equal(t, "application/octet-stream", response.Header.Get("Content-Type"))
		require.Equal(t, "attachment; filename=ptah.bin", response.Header.Get("Content-Disposition"))

		data, err := io.ReadAll(response.Body)
		require.NoError(t, err)
		require.Equal(t, "image", string(data))
	}
}

// TestBuildErrors covers an unprepared device and a failing toolchain.
func TestBuildErrors(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeService{buildErr: fmt.Errorf("%w: device is not prepared", fault.ErrNotFound)})
	require.Equal(t, http.StatusNotFound, get(t, server.URL+"/build/aabbccddeeff").StatusCode)

	server = newTestServer(t, &fakeService{buildErr: imagebuilder.ErrBuildFailed})
	response := get(t, server.URL+"/build/aabbccddeeff")
	require.Equal(t, http.StatusInternalServerError, response.StatusCode)
	require.Equal(t, http.StatusText(http.StatusInternalServerError), decode[ErrorResponse](t, response).Message)
}

// TestProfiles lists profiles and their names.
func TestProfiles(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, new(fakeService))

	names := decode[[]string](t, get(t, server.URL+"/ptah_profiles/names"))
	require.Equal(t, []string{"home", "office"}, names)

	profiles := decode[[]map[string]any](t, get(t, server.URL+"/ptah_profiles/"))
	require.Len(t, profiles, 2)
	require.Equal(t, "home", profiles[0]["name"])
}

// TestTokenEndpoints covers encode, decode and bearer verification.
func TestTokenEndpoints(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, new(fakeService))

	response := post(t, server.URL+"/jwt/encode/aabbccddeeff", `{"profile":"home"}`, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, "token-for-aa-bb-cc-dd-ee-ff", decode[TokenResponse](t, response).JWT)

	require.Equal(t, http.StatusNotFound,
		post(t, server.URL+"/jwt/encode/aabbccddeeff", `{"profile":"garage"}`, nil).StatusCode)

	response = post(t, server.URL+"/jwt/decode", `{"jwt":"`+validToken+`"}`, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", decode[map[string]any](t, response)["mac"])

	require.Equal(t, http.StatusBadRequest, post(t, server.URL+"/jwt/decode", `{"jwt":"x"}`, nil).StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, server.URL+"/jwt/decode", `{}`, nil).StatusCode)

	bearer := func(token string) http.Header {
		return http.Header{"Authorization": {"Bearer " + token}}
	}

	response = post(t, server.URL+"/jwt/verify?profile=home", "", bearer(validToken))
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, "valid", decode[VerifyResponse](t, response).Status)

	response = post(t, server.URL+"/jwt/verify?profile=home", "", bearer("forged"))
	require.Equal(t, http.StatusUnauthorized, response.StatusCode)
	require.Equal(t, "Bearer", response.Header.Get("WWW-Authenticate"))

	require.Equal(t, http.StatusUnauthorized, post(t, server.URL+"/jwt/verify?profile=home", "", nil).StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, server.URL+"/jwt/verify", "", bearer(validToken)).StatusCode)
}

// TestHealth answers ok.
func TestHealth(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, new(fakeService))

	response := get(t, server.URL+"/healthz")
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, response))
}
