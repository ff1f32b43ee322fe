package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// RegistryProject is the project ID served by the fake registry.
const RegistryProject = "42"

// RegistryToken is the only token the fake registry accepts.
const RegistryToken = "glpat-test"

type fakeRelease struct {
	tag    string
	assets map[string][]byte
}

type fakePackage struct {
	id      int
	name    string
	version string
	files   map[string][]byte
	corrupt map[string]int
}

// Registry is a fake registry serving releases, archives and generic packages.
type Registry struct {
	*httptest.Server

	mu       sync.Mutex
	releases map[string]*fakeRelease
	archives map[string]map[string]string
	packages []*fakePackage
	requests atomic.Int64
}

// NewRegistry starts a fake registry closed at the end of the test.
func NewRegistry(t *testing.T) *Registry {
	t.Helper()

	r := &Registry{
		releases: make(map[string]*fakeRelease),
		archives: make(map[string]map[string]string),
	}

	router := mux.NewRouter()
	router.Use(r.authenticate)

	project := "/api/v4/projects/" + RegistryProject
	router.HandleFunc(project+"/releases/{path:.+}", r.release).Methods(http.MethodGet)
	router.HandleFunc("/uploads/{tag}/{name}", r.asset).Methods(http.MethodGet)
	router.HandleFunc(project+"/repository/archive.zip", r.archive).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc(project+"/packages", r.listPackages).Methods(http.MethodGet)
	router.HandleFunc(project+"/packages/{id:[0-9]+}/package_files", r.packageFiles).Methods(http.MethodGet)
	router.HandleFunc(project+"/packages/generic/{name}/{version}/{file}", r.packageFile).Methods(http.MethodGet)

	r.Server = httptest.NewServer(router)
	t.Cleanup(r.Close)

	return r
}

// Requests returns the number of requests received so far.
func (r *Registry) Requests() int64 {
	return r.requests.Load()
}

// AddRelease publishes a release reachable at path with the given assets.
func (r *Registry) AddRelease(path, tag string, assets map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	release := &fakeRelease{tag: tag, assets: make(map[string][]byte, len(assets))}
	for name, body := range assets {
		release.assets[name] = []byte(body)
	}

	r.releases[path] = release
}

// AddArchive publishes a repository snapshot at sha. File names are relative
// to the snapshot's top directory.
func (r *Registry) AddArchive(sha string, files map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.archives[sha] = files
}

// AddPackage publishes a generic package version.
func (r *Registry) AddPackage(name, version string, files map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pkg := &fakePackage{
		id:      len(r.packages) + 1,
		name:    name,
		version: version,
		files:   make(map[string][]byte, len(files)),
		corrupt: make(map[string]int),
	}

	for fileName, body := range files {
		pkg.files[fileName] = []byte(body)
	}

	r.packages = append(r.packages, pkg)
}

// CorruptDownloads makes the next times downloads of a package file serve
// bytes that do not match the reported digest.
func (r *Registry) CorruptDownloads(name, version, fileName string, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pkg := range r.packages {
		if pkg.name == name && pkg.version == version {
			pkg.corrupt[fileName] = times
		}
	}
}

// Digest returns the hex SHA-256 the registry reports for body.
func Digest(body string) string {
	sum := sha256.Sum256([]byte(body))

	return hex.EncodeToString(sum[:])
}

func (r *Registry) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.requests.Add(1)

		if req.Header.Get("PRIVATE-TOKEN") != RegistryToken && req.Header.Get("Authorization") != "Bearer "+RegistryToken {
			http.Error(w, `{"message":"401 Unauthorized"}`, http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (r *Registry) release(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	release, ok := r.releases[mux.Vars(req)["path"]]
	r.mu.Unlock()

	if !ok {
		http.Error(w, `{"message":"404 Not Found"}`, http.StatusNotFound)

		return
	}

	links := make([]map[string]string, 0, len(release.assets))
	for name := range release.assets {
		links = append(links, map[string]string{
			"name": name,
			"url":  fmt.Sprintf("%s/uploads/%s/%s", r.URL, release.tag, name),
		})
	}

	writeJSON(w, map[string]any{
		"tag_name": release.tag,
		"name":     release.tag,
		"assets":   map[string]any{"links": links},
	})
}

func (r *Registry) asset(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, release := range r.releases {
		if release.tag != vars["tag"] {
			continue
		}

		if body, ok := release.assets[vars["name"]]; ok {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", vars["name"]))
			_, _ = w.Write(body)

			return
		}
	}

	http.NotFound(w, req)
}

func (r *Registry) archive(w http.ResponseWriter, req *http.Request) {
	sha := req.URL.Query().Get("sha")

	r.mu.Lock()
	files, ok := r.archives[sha]
	r.mu.Unlock()

	if !ok {
		http.Error(w, `{"message":"404 File Not Found"}`, http.StatusNotFound)

		return
	}

	top := "project-" + sha

	var buffer bytes.Buffer

	writer := zip.NewWriter(&buffer)
	for name, body := range files {
		header := &zip.FileHeader{Name: top + "/" + name, Method: zip.Deflate}
		header.SetMode(0o644)

		entry, err := writer.CreateHeader(header)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		_, _ = entry.Write([]byte(body))
	}

	if err := writer.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", top+".zip"))
	w.Header().Set("Content-Length", strconv.Itoa(buffer.Len()))

	if req.Method == http.MethodGet {
		_, _ = w.Write(buffer.Bytes())
	}
}

func (r *Registry) listPackages(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("package_name")
	version := req.URL.Query().Get("package_version")

	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]map[string]any, 0)

	for _, pkg := range r.packages {
		if (name == "" || pkg.name == name) && (version == "" || pkg.version == version) {
			result = append(result, map[string]any{
				"id":           pkg.id,
				"name":         pkg.name,
				"version":      pkg.version,
				"package_type": "generic",
			})
		}
	}

	writeJSON(w, result)
}

func (r *Registry) packageFiles(w http.ResponseWriter, req *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(req)["id"])

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pkg := range r.packages {
		if pkg.id != id {
			continue
		}

		files := make([]map[string]any, 0, len(pkg.files))
		fileID := pkg.id * 100

		for name, body := range pkg.files {
			fileID++

			files = append(files, map[string]any{
				"id":          fileID,
				"file_name":   name,
				"file_sha256": Digest(string(body)),
				"size":        len(body),
			})
		}

		writeJSON(w, files)

		return
	}

	http.NotFound(w, req)
}

func (r *Registry) packageFile(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pkg := range r.packages {
		if pkg.name == vars["name"] && pkg.version == vars["version"] {
			if body, ok := pkg.files[vars["file"]]; ok {
				if pkg.corrupt[vars["file"]] > 0 {
					pkg.corrupt[vars["file"]]--
					body = append([]byte("corrupted "), body...)
				}

				_, _ = w.Write(body)

				return
			}
		}
	}

	http.NotFound(w, req)
}

// RequireNoRequests fails the test if the registry was contacted since the given count.
func (r *Registry) RequireNoRequests(t *testing.T, since int64) {
	t.Helper()

	require.Equal(t, since, r.Requests(), "registry was contacted")
}
