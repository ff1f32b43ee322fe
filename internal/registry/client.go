package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/remote"
)

const (
	privateTokenHeader = "PRIVATE-TOKEN"
	perPage            = 100
)

var (
	errNoPackage   = errors.New("package not found")
	errNoAsset     = errors.New("asset not found in release")
	errBadFilename = errors.New("unusable file name")
)

// Client talks to one project of a registry.
type Client struct {
	remote    *remote.Client
	baseURL   string
	projectID string
	token     string
}

// New creates a client for project projectID on the registry at baseURL.
// projectID is a numeric ID or a namespace path, encoded or not.
func New(rc *remote.Client, baseURL, projectID, token string) *Client {
	return &Client{
		remote:    rc,
		baseURL:   strings.TrimRight(baseURL, "/"),
		projectID: escapeProject(projectID),
		token:     token,
	}
}

func escapeProject(projectID string) string {
	if strings.Contains(projectID, "/") {
		return url.PathEscape(projectID)
	}

	return projectID
}

func (c *Client) projectURL(parts ...string) string {
	return c.baseURL + "/api/v4/projects/" + c.projectID + "/" + strings.Join(parts, "/")
}

func (c *Client) apiHeader() http.Header {
	return http.Header{privateTokenHeader: {c.token}}
}

func (c *Client) bearerHeader() http.Header {
	return http.Header{"Authorization": {"Bearer " + c.token}}
}

func (c *Client) getJSON(ctx context.Context, rawURL, what string, out any) (http.Header, error) {
	body, header, err := c.remote.Fetch(ctx, remote.Get(rawURL, c.apiHeader()))
	if err != nil {
		return nil, classify(err, what)
	}

	if err = json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", fault.ErrTransient, what, err)
	}

	return header, nil
}

// classify maps answers that retrying cannot fix onto the error taxonomy.
func classify(err error, what string) error {
	switch remote.StatusCode(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s: %w", fault.ErrResolution, what, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s: credentials rejected: %w", fault.ErrConfiguration, what, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// Release is the subset of a release used for staging.
type Release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	Assets  struct {
		Links []Link `json:"links"`
	} `json:"assets"`
}

// Link is a release asset link.
type Link struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	DirectAssetURL string `json:"direct_asset_url"`
}

// Link returns the asset link called name.
func (r *Release) Link(name string) (*Link, error) {
	for i := range r.Assets.Links {
		if r.Assets.Links[i].Name == name {
			return &r.Assets.Links[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %q in release %s: %w", fault.ErrResolution, name, r.TagName, errNoAsset)
}

// Release reads the release at releasePath, e.g. "v1.2.0" or "permalink/latest".
func (c *Client) Release(ctx context.Context, releasePath string) (*Release, error) {
	var release Release
	if _, err := c.getJSON(ctx, c.projectURL("releases", releasePath), "release "+releasePath, &release); err != nil {
		return nil, err
	}

	if release.TagName == "" {
		return nil, fmt.Errorf("%w: release %s has no tag name", fault.ErrResolution, releasePath)
	}

	return &release, nil
}

// DownloadAsset downloads a release asset link into dir and returns the file
// name announced by the server, or fallbackName when none is announced.
func (c *Client) DownloadAsset(ctx context.Context, link *Link, dir, fallbackName string) (string, error) {
	return c.downloadInto(ctx, remote.Get(link.URL, c.bearerHeader()), dir, fallbackName, "asset "+link.Name)
}

// DownloadArchive downloads the zip archive of the repository at sha into dir
// and returns its file name.
func (c *Client) DownloadArchive(ctx context.Context, sha, dir string) (string, error) {
	archiveURL := c.projectURL("repository", "archive.zip") + "?sha=" + url.QueryEscape(sha)

	return c.downloadInto(ctx, remote.Get(archiveURL, c.apiHeader()), dir, sha+".zip", "archive "+sha)
}

func (c *Client) downloadInto(ctx context.Context, req *remote.Request, dir, fallbackName, what string) (string, error) {
	staging := filepath.Join(dir, ".download-"+uuid.NewString())

	header, err := c.remote.Download(ctx, req, staging)
	if err != nil {
		return "", classify(err, what)
	}

	name, err := Filename(header.Get("Content-Disposition"), fallbackName)
	if err != nil {
		_ = os.Remove(staging)

		return "", fmt.Errorf("%w: %s: %w", fault.ErrResolution, what, err)
	}

	if err = os.Rename(staging, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(staging)

		return "", fmt.Errorf("%s: %w", what, err)
	}

	return name, nil
}

// Filename extracts the file name from a Content-Disposition header.
func Filename(contentDisposition, fallback string) (string, error) {
	name := fallback

	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil && params["filename"] != "" {
			name = params["filename"]
		}
	}

	base := filepath.Base(name)
	if name == "" || base != name || base == "." || base == ".." {
		return "", fmt.Errorf("%w %q", errBadFilename, name)
	}

	return base, nil
}

// Package is a generic package version.
type Package struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	PackageType string `json:"package_type"`
}

// FindPackage returns the generic package with exactly this name and version.
func (c *Client) FindPackage(ctx context.Context, name, version string) (*Package, error) {
	query := url.Values{
		"package_type":    {"generic"},
		"package_name":    {name},
		"package_version": {version},
		"per_page":        {strconv.Itoa(perPage)},
	}

	var packages []Package
	if _, err := c.getJSON(ctx, c.projectURL("packages")+"?"+query.Encode(), "package "+name, &packages); err != nil {
		return nil, err
	}

	// package_name is a fuzzy filter upstream.
	for i := range packages {
		if packages[i].Name == name && packages[i].Version == version {
			return &packages[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %s/%s: %w", fault.ErrResolution, name, version, errNoPackage)
}

// PackageFile is a file of a package with its server-computed digest.
type PackageFile struct {
	ID         int    `json:"id"`
	FileName   string `json:"file_name"`
	FileSHA256 string `json:"file_sha256"`
	Size       int64  `json:"size"`
}

// PackageFiles lists all files of a package, following pagination.
func (c *Client) PackageFiles(ctx context.Context, packageID int) ([]PackageFile, error) {
	var files []PackageFile

	for page := 1; page > 0; {
		query := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}}
		listURL := c.projectURL("packages", strconv.Itoa(packageID), "package_files") + "?" + query.Encode()

		var batch []PackageFile

		header, err := c.getJSON(ctx, listURL, "package files", &batch)
		if err != nil {
			return nil, err
		}

		files = append(files, batch...)

		page, _ = strconv.Atoi(header.Get("X-Next-Page"))
	}

	return files, nil
}

// DownloadPackageFile downloads one file of a generic package to path.
func (c *Client) DownloadPackageFile(ctx context.Context, name, version, fileName, path string) error {
	fileURL := c.projectURL("packages", "generic", url.PathEscape(name), url.PathEscape(version), url.PathEscape(fileName))

	if _, err := c.remote.Download(ctx, remote.Get(fileURL, c.apiHeader()), path); err != nil {
		return classify(err, "package file "+fileName)
	}

	return nil
}
