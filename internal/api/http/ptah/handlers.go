package ptah

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/logger"
)

const (
	// ImageFilename is the download name of every built image.
	ImageFilename = "ptah.bin"

	maxBodySize = 1 << 16
)

var (
	errEmptyProfile = errors.New("profile is required")
	errEmptyToken   = errors.New("token is required")
	errNoBearer     = errors.New("authorization header must carry a bearer token")
)

// ProfileRequest names the profile to prepare or to issue a token for.
type ProfileRequest struct {
	Profile string `json:"profile"`
}

// PrepareResponse is returned by a successful prepare.
type PrepareResponse struct {
	Message         string `json:"message"`
	MAC             string `json:"mac"`
	PtahVersionHash string `json:"ptah_version_hash"`
	DownloadURL     string `json:"download_url"`
}

// TokenRequest carries a token in the body.
type TokenRequest struct {
	JWT string `json:"jwt"`
}

// TokenResponse is returned by a successful token issuance.
type TokenResponse struct {
	Message string `json:"message"`
	JWT     string `json:"jwt"`
	MAC     string `json:"mac"`
}

// VerifyResponse is returned for a valid token.
type VerifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func deviceFromPath(r *http.Request) (device.ID, error) {
	return device.Parse(mux.Vars(r)["mac"])
}

func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: decode request body: %w", fault.ErrInvalidInput, err)
	}

	return nil
}

func decodeProfile(r *http.Request) (string, error) {
	var req ProfileRequest
	if err := decodeBody(r, &req); err != nil {
		return "", err
	}

	profile := strings.TrimSpace(req.Profile)
	if profile == "" {
		return "", fmt.Errorf("%w: %w", fault.ErrInvalidInput, errEmptyProfile)
	}

	return profile, nil
}

func (s *Server) prepare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := deviceFromPath(r)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	profile, err := decodeProfile(r)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	buildCtx, err := s.service.Prepare(ctx, id, profile)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, &PrepareResponse{
		Message:         "Build prepared successfully.",
		MAC:             id.String(),
		PtahVersionHash: buildCtx.Fingerprint,
		DownloadURL:     "/build/" + id.String(),
	})
}

func (s *Server) build(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := deviceFromPath(r)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	binary, err := s.service.Build(ctx, id)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	file, err := os.Open(filepath.Clean(binary))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("open image: %w", err))

		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(ctx, w, fmt.Errorf("stat image: %w", err))

		return
	}

	logger.InfoKV(ctx, "Serving image", "device", id.String(), "size", info.Size())

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+ImageFilename)
	http.ServeContent(w, r, ImageFilename, info.ModTime(), file)
}

func (s *Server) profiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.service.Config().Profiles)
}

func (s *Server) profileNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.service.Config().ProfileNames())
}

func (s *Server) encodeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := deviceFromPath(r)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	profile, err := decodeProfile(r)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	token, err := s.service.EncodeToken(ctx, id, profile)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, &TokenResponse{
		Message: "JWT issued successfully.",
		JWT:     token,
		MAC:     id.String(),
	})
}

func (s *Server) decodeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(ctx, w, err)

		return
	}

	if req.JWT == "" {
		writeError(ctx, w, fmt.Errorf("%w: %w", fault.ErrInvalidInput, errEmptyToken))

		return
	}

	claims, err := s.service.DecodeToken(req.JWT)
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, claims)
}

func (s *Server) verifyToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profile := r.URL.Query().Get("profile")
	if profile == "" {
		writeError(ctx, w, fmt.Errorf("%w: %w", fault.ErrInvalidInput, errEmptyProfile))

		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		unauthorized(w, r, errNoBearer.Error())

		return
	}

	valid, err := s.service.VerifyToken(ctx, profile, strings.TrimSpace(token))
	if err != nil {
		writeError(ctx, w, err)

		return
	}

	if !valid {
		unauthorized(w, r, "JWT signature is invalid.")

		return
	}

	writeJSON(ctx, w, http.StatusOK, &VerifyResponse{Status: "valid", Message: "JWT signature is valid."})
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(r.Context(), w, http.StatusUnauthorized, &ErrorResponse{Message: message, Code: http.StatusUnauthorized})
}
