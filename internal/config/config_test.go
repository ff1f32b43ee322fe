package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ptah/internal/fault"
)

const sampleDocument = `
credentials:
  GITLAB_TOKEN:
  VAULT_TOKEN:
    source: file
    path: /run/secrets/vault_token
ptah_profiles:
  - name: home
    openwrt_profile:
      name: glinet_gl-mt6000
      target: mediatek
      arch: filogic
      openwrt_version: 23.05.3
    packages: [luci, wireguard-tools]
    files:
      profile_shared_files:
        - name: firmware
          type: gitlab_release
          gitlab_release:
            gitlab_url: https://gitlab.example.com
            project_id: "42"
            release_path: v1.2.0
            assets:
              - name: firmware.bin
                destination: /usr/bin/firmware.bin
                permission: 755
            source:
              paths: [files]
            credentials:
              token: GITLAB_TOKEN
        - name: overlay
          type: repository_archive
          repository_archive:
            gitlab_url: https://gitlab.example.com
            project_id: group%2Foverlay
            commit: 0123abcd
            source:
              paths: [etc]
              destination: /etc/overlay
            credentials:
              token: GITLAB_TOKEN
      router_specific_files:
        - name: certificates
          type: vault_certificates
          vault_certificates:
            pki_mount: pki
            pki_role: routers
            cn_suffix: .routers.example.com
            destination: /etc/ssl/ptah
            credentials:
              token: VAULT_TOKEN
        - name: token
          type: jwt_from_vault_transit
          jwt_from_vault_transit:
            vault_server: https://vault.example.com
            transit_mount: transit
            transit_key: ptah
            destination: /etc/ptah/jwt
            permission: "0600"
            credentials:
              token: VAULT_TOKEN
`

// TestParseDocument decodes every variant and normalizes null credentials.
func TestParseDocument(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)

	require.Equal(t, []string{"home"}, cfg.ProfileNames())
	require.Equal(t, []string{"GITLAB_TOKEN", "VAULT_TOKEN"}, cfg.CredentialNames())
	require.Equal(t, SourceEnviron, cfg.Credentials["GITLAB_TOKEN"].Source)
	require.Equal(t, SourceFile, cfg.Credentials["VAULT_TOKEN"].Source)

	profile, err := cfg.Profile("home")
	require.NoError(t, err)
	require.Len(t, profile.Files.Shared, 2)
	require.Len(t, profile.Files.RouterSpecific, 2)

	release, ok := profile.Files.Shared[0].Source.(*GitlabRelease)
	require.True(t, ok)
	require.Equal(t, "v1.2.0", release.ReleasePath)
	require.Equal(t, "https://gitlab.example.com", release.GitlabURL)
	require.Equal(t, os.FileMode(0o755), release.Assets[0].Permission.Mode())
	require.Equal(t, "/", release.Source.Target())

	archive, ok := profile.Files.Shared[1].Source.(*RepositoryArchive)
	require.True(t, ok)
	require.Equal(t, "/etc/overlay", archive.Source.Target())

	certs, ok := profile.Files.RouterSpecific[0].Source.(*VaultCertificates)
	require.True(t, ok)
	require.Equal(t, DefaultCertificateName, certs.CertificateFile())
	require.Equal(t, "http://vault:8200", certs.ServerOr("http://vault:8200"))

	transit, ok := profile.Files.RouterSpecific[1].Source.(*TransitToken)
	require.True(t, ok)
	require.Equal(t, "https://vault.example.com", transit.ServerOr("http://vault:8200"))
	require.Equal(t, os.FileMode(0o600), transit.Permission.Mode())
	require.Equal(t, TypeTransitToken, profile.Files.RouterSpecific[1].Type())

	_, err = cfg.Profile("missing")
	require.ErrorIs(t, err, fault.ErrNotFound)
}

// TestLoad reads the document from disk.
func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ptah.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDocument), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Profiles, 1)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, fault.ErrConfiguration)
}

// TestParseRejectsUnknownType fails on a type outside the closed set.
func TestParseRejectsUnknownType(t *testing.T) {
	t.Parallel()

	doc := `
ptah_profiles:
  - name: p
    openwrt_profile: {name: n, target: t, arch: a, openwrt_version: latest}
    files:
      profile_shared_files:
        - name: x
          type: ftp_mirror
      router_specific_files: []
`

	_, err := Parse([]byte(doc))
	require.ErrorIs(t, err, fault.ErrConfiguration)
	require.ErrorIs(t, err, errUnknownFileType)
}

// TestParseRejectsMissingAndExtraPayload requires exactly one payload per entry.
func TestParseRejectsMissingAndExtraPayload(t *testing.T) {
	t.Parallel()

	missing := `
ptah_profiles:
  - name: p
    openwrt_profile: {name: n, target: t, arch: a, openwrt_version: latest}
    files:
      profile_shared_files: []
      router_specific_files:
        - name: x
          type: jwt_from_vault_kv
`

	_, err := Parse([]byte(missing))
	require.ErrorIs(t, err, errMissingPayload)

	extra := `
ptah_profiles:
  - name: p
    openwrt_profile: {name: n, target: t, arch: a, openwrt_version: latest}
    files:
      profile_shared_files:
        - name: x
          type: generic_package
          generic_package: {gitlab_url: "https://g", project_id: "1", credentials: {token: T}}
          repository_archive: {gitlab_url: "https://g", project_id: "1", credentials: {token: T}}
      router_specific_files: []
`

	_, err = Parse([]byte(extra))
	require.ErrorIs(t, err, errExtraPayload)
}

// TestValidateAggregates reports all problems of a document in one error.
func TestValidateAggregates(t *testing.T) {
	t.Parallel()

	doc := `
credentials:
  GITLAB_TOKEN:
ptah_profiles:
  - name: dup
    openwrt_profile: {name: n, target: t, arch: a, openwrt_version: not-a-version}
    files:
      profile_shared_files:
        - name: pkg
          type: generic_package
          generic_package:
            gitlab_url: https://gitlab.example.com
            project_id: "7"
            packages:
              - name: tools
                version: 1.0.0
                files:
                  - name: tool
                    destination: relative/path
            credentials:
              token: UNDECLARED
      router_specific_files: []
  - name: dup
    openwrt_profile: {name: n, target: t, arch: a, openwrt_version: latest}
    files:
      profile_shared_files: []
      router_specific_files: []
`

	_, err := Parse([]byte(doc))
	require.ErrorIs(t, err, fault.ErrConfiguration)

	message := err.Error()
	require.Contains(t, message, "UNDECLARED")
	require.Contains(t, message, errDuplicateProfile.Error())
	require.Contains(t, message, errBadVersion.Error())
	require.Contains(t, message, errRelativeDestination.Error())
}

// TestValidateRejectsBadCommit checks the commit pin format.
func TestValidateRejectsBadCommit(t *testing.T) {
	t.Parallel()

	archive := &RepositoryArchive{
		Registry: Registry{
			GitlabURL:   "https://gitlab.example.com",
			ProjectID:   "1",
			Credentials: TokenCredentials{Token: "T"},
		},
		Commit: "HEAD",
		Source: SourceTree{Paths: []string{"etc"}},
	}

	require.ErrorIs(t, archive.validate(), errBadCommit)

	archive.Commit = "0123abcd"
	require.NoError(t, archive.validate())

	archive.Source.Paths = []string{"../escape"}
	require.Error(t, archive.validate())
}

// TestEntryJSON renders the declared shape, which feeds the profile digest.
func TestEntryJSON(t *testing.T) {
	t.Parallel()

	entry := FileEntry{
		Name: "overlay",
		Source: &RepositoryArchive{
			Registry: Registry{GitlabURL: "https://g", ProjectID: "1", Credentials: TokenCredentials{Token: "T"}},
			Commit:   "0123abcd",
			Source:   SourceTree{Paths: []string{"etc"}},
		},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "repository_archive", decoded["type"])
	require.Contains(t, decoded, "repository_archive")
	require.NotContains(t, decoded, "gitlab_release")
}

// TestPermission accepts 3 and 4 digit octal strings only.
func TestPermission(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"755", "0640", "644"} {
		_, err := ParsePermission(text)
		require.NoError(t, err, text)
	}

	for _, text := range []string{"75", "07555", "789", "rwx"} {
		_, err := ParsePermission(text)
		require.ErrorIs(t, err, fault.ErrConfiguration, text)
	}

	require.Equal(t, DefaultFileMode, Permission("").ModeOr(DefaultFileMode))
	require.Equal(t, os.FileMode(0o640), Permission("0640").ModeOr(DefaultFileMode))
	require.Equal(t, os.ModeSetuid|0o755, Permission("4755").Mode())
	require.Equal(t, os.ModeSetgid|0o755, Permission("2755").Mode())
	require.Equal(t, os.ModeSticky|0o777, Permission("1777").Mode())
	require.Equal(t, os.ModeSetuid|os.ModeSetgid|0o750, Permission("6750").Mode())
}

// TestValidateRejectsUnsafeEntryNames keeps entry names to one path segment.
func TestValidateRejectsUnsafeEntryNames(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"../x", "a/b", `a\b`, "..", "."} {
		doc := strings.Replace(sampleDocument, "- name: certificates", "- name: "+strconv.Quote(name), 1)

		_, err := Parse([]byte(doc))
		require.ErrorIs(t, err, fault.ErrConfiguration, name)
		require.Contains(t, err.Error(), errUnsafeEntryName.Error(), name)
	}

	seen := make(map[string]struct{})
	require.NoError(t, checkEntryName(seen, "firmware-1.2_x"))
	require.ErrorIs(t, checkEntryName(seen, "../x"), errUnsafeEntryName)
}
