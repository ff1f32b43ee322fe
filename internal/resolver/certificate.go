package resolver

import (
	"context"
	"os"
	"path"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/merge"
)

const (
	certificateMode os.FileMode = 0o644
	privateKeyMode  os.FileMode = 0o600
)

type secretFile struct {
	name     string
	contents string
	mode     os.FileMode
}

// resolveCertificates issues a certificate whose common name is the device token plus the suffix.
func (s *Specific) resolveCertificates(ctx context.Context, target *Target, dir string, source *config.VaultCertificates) (*Result, error) {
	client, err := s.vaultClient(ctx, &source.SecretService)
	if err != nil {
		return nil, err
	}

	commonName := target.Device.Token() + source.CNSuffix

	issued, err := client.IssueCertificate(ctx, source.PKIMount, source.PKIRole, commonName)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Certificate issued", "common_name", commonName, "serial", issued.SerialNumber)

	files := []secretFile{
		{source.CertificateFile(), issued.Certificate, certificateMode},
		{source.KeyFile(), issued.PrivateKey, privateKeyMode},
	}

	if issued.IssuingCA != "" {
		files = append(files, secretFile{config.DefaultCAName, issued.IssuingCA, certificateMode})
	}

	result := new(Result)

	for _, file := range files {
		destination := path.Join(source.Destination, file.name)

		written, err := writeSecret(dir, destination, file.contents, file.mode)
		if err != nil {
			return nil, err
		}

		result.Records = append(result.Records, merge.Record{
			Source:      written,
			Destination: destination,
			Mode:        file.mode,
		})
	}

	return result, nil
}
