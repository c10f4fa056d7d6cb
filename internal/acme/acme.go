// Package acme provides the certificate for the HTTPS listener, either from
// files on disk or from an ACME CA using the http-01 challenge.
package acme

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/JamesGuthrie/httpserve/internal/config"
	"github.com/JamesGuthrie/httpserve/internal/logging"
)

// renewBefore is how long before expiry a stored certificate is replaced.
const renewBefore = 30 * 24 * time.Hour

const accountKeyFile = "account.key"

// user implements registration.User
type user struct {
	email        string
	key          *rsa.PrivateKey
	registration *registration.Resource
}

func (u *user) GetEmail() string {
	return u.email
}

func (u *user) GetRegistration() *registration.Resource {
	return u.registration
}

func (u *user) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// Manager obtains and stores certificates under its directory.
type Manager struct {
	cfg    config.ACMEConfig
	logger *logging.LoggerWithFields

	// HTTPPort is where the http-01 challenge server listens.
	HTTPPort string
}

// NewManager creates the certificate directory if needed.
func NewManager(cfg config.ACMEConfig, logger *logging.Logger) (*Manager, error) {
	if len(cfg.Domains) == 0 {
		return nil, errors.New("acme: at least one domain is required")
	}
	if cfg.Dir == "" {
		cfg.Dir = "certs"
	}
	if cfg.CA == "" {
		cfg.CA = config.LetsEncryptCA
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("acme: create certificate directory: %w", err)
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.WithFields(map[string]interface{}{"component": "acme"}),
		HTTPPort: "80",
	}, nil
}

// Paths returns where the certificate and key for the configured domains
// are stored. The first domain names the files.
func (m *Manager) Paths() (certPath, keyPath string) {
	domain := m.cfg.Domains[0]
	return filepath.Join(m.cfg.Dir, domain+".pem"), filepath.Join(m.cfg.Dir, domain+"-key.pem")
}

// Certificate returns the paths of a usable certificate, obtaining a new
// one when the stored certificate is missing or close to expiry.
func (m *Manager) Certificate() (certPath, keyPath string, err error) {
	certPath, keyPath = m.Paths()
	if isCertificateValid(certPath, keyPath) {
		m.logger.Info("Using stored certificate", map[string]interface{}{"cert": certPath})
		return certPath, keyPath, nil
	}

	key, err := loadAccountKey(filepath.Join(m.cfg.Dir, accountKeyFile))
	if err != nil {
		return "", "", err
	}
	u := &user{email: m.cfg.Email, key: key}

	legoCfg := lego.NewConfig(u)
	legoCfg.CADirURL = m.cfg.CA
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return "", "", fmt.Errorf("acme: create client: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", m.HTTPPort)); err != nil {
		return "", "", fmt.Errorf("acme: set http-01 provider: %w", err)
	}

	reg, err := client.Registration.ResolveAccountByKey()
	if err != nil {
		reg, err = client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return "", "", fmt.Errorf("acme: register account: %w", err)
		}
	}
	u.registration = reg

	m.logger.Info("Requesting certificate", map[string]interface{}{"domains": m.cfg.Domains, "ca": m.cfg.CA})
	certs, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: m.cfg.Domains,
		Bundle:  true,
	})
	if err != nil {
		return "", "", fmt.Errorf("acme: obtain certificate: %w", err)
	}

	if err := os.WriteFile(certPath, certs.Certificate, 0644); err != nil {
		return "", "", fmt.Errorf("acme: write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, certs.PrivateKey, 0600); err != nil {
		return "", "", fmt.Errorf("acme: write private key: %w", err)
	}
	return certPath, keyPath, nil
}

// ServerTLSConfig builds the HTTPS listener configuration from certificate
// files when set, otherwise from ACME.
func ServerTLSConfig(cfg *config.ServerConfig, logger *logging.Logger) (*tls.Config, error) {
	if cfg.TLS.CertFile != "" {
		return LoadTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}

	m, err := NewManager(cfg.ACME, logger)
	if err != nil {
		return nil, err
	}
	certPath, keyPath, err := m.Certificate()
	if err != nil {
		return nil, err
	}
	return LoadTLSConfig(certPath, keyPath)
}

// LoadTLSConfig loads a key pair with modern protocol settings.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}, nil
}

// isCertificateValid reports whether both files exist and the certificate
// stays valid for longer than renewBefore.
func isCertificateValid(certPath, keyPath string) bool {
	if _, err := os.Stat(keyPath); err != nil {
		return false
	}
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return false
	}
	block, _ := pem.Decode(certData)
	if block == nil {
		return false
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter.Add(-renewBefore)) {
		return false
	}
	return true
}

// loadAccountKey reads the ACME account key, generating and storing a new
// one on first use.
func loadAccountKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := parsePEMPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("acme: parse account key: %w", err)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("acme: read account key: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("acme: generate account key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return nil, fmt.Errorf("acme: write account key: %w", err)
	}
	return key, nil
}

func parsePEMPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, errors.New("invalid PEM private key")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
