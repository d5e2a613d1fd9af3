// Package config resolves the agent's CLI flags (spec section 6) into
// a validated Config, the way the teacher's cmd/agent/main.go resolves
// its own flat config struct before calling run — except here
// resolution does real cross-field validation instead of just filling
// in defaults, since a misconfigured agent must fail fast rather than
// start half-wired.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/chordhq/chord/shared/chorderr"
	"github.com/chordhq/chord/shared/transport"
)

// Config is the fully resolved, validated agent configuration.
type Config struct {
	SessionName         string
	ListenLocation       transport.Location
	EndpointFile         string
	RunDirectory         string
	CertificatePath      string
	PrivateKeyPath       string
	CABundlePath         string
	Background           bool
	TemporarySession      bool
	IdleTimeout          time.Duration
	RegistrationTimeout  time.Duration
	LogFile              string
	PIDFile              string

	// TLSConfig is built from CertificatePath/PrivateKeyPath/CABundlePath
	// once loaded, so agent/internal/agentservice never touches disk.
	TLSConfig *tls.Config
}

// Flags is the raw, unvalidated set of flag values as cobra parses
// them, using the same scalar/bool/string shape --listen-transport
// etc. come in as.
type Flags struct {
	SessionName         string
	ListenEndpoint       string
	ListenTransport      string
	EndpointFile         string
	RunDirectory         string
	CertificatePath      string
	PrivateKeyPath       string
	CABundlePath         string
	Background           bool
	TemporarySession      bool
	IdleTimeoutSeconds   int
	RegistrationTimeoutSeconds int
	LogFile              string
	PIDFile              string
}

// Resolve validates flags and loads the TLS material, returning
// InvalidConfiguration on any problem spec section 6 calls out:
// missing --session-name, unset --listen-endpoint *and*
// --listen-transport, a full --listen-endpoint URI whose server-name
// disagrees with the certificate CN, or an unreadable TLS file.
func Resolve(f Flags) (*Config, error) {
	if f.SessionName == "" {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "--session-name is required")
	}
	if f.CertificatePath == "" || f.PrivateKeyPath == "" || f.CABundlePath == "" {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "--certificate, --private-key, and --ca-bundle are all required")
	}

	cert, err := tls.LoadX509KeyPair(f.CertificatePath, f.PrivateKeyPath)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "load agent certificate/key", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "parse agent certificate", err)
	}
	certCN := leaf.Subject.CommonName

	caBundle, err := os.ReadFile(f.CABundlePath)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "read ca bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBundle) {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "ca bundle contains no usable certificates")
	}

	loc, err := resolveListenLocation(f, certCN)
	if err != nil {
		return nil, err
	}

	idleTimeout := time.Duration(f.IdleTimeoutSeconds) * time.Second
	registrationTimeout := time.Duration(f.RegistrationTimeoutSeconds) * time.Second
	if registrationTimeout <= 0 {
		registrationTimeout = 5 * time.Second
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}

	return &Config{
		SessionName:         f.SessionName,
		ListenLocation:       loc,
		EndpointFile:         f.EndpointFile,
		RunDirectory:         f.RunDirectory,
		CertificatePath:      f.CertificatePath,
		PrivateKeyPath:       f.PrivateKeyPath,
		CABundlePath:         f.CABundlePath,
		Background:           f.Background,
		TemporarySession:      f.TemporarySession,
		IdleTimeout:          idleTimeout,
		RegistrationTimeout:  registrationTimeout,
		LogFile:              f.LogFile,
		PIDFile:              f.PIDFile,
		TLSConfig:            tlsConfig,
	}, nil
}

func resolveListenLocation(f Flags, certCN string) (transport.Location, error) {
	if f.ListenEndpoint == "" && f.ListenTransport == "" {
		return transport.Location{}, chorderr.New(chorderr.InvalidConfiguration, "one of --listen-endpoint or --listen-transport must be set")
	}

	if f.ListenEndpoint != "" && looksLikeFullURI(f.ListenEndpoint) {
		loc, err := transport.FromURL(f.ListenEndpoint)
		if err != nil {
			return transport.Location{}, err
		}
		if loc.ServerName() != certCN {
			return transport.Location{}, chorderr.New(chorderr.InvalidConfiguration,
				"--listen-endpoint server-name does not match agent certificate CN")
		}
		return loc, nil
	}

	transportKind := transport.Unix
	if f.ListenTransport != "" {
		k, err := transport.ParseTransportType(f.ListenTransport)
		if err != nil {
			return transport.Location{}, err
		}
		transportKind = k
	}

	raw := f.ListenEndpoint
	if raw == "" && transportKind == transport.Tcp4 {
		raw = "0.0.0.0:0"
	}
	return transport.FromString(raw, transportKind, certCN)
}

// looksLikeFullURI reports whether raw carries a "scheme://" prefix,
// distinguishing a full --listen-endpoint URI from a bare path/host.
func looksLikeFullURI(raw string) bool {
	for i, r := range raw {
		switch {
		case r == ':' && i+2 < len(raw) && raw[i+1] == '/' && raw[i+2] == '/':
			return true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.':
			continue
		default:
			return false
		}
	}
	return false
}
