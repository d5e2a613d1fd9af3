package client

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/chordhq/chord/shared/chorderr"
)

// chordIssuedExtensionOID marks certificates this signer issued, so a
// peer auditing a chain can tell a Chord-issued leaf from one the
// operator provisioned some other way. It carries one ASN.1 UTF8String
// built with cryptobyte, the only spot in this module that needs
// anything beyond crypto/x509's own struct-based certificate building.
var chordIssuedExtensionOID = []int{1, 3, 6, 1, 4, 1, 55595, 1}

// LocalCertificateSigner is ChordIsolate's own certificate authority:
// a single keypair that signs the agent's own leaf certificate at
// spawn time and every machine CSR relayed back through CreateMachine
// (spec section 4.7, step 5). It is "local" in the sense that the
// private key never leaves this process — it is handed to a fresh
// agent only as an already-signed certificate, never as the CA key
// itself, unless the caller explicitly persists CAKeyPEM for session
// reconnection.
type LocalCertificateSigner struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// NewLocalCertificateSigner generates a fresh ECC P-256 CA keypair and
// a long-lived (10 year) self-signed certificate.
func NewLocalCertificateSigner(organization string) (*LocalCertificateSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InternalViolation, "generate CA keypair", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          randomSerial(),
		Subject:               pkix.Name{CommonName: "chord local CA", Organization: []string{organization}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InternalViolation, "self-sign CA certificate", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InternalViolation, "parse self-signed CA certificate", err)
	}
	return &LocalCertificateSigner{cert: cert, key: key}, nil
}

// LoadLocalCertificateSigner rebuilds a signer from a previously
// persisted CA certificate and key, so a reconnecting isolate can keep
// signing certificates for a session it did not itself spawn.
func LoadLocalCertificateSigner(caCertPEM, caKeyPEM []byte) (*LocalCertificateSigner, error) {
	certBlock, _ := pem.Decode(caCertPEM)
	if certBlock == nil {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "ca certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "parse ca certificate", err)
	}
	keyBlock, _ := pem.Decode(caKeyPEM)
	if keyBlock == nil {
		return nil, chorderr.New(chorderr.InvalidConfiguration, "ca private key is not valid PEM")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InvalidConfiguration, "parse ca private key", err)
	}
	return &LocalCertificateSigner{cert: cert, key: key}, nil
}

// CACertPEM renders the CA certificate, suitable for
// shared/session.Dir.WriteRootCA and for distribution to every party
// that must trust certificates this signer issues.
func (s *LocalCertificateSigner) CACertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.cert.Raw})
}

// CAKeyPEM renders the CA private key in SEC1 form, for callers that
// want to persist it for session reconnection. Callers must write it
// with restrictive permissions; this signer never does file I/O
// itself.
func (s *LocalCertificateSigner) CAKeyPEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(s.key)
	if err != nil {
		return nil, chorderr.Wrap(chorderr.InternalViolation, "marshal ca private key", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// SignAgentIdentity generates a fresh ECC P-256 keypair and a leaf
// certificate for serverName (the agent's logical name, used as TLS
// SNI, CN and DNS SAN), suitable for shared/session.Dir.WriteAgentIdentity.
func (s *LocalCertificateSigner) SignAgentIdentity(serverName string, ttl time.Duration) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, chorderr.Wrap(chorderr.InternalViolation, "generate agent keypair", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject:      pkix.Name{CommonName: serverName},
		DNSNames:     []string{serverName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(ttl),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		ExtraExtensions: []pkix.Extension{
			chordIssuedExtension(),
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, s.cert, &key.PublicKey, s.key)
	if err != nil {
		return nil, nil, chorderr.Wrap(chorderr.InternalViolation, "sign agent certificate", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, chorderr.Wrap(chorderr.InternalViolation, "marshal agent private key", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// SignCSR countersigns a PEM-encoded CSR (as relayed by CreateMachine's
// declared endpoints) with this CA, producing a short-lived leaf
// certificate whose CN equals the CSR's CN, per spec section 4.7 step 5.
// The CN is also the certificate's DNS SAN, which is the name TLS
// clients verify against.
func (s *LocalCertificateSigner) SignCSR(csrPEM string, ttl time.Duration) (string, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		return "", chorderr.New(chorderr.InvalidConfiguration, "csr is not valid PEM")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return "", chorderr.Wrap(chorderr.InvalidConfiguration, "parse csr", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return "", chorderr.Wrap(chorderr.InvalidConfiguration, "csr signature does not verify", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject:      csr.Subject,
		DNSNames:     []string{csr.Subject.CommonName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(ttl),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		ExtraExtensions: []pkix.Extension{
			chordIssuedExtension(),
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, s.cert, csr.PublicKey, s.key)
	if err != nil {
		return "", chorderr.Wrap(chorderr.InternalViolation, "sign csr", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})), nil
}

// chordIssuedExtension builds the marker extension's DER value with
// cryptobyte: an ASN.1 UTF8String holding a fixed tag, added to every
// certificate this signer issues.
func chordIssuedExtension() pkix.Extension {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.UTF8String, func(child *cryptobyte.Builder) {
		child.AddBytes([]byte("chord-local-ca"))
	})
	value, _ := b.Bytes() // fixed-shape builder; Bytes() cannot fail here
	return pkix.Extension{Id: chordIssuedExtensionOID, Critical: false, Value: value}
}

func randomSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		// crypto/rand failure means the process has no entropy source
		// left; every other TLS operation in this process would also
		// fail, so there is nothing more useful to return here.
		panic(fmt.Sprintf("client: crypto/rand unavailable: %v", err))
	}
	return serial
}
