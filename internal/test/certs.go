package test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

// TLSMaterial holds a throwaway PKI for one test cluster: a CA, a server
// keypair with loopback SANs, and a client keypair, all signed by the CA
// the way talosconfig credentials are.
type TLSMaterial struct {
	CAPEM         []byte
	ServerCertPEM []byte
	ServerKeyPEM  []byte
	ClientCertPEM []byte
	ClientKeyPEM  []byte

	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey
}

// NewTLSMaterial generates a fresh PKI. Panics on failure, test-only code.
func NewTLSMaterial() *TLSMaterial {
	caKey := Must(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "talos-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER := Must(x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey))
	caCert := Must(x509.ParseCertificate(caDER))

	m := &TLSMaterial{
		CAPEM:  pemEncode("CERTIFICATE", caDER),
		caCert: caCert,
		caKey:  caKey,
	}
	m.ServerCertPEM, m.ServerKeyPEM = m.issue("talos-test-apid", x509.ExtKeyUsageServerAuth)
	m.ClientCertPEM, m.ClientKeyPEM = m.issue("talos-test-admin", x509.ExtKeyUsageClientAuth)
	return m
}

func (m *TLSMaterial) issue(commonName string, usage x509.ExtKeyUsage) (certPEM, keyPEM []byte) {
	key := Must(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	template := &x509.Certificate{
		SerialNumber: Must(rand.Int(rand.Reader, big.NewInt(1<<62))),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		DNSNames:     []string{"localhost"},
	}
	der := Must(x509.CreateCertificate(rand.Reader, template, m.caCert, &key.PublicKey, m.caKey))
	keyDER := Must(x509.MarshalECPrivateKey(key))
	return pemEncode("CERTIFICATE", der), pemEncode("EC PRIVATE KEY", keyDER)
}

func pemEncode(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

// ServerTLSConfig returns the apid-side TLS configuration: server keypair
// plus mandatory client certificate verification against the CA.
func (m *TLSMaterial) ServerTLSConfig() *tls.Config {
	cert := Must(tls.X509KeyPair(m.ServerCertPEM, m.ServerKeyPEM))
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(m.CAPEM)
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
	}
}

// Talosconfig renders a talosconfig YAML document with a single context
// holding the client credentials and the given endpoints.
func (m *TLSMaterial) Talosconfig(contextName string, endpoints ...string) string {
	return m.TalosconfigContexts(contextName, map[string][]string{contextName: endpoints})
}

// TalosconfigContexts renders a talosconfig YAML document with one entry
// per named context, all sharing the client credentials. defaultContext
// becomes the document's declared current context.
func (m *TLSMaterial) TalosconfigContexts(defaultContext string, contexts map[string][]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "context: %s\ncontexts:\n", defaultContext)
	for name, endpoints := range contexts {
		fmt.Fprintf(&sb, "  %s:\n    endpoints:\n", name)
		for _, endpoint := range endpoints {
			fmt.Fprintf(&sb, "      - %s\n", endpoint)
		}
		fmt.Fprintf(&sb, "    ca: %s\n", base64.StdEncoding.EncodeToString(m.CAPEM))
		fmt.Fprintf(&sb, "    crt: %s\n", base64.StdEncoding.EncodeToString(m.ClientCertPEM))
		fmt.Fprintf(&sb, "    key: %s\n", base64.StdEncoding.EncodeToString(m.ClientKeyPEM))
	}
	return sb.String()
}
