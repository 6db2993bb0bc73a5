package elmax

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// DefaultLocalPort is the HTTPS port of the panel's local API.
const DefaultLocalPort = 443

// RetrieveServerCertificate connects to a local panel and returns its leaf
// certificate as PEM.
//
// The handshake does not verify the certificate. Use the result only to pin
// the panel with TLSConfigFromPEM after checking it out of band.
func RetrieveServerCertificate(ctx context.Context, host string, port int) (string, error) {
	if host == "" {
		return "", ErrEmptyPanelURL
	}
	if port == 0 {
		port = DefaultLocalPort
	}

	dialer := &tls.Dialer{
		Config: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // used only to read the certificate
		},
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", &NetworkError{Method: "TLS", URL: addr, Err: err}
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("elmax: %s presented no certificate", addr)
	}

	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: state.PeerCertificates[0].Raw,
	})), nil
}

// TLSConfigFromPEM returns a TLS configuration that trusts exactly the given
// certificate. The hostname is not checked because panels are reached by IP
// address and their certificates carry no matching name.
func TLSConfigFromPEM(certPEM string) (*tls.Config, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("elmax: no PEM certificate found")
	}
	pinned, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("elmax: invalid certificate: %w", err)
	}

	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, //nolint:gosec // replaced by VerifyPeerCertificate
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("elmax: panel presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			if !cert.Equal(pinned) {
				return errors.New("elmax: panel certificate does not match the pinned certificate")
			}
			return nil
		},
	}, nil
}
