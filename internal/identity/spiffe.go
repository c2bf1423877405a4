// Package identity verifies the SPIFFE/SPIRE x509-SVID a connecting
// searchlet client presents, and hands internal/transport.Serve the mTLS
// config derived from it.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// SPIFFEVerifier verifies SPIFFE SVIDs
type SPIFFEVerifier struct {
	source *workloadapi.X509Source
	ctx    context.Context
}

// NewSPIFFEVerifier creates a new SPIFFE verifier
func NewSPIFFEVerifier(socketPath string) (*SPIFFEVerifier, error) {
	// Use a timeout to avoid blocking startup when SPIRE agent is unavailable
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Connect to SPIRE agent
	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SPIRE: %w", err)
	}

	slog.Info("Connected to SPIRE agent at", "socket_path", socketPath)
	return &SPIFFEVerifier{
		source: source,
		ctx:    context.Background(),
	}, nil
}

// devicePathPrefix is the SPIFFE path segment GenerateSPIFFEID mints device
// IDs under. VerifySVID rejects any presented ID that doesn't share it,
// which is what stops one device in a fleet from connecting under another
// device's cookie.
const devicePathPrefix = "/device/"

// verifyDevicePath confirms id actually names deviceID, not just some other
// workload in the same trust domain.
func verifyDevicePath(id spiffeid.ID, deviceID string) error {
	want := devicePathPrefix + deviceID
	if id.Path() != want {
		return fmt.Errorf("identity: SPIFFE ID %s does not name device %q (want path %s)", id, deviceID, want)
	}
	return nil
}

// VerifySVID checks that a connecting device's presented SPIFFE ID actually
// names deviceID — the cookie the device opened its connection under — and
// that it still matches this daemon's live SVID from the workload API. It
// returns a 64-bit hash of the certificate, for audit logging without
// storing raw cert bytes.
func (sv *SPIFFEVerifier) VerifySVID(deviceID, spiffeID string) (uint64, error) {
	id, err := spiffeid.FromString(spiffeID)
	if err != nil {
		return 0, fmt.Errorf("invalid SPIFFE ID: %w", err)
	}

	if err := verifyDevicePath(id, deviceID); err != nil {
		return 0, err
	}

	svid, err := sv.source.GetX509SVID()
	if err != nil {
		return 0, fmt.Errorf("failed to get SVID: %w", err)
	}

	if svid.ID.String() != id.String() {
		return 0, fmt.Errorf("SPIFFE ID mismatch: expected %s, got %s", id, svid.ID)
	}

	hash := sv.calculateSVIDHash(svid.Certificates[0].Raw)

	slog.Info("identity: verified device SVID", "device_id", deviceID, "spiffe_id", spiffeID, "hash", hash)
	return hash, nil
}

// calculateSVIDHash calculates a 64-bit hash of the SVID certificate
func (sv *SPIFFEVerifier) calculateSVIDHash(certDER []byte) uint64 {
	hash := sha256.Sum256(certDER)

	// Take first 8 bytes as uint64
	var result uint64
	for i := 0; i < 8; i++ {
		result = (result << 8) | uint64(hash[i])
	}

	return result
}

// GetTLSConfig returns TLS config with SPIFFE authentication
func (sv *SPIFFEVerifier) GetTLSConfig() (*tls.Config, error) {
	// Create TLS config for mTLS
	tlsConf := tlsconfig.MTLSServerConfig(sv.source, sv.source, tlsconfig.AuthorizeAny())
	return tlsConf, nil
}

// Close cleanup
func (sv *SPIFFEVerifier) Close() error {
	return sv.source.Close()
}

// GenerateSPIFFEID generates a SPIFFE ID for a device in the given trust
// domain.
func GenerateSPIFFEID(trustDomain, deviceID string) string {
	return fmt.Sprintf("spiffe://%s%s%s", trustDomain, devicePathPrefix, deviceID)
}

// Example SPIFFE IDs:
// spiffe://fleet.example.com/device/adisk-rack3-07
// spiffe://fleet.example.com/device/adisk-edge-114
