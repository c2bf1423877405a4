package identity

import (
	"testing"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/stretchr/testify/require"
)

func TestVerifyDevicePathAcceptsMatchingDevice(t *testing.T) {
	id, err := spiffeid.FromString(GenerateSPIFFEID("fleet.example.com", "adisk-rack3-07"))
	require.NoError(t, err)
	require.NoError(t, verifyDevicePath(id, "adisk-rack3-07"))
}

func TestVerifyDevicePathRejectsDifferentDevice(t *testing.T) {
	id, err := spiffeid.FromString(GenerateSPIFFEID("fleet.example.com", "adisk-rack3-07"))
	require.NoError(t, err)

	err = verifyDevicePath(id, "adisk-edge-114")
	require.Error(t, err, "an ID naming one device must not verify for a different device's cookie")
}

func TestVerifyDevicePathRejectsNonDeviceWorkload(t *testing.T) {
	id, err := spiffeid.FromString("spiffe://fleet.example.com/dashboard/preview")
	require.NoError(t, err)

	err = verifyDevicePath(id, "dashboard")
	require.Error(t, err, "a non-device workload ID must never verify as a device")
}
