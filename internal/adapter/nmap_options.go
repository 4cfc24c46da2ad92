package adapter

import "time"

// VerifierOption is a functional option for configuring NmapVerifier
type VerifierOption func(*NmapVerifier)

// WithVerifyTarget sets the address the listeners are scanned on
func WithVerifyTarget(target string) VerifierOption {
	return func(v *NmapVerifier) {
		if target != "" {
			v.target = target
		}
	}
}

// WithScanTimeout bounds the whole nmap run
func WithScanTimeout(d time.Duration) VerifierOption {
	return func(v *NmapVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithNmapBinary overrides the nmap executable
func WithNmapBinary(path string) VerifierOption {
	return func(v *NmapVerifier) {
		if path != "" {
			v.binaryPath = path
		}
	}
}

// WithServiceDetection enables or disables service version detection (-sV)
func WithServiceDetection(enabled bool) VerifierOption {
	return func(v *NmapVerifier) {
		v.serviceDetection = enabled
	}
}
