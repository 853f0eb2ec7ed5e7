package security

import "testing"

func TestValidateEndpointURLRejectsPrivateAndLoopback(t *testing.T) {
	bad := []string{
		"http://localhost:8080/predict",
		"http://127.0.0.1:8080/predict",
		"http://10.0.0.5/predict",
		"http://169.254.169.254/predict",
		"http://metadata.google.internal/predict",
		"ftp://example.com/predict",
		"not-a-url",
	}
	for _, u := range bad {
		if err := ValidateEndpointURL(u); err == nil {
			t.Errorf("expected %q to be rejected", u)
		}
	}
}

func TestValidateEndpointURLAcceptsPublicHTTPS(t *testing.T) {
	if err := ValidateEndpointURL("https://model.example.com/predict"); err != nil {
		t.Errorf("expected public https URL to be accepted, got %v", err)
	}
}
