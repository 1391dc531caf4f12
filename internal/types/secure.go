package types

const redacted = "***REDACTED***"

// SecretString holds a credential (database URL, provider API key) and
// redacts itself wherever it is formatted or serialized. Use Unmask at the
// single point where the raw value is handed to a driver or HTTP header.
type SecretString string

// String returns the redacted placeholder.
func (s SecretString) String() string {
	return redacted
}

// GoString keeps %#v from leaking the value.
func (s SecretString) GoString() string {
	return redacted
}

// MarshalJSON encodes the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
