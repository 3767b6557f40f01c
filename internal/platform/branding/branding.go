// Package branding centralizes product naming shared across surfaces.
package branding

// AppName is the user-facing product name.
const AppName = "Hallpass"

// Issuer is the label embedded in otpauth provisioning URIs.
const Issuer = "Hallpass"
