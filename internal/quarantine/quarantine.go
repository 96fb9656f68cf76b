// Package quarantine clears the attribute Gatekeeper stamps on downloaded
// bundles. Together with an ad-hoc re-sign this is the remediation for the
// "app is damaged" dialog; no resources are patched on that path.
package quarantine

// Attr is the extended attribute Gatekeeper sets on downloaded files.
const Attr = "com.apple.quarantine"
