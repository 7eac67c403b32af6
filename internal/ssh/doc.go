// Package ssh holds the client-side pieces for reaching tunnel targets
// through an SSH server: authentication, known_hosts verification and the
// transport handshake. Channel multiplexing lives in the dialer package.
package ssh
