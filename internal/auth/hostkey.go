package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrUnknownHostKey is returned when the server presents a key that is not
// listed in known_hosts. Keys are never trusted on first use.
var ErrUnknownHostKey = errors.New("host key is not in known_hosts")

// ErrHostKeyMismatch is returned when known_hosts lists a different key for the host.
var ErrHostKeyMismatch = errors.New("host key does not match known_hosts")

// HostKeyCallback builds a callback that accepts only keys present in the
// given known_hosts file.
func HostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", knownHostsPath, err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) {
			if len(keyErr.Want) == 0 {
				return fmt.Errorf("%w: %s (%s %s) in %s: %w", ErrUnknownHostKey, hostname,
					key.Type(), ssh.FingerprintSHA256(key), knownHostsPath, keyErr)
			}
			return fmt.Errorf("%w: %s presented %s, expected %s:%d: %w", ErrHostKeyMismatch, hostname,
				ssh.FingerprintSHA256(key), keyErr.Want[0].Filename, keyErr.Want[0].Line, keyErr)
		}
		return err
	}, nil
}

// KnownHostKeyAlgorithms returns the key types known_hosts lists for address so
// the server is asked for a key that can actually be checked. It returns nil
// when the host is unknown, leaving the library defaults in place.
func KnownHostKeyAlgorithms(cb ssh.HostKeyCallback, address string) []string {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil
	}
	port, _ := strconv.Atoi(portStr)

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil
	}
	probe, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4zero
	}

	err = cb(address, &net.TCPAddr{IP: ip, Port: port}, probe)
	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return nil
	}

	seen := make(map[string]bool)
	var algos []string
	for _, known := range keyErr.Want {
		for _, algo := range algorithmsForKeyType(known.Key.Type()) {
			if !seen[algo] {
				seen[algo] = true
				algos = append(algos, algo)
			}
		}
	}
	return algos
}

// algorithmsForKeyType maps a key type to the signature algorithms that can
// be negotiated for it.
func algorithmsForKeyType(keyType string) []string {
	switch keyType {
	case ssh.KeyAlgoRSA:
		return []string{ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSA}
	default:
		return []string{keyType}
	}
}
