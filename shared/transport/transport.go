// Package transport implements TransportLocation, the discriminated
// address value (UNIX path or TCP4 host+optional port) that every Chord
// endpoint is described by, carrying the logical server-name used for
// TLS SNI and certificate CN matching.
package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/chordhq/chord/shared/chorderr"
)

// Kind discriminates the two address families a TransportLocation can
// carry.
type Kind int

const (
	Invalid Kind = iota
	Unix
	Tcp4
)

func (k Kind) String() string {
	switch k {
	case Unix:
		return "Unix"
	case Tcp4:
		return "Tcp4"
	default:
		return "Invalid"
	}
}

// ParseTransportType maps the literals "Unix"|"Tcp4" (as used by the
// --listen-transport flag) to a Kind.
func ParseTransportType(s string) (Kind, error) {
	switch s {
	case "Unix":
		return Unix, nil
	case "Tcp4":
		return Tcp4, nil
	default:
		return Invalid, chorderr.New(chorderr.InvalidConfiguration, fmt.Sprintf("unknown transport type %q", s))
	}
}

// Location is a pure value type describing one Chord endpoint address.
type Location struct {
	kind       Kind
	serverName string
	path       string // Unix only
	address    string // Tcp4 only
	port       int    // Tcp4 only; 0 means unset
}

// ForUnix builds a UNIX-domain-socket location. path must be absolute.
func ForUnix(serverName, path string) (Location, error) {
	if serverName == "" {
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, "server-name must not be empty")
	}
	if path == "" {
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, "unix path must not be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, "unix path must be absolute")
	}
	return Location{kind: Unix, serverName: serverName, path: path}, nil
}

// ForTcp4 builds a TCP4 location. port of 0 means "unset"; callers that
// need a bound port should pass the one the listener actually chose.
func ForTcp4(serverName, address string, port int) (Location, error) {
	if serverName == "" {
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, "server-name must not be empty")
	}
	if address == "" {
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, "tcp4 address must not be empty")
	}
	if port < 0 || port > 65535 {
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, fmt.Sprintf("tcp4 port %d out of range", port))
	}
	return Location{kind: Tcp4, serverName: serverName, address: address, port: port}, nil
}

// FromURL parses a full URI of the form "unix://<server-name><path>" or
// "tcp4://<server-name>@<address>[:<port>]".
func FromURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, chorderr.Wrap(chorderr.InvalidConfiguration, "malformed transport url", err)
	}
	switch u.Scheme {
	case "unix":
		if u.Host == "" {
			return Location{}, chorderr.New(chorderr.InvalidConfiguration, "unix url missing server-name host component")
		}
		return ForUnix(u.Host, u.Path)
	case "tcp4":
		serverName := u.User.Username()
		if serverName == "" {
			return Location{}, chorderr.New(chorderr.InvalidConfiguration, "tcp4 url missing server-name userinfo component")
		}
		host := u.Hostname()
		portStr := u.Port()
		port := 0
		if portStr != "" {
			port, err = strconv.Atoi(portStr)
			if err != nil {
				return Location{}, chorderr.Wrap(chorderr.InvalidConfiguration, "tcp4 port is not numeric", err)
			}
		}
		return ForTcp4(serverName, host, port)
	case "":
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, "transport url missing scheme")
	default:
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, fmt.Sprintf("unknown transport url scheme %q", u.Scheme))
	}
}

// FromString parses a "partial" endpoint form, as accepted by
// --listen-endpoint when it does not carry a full URI: for Unix, raw is
// the socket path; for Tcp4, raw is "host" or "host:port". serverName
// must be supplied by the caller (typically the loaded certificate's
// CN) since a partial form carries none.
func FromString(raw string, kind Kind, serverName string) (Location, error) {
	switch kind {
	case Unix:
		return ForUnix(serverName, raw)
	case Tcp4:
		host := raw
		port := 0
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			n, err := strconv.Atoi(p)
			if err != nil {
				return Location{}, chorderr.Wrap(chorderr.InvalidConfiguration, "tcp4 port is not numeric", err)
			}
			port = n
		}
		return ForTcp4(serverName, host, port)
	default:
		return Location{}, chorderr.New(chorderr.InvalidConfiguration, fmt.Sprintf("unknown transport kind %v", kind))
	}
}

// Kind reports the address family.
func (l Location) Kind() Kind { return l.kind }

// ServerName reports the logical name used for TLS SNI and CN matching.
func (l Location) ServerName() string { return l.serverName }

// Path reports the UNIX socket path; only meaningful when Kind() == Unix.
func (l Location) Path() string { return l.path }

// Address reports the TCP4 host; only meaningful when Kind() == Tcp4.
func (l Location) Address() string { return l.address }

// Port reports the TCP4 port, or 0 if unset; only meaningful when
// Kind() == Tcp4.
func (l Location) Port() int { return l.port }

// HasPort reports whether a TCP4 location carries an explicit port.
func (l Location) HasPort() bool { return l.kind == Tcp4 && l.port != 0 }

// ToURL renders the full URI form, including the server-name.
func (l Location) ToURL() string {
	switch l.kind {
	case Unix:
		return fmt.Sprintf("unix://%s%s", l.serverName, l.path)
	case Tcp4:
		if l.port != 0 {
			return fmt.Sprintf("tcp4://%s@%s:%d", l.serverName, l.address, l.port)
		}
		return fmt.Sprintf("tcp4://%s@%s", l.serverName, l.address)
	default:
		return ""
	}
}

// ToString renders a compact, server-name-free form suitable for logs.
func (l Location) ToString() string {
	switch l.kind {
	case Unix:
		return "unix:" + l.path
	case Tcp4:
		if l.port != 0 {
			return fmt.Sprintf("tcp4:%s:%d", l.address, l.port)
		}
		return "tcp4:" + l.address
	default:
		return "invalid"
	}
}

// ToTarget renders the form accepted by the gRPC client library's
// grpc.NewClient / net.Listen.
func (l Location) ToTarget() string {
	switch l.kind {
	case Unix:
		return "unix:" + l.path
	case Tcp4:
		return fmt.Sprintf("%s:%d", l.address, l.port)
	default:
		return ""
	}
}

func (l Location) String() string { return l.ToString() }
