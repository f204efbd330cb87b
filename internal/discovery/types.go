package discovery

import (
	"fmt"
	"net"
	"strings"
)

// IdentityKey is the TXT key carrying the plug MAC.
const IdentityKey = "id"

// Service is a raw service announcement as reported by the notifier.
type Service struct {
	Name      string
	HostName  string
	Addresses []net.IP
	Port      int
	Text      map[string]string
}

// Record is a resolved plug location.
type Record struct {
	Identity string `json:"mac"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Name     string `json:"name"`
}

// IntentKind classifies an Intent.
type IntentKind int

const (
	IntentAdd IntentKind = iota + 1
	IntentUpdate
	IntentRemove
)

// String returns the lowercase intent name.
func (k IntentKind) String() string {
	switch k {
	case IntentAdd:
		return "add"
	case IntentUpdate:
		return "update"
	case IntentRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Intent is one debounced discovery outcome. Record is nil for a removal
// of a service that was never resolved.
type Intent struct {
	Kind   IntentKind
	Name   string
	Record *Record
}

// Resolve turns a Service into a Record. IPv4 addresses are preferred,
// then IPv6, then the advertised host name.
//
// Returns:
//   - Record: The resolved location
//   - error: ErrUnresolved when the identity or every address is missing
func (s Service) Resolve() (Record, error) {
	id := strings.TrimSpace(s.Text[IdentityKey])
	if id == "" {
		return Record{}, fmt.Errorf("%w: %s has no %q TXT entry", ErrUnresolved, s.Name, IdentityKey)
	}

	host := preferredAddress(s.Addresses)
	if host == "" {
		host = strings.TrimSuffix(s.HostName, ".")
	}
	if host == "" {
		return Record{}, fmt.Errorf("%w: %s has no address", ErrUnresolved, s.Name)
	}

	return Record{Identity: id, Host: host, Port: s.Port, Name: s.Name}, nil
}

// preferredAddress returns the first IPv4 address, else the first address,
// else "".
func preferredAddress(addrs []net.IP) string {
	for _, ip := range addrs {
		if ip.To4() != nil {
			return ip.String()
		}
	}
	if len(addrs) > 0 {
		return addrs[0].String()
	}
	return ""
}

// ParseText converts zeroconf TXT strings ("key=value") into a map. Keys
// without "=" map to "".
func ParseText(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, entry := range txt {
		key, value, _ := strings.Cut(entry, "=")
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
