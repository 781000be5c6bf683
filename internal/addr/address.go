// Package addr parses and builds the textual bus addresses every envelope
// carries: opensrf:<purpose>:<username>:<domain>:<remainder>.
package addr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Purpose is the routing-significant second field of an address.
type Purpose string

const (
	Client  Purpose = "client"
	Service Purpose = "service"
	Router  Purpose = "router"
)

const prefix = "opensrf"

// Address is a parsed bus address. Remainder holds whatever the purpose
// puts there: a service name for Service, nothing for Router, and
// hostname:pid:rand8 for Client.
type Address struct {
	Purpose   Purpose
	Username  string
	Domain    string
	Remainder string
}

func (a Address) String() string {
	if a.Remainder == "" {
		return fmt.Sprintf("%s:%s:%s:%s", prefix, a.Purpose, a.Username, a.Domain)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s", prefix, a.Purpose, a.Username, a.Domain, a.Remainder)
}

// Service returns the service name carried in a Service-purpose address's
// remainder.
func (a Address) Service() string {
	return a.Remainder
}

// Parse splits a textual address into its fields. It accepts both the
// router form (no remainder) and the service/client forms (remainder
// present, itself possibly containing further ':'-separated parts).
func Parse(s string) (Address, error) {
	parts := strings.SplitN(s, ":", 5)
	if len(parts) < 4 || parts[0] != prefix {
		return Address{}, fmt.Errorf("addr: malformed address %q", s)
	}
	a := Address{
		Purpose:  Purpose(parts[1]),
		Username: parts[2],
		Domain:   parts[3],
	}
	if len(parts) == 5 {
		a.Remainder = parts[4]
	}
	switch a.Purpose {
	case Client, Service, Router:
	default:
		return Address{}, fmt.Errorf("addr: unknown purpose %q in %q", a.Purpose, s)
	}
	return a, nil
}

// NewRouter builds the well-known router address for a domain.
func NewRouter(username, domain string) Address {
	return Address{Purpose: Router, Username: username, Domain: domain}
}

// NewService builds the well-known listening address for a service.
func NewService(username, domain, service string) Address {
	return Address{Purpose: Service, Username: username, Domain: domain, Remainder: service}
}

// NewClient builds a unique per-process client address:
// opensrf:client:<username>:<domain>:<hostname>:<pid>:<rand8>.
func NewClient(username, domain string) Address {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return Address{
		Purpose:   Client,
		Username:  username,
		Domain:    domain,
		Remainder: fmt.Sprintf("%s:%d:%s", host, os.Getpid(), rand8()),
	}
}

func rand8() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}
